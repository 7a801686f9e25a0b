package core

import (
	"bytes"
	"io"
	"time"

	gojson "github.com/goccy/go-json"
)

// ColumnType is the semantic type inferred for a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
)

// Format identifies the parsing strategy chosen from a file extension.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatText Format = "txt"
)

// SupportedExtensions lists accepted extensions in the order shown to users.
var SupportedExtensions = []string{".csv", ".json", ".txt"}

// ColumnDescriptor describes one column of a parsed dataset.
type ColumnDescriptor struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// ParsedRow maps column names to raw values (string, float64, bool, nil, or
// a decoded nested JSON value). Key order follows the source file.
//
// A ParsedRow is immutable once the parser returns it.
type ParsedRow struct {
	keys   []string
	values map[string]any
}

func newParsedRow(capacity int) ParsedRow {
	return ParsedRow{
		keys:   make([]string, 0, capacity),
		values: make(map[string]any, capacity),
	}
}

// set appends key (or overwrites it in place when already present).
func (r *ParsedRow) set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// NewParsedRow builds a row from alternating key/value pairs. It is meant
// for tests and fixtures; odd trailing keys get a nil value.
func NewParsedRow(kv ...any) ParsedRow {
	row := newParsedRow(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		key, _ := kv[i].(string)
		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		row.set(key, v)
	}
	return row
}

// Get returns the value stored under key.
func (r ParsedRow) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns column names in source order.
func (r ParsedRow) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of values in the row.
func (r ParsedRow) Len() int { return len(r.keys) }

// Map returns a copy of the row as a plain map. Engines consume this form.
func (r ParsedRow) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the row as an object with keys in source order.
func (r ParsedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := gojson.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DatasetSummary holds derived statistics for a parsed dataset.
type DatasetSummary struct {
	RowCount         int     `json:"rowCount"`
	ColumnCount      int     `json:"columnCount"`
	MemoryUsageMB    float64 `json:"memoryUsageMB"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

// ParsedDataset is the result of one successful parse. A new upload
// replaces it wholesale; it is never mutated.
type ParsedDataset struct {
	Rows    []ParsedRow        `json:"rows"`
	Columns []ColumnDescriptor `json:"columns"`
	Errors  []string           `json:"errors"`
	Summary DatasetSummary     `json:"summary"`
}

// ColumnNames returns the dataset's column names in order.
func (d *ParsedDataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Records returns every row as a plain map, the shape engines accept.
func (d *ParsedDataset) Records() []map[string]any {
	out := make([]map[string]any, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Map()
	}
	return out
}

// File is an uploaded file awaiting parsing.
type File struct {
	Name   string    // Original file name; only the extension is significant
	Size   int64     // Declared size in bytes, 0 if unknown
	Reader io.Reader // File content
}

// Dataset is a parsed dataset as held by the service.
type Dataset struct {
	ID         string         `json:"id"`
	FileName   string         `json:"fileName"`
	Format     Format         `json:"format"`
	UploadedAt time.Time      `json:"uploadedAt"`
	Data       *ParsedDataset `json:"data"`
}
