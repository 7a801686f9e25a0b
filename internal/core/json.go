package core

import (
	"errors"
	"fmt"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"
)

// maxJSONDepth caps array and object nesting. Deeper documents are
// rejected as malformed before any decoding starts.
const maxJSONDepth = 512

var errJSONTooDeep = errors.New("json nesting exceeds limit")

// parseJSON implements the JSON strategy.
//
// The document is walked token by token so that each row keeps its keys in
// source order. An array becomes one row per element; a lone object becomes
// a one-row dataset. Columns come from the first row's keys only: later rows
// with extra keys keep those values but do not add columns.
func parseJSON(text string, sampleSize int) (*ParsedDataset, error) {
	if err := checkNesting(text, maxJSONDepth); err != nil {
		return nil, ErrMalformedInput
	}

	dec := gojson.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	doc, err := decodeOrdered(dec, 0)
	if err != nil {
		return nil, ErrMalformedInput
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrMalformedInput
	}

	var records []ParsedRow
	switch v := doc.(type) {
	case []any:
		records = make([]ParsedRow, 0, len(v))
		for i, elem := range v {
			obj, ok := elem.(ParsedRow)
			if !ok {
				return nil, invalidShapeError(fmt.Sprintf("%s at index %d", jsonKind(elem), i))
			}
			records = append(records, obj)
		}
	case ParsedRow:
		records = []ParsedRow{v}
	default:
		return nil, invalidShapeError(jsonKind(doc))
	}

	var names []string
	if len(records) > 0 {
		names = records[0].Keys()
	}

	rows := make([]ParsedRow, len(records))
	for i, rec := range records {
		row := newParsedRow(rec.Len())
		for _, k := range rec.keys {
			row.set(k, plainValue(rec.values[k]))
		}
		for _, name := range names {
			if _, ok := row.values[name]; !ok {
				row.set(name, "")
			}
		}
		rows[i] = row
	}

	return &ParsedDataset{
		Rows:    rows,
		Columns: InferColumns(rows, names, sampleSize),
	}, nil
}

// decodeOrdered reads one JSON value. Objects come back as ParsedRow so key
// order survives; arrays as []any; numbers as float64.
func decodeOrdered(dec *gojson.Decoder, depth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case gojson.Delim:
		if depth >= maxJSONDepth {
			return nil, errJSONTooDeep
		}
		switch t {
		case '{':
			obj := newParsedRow(8)
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key: unexpected %v", kt)
				}
				v, err := decodeOrdered(dec, depth+1)
				if err != nil {
					return nil, err
				}
				obj.set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil

		case '[':
			arr := make([]any, 0)
			for dec.More() {
				v, err := decodeOrdered(dec, depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)

	case gojson.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil

	default:
		// string, bool, float64, nil
		return t, nil
	}
}

// checkNesting scans text for brackets outside string literals and fails
// once more than limit of them are open at the same time.
func checkNesting(text string, limit int) error {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
			if depth > limit {
				return errJSONTooDeep
			}
		case ']', '}':
			depth--
		}
	}
	return nil
}

// plainValue converts nested ordered objects to plain maps so row values
// only hold types engines understand.
func plainValue(v any) any {
	switch t := v.(type) {
	case ParsedRow:
		m := make(map[string]any, t.Len())
		for _, k := range t.keys {
			m[k] = plainValue(t.values[k])
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case ParsedRow:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
