package core

// infer.go decides a semantic type per column from a bounded sample.
//
// The decision only looks at the first SampleSize rows. A column that is
// numeric for ten rows and textual afterwards is reported as number; the
// dataset is never re-validated against the inferred type.

import (
	"math"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// DefaultSampleSize is how many leading rows feed type inference.
const DefaultSampleSize = 10

// dateLayouts are the date-time shapes accepted as TypeDate, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// Inference is the outcome of inspecting one column sample.
type Inference struct {
	Type ColumnType
	// Confidence is Sampled divided by the sample size, the share of the
	// window that held a value (0 when every sampled cell was empty).
	Confidence float64
	// Sampled counts the non-empty values the decision was based on.
	Sampled int
	// Nulls counts the empty or null values discarded from the window.
	Nulls int
}

// InferColumnType classifies a bounded sample of raw values.
//
// Empty strings and nils are discarded. Remaining values are tested in
// priority order: all finite numbers, then all true/false, then all
// date-times; anything else is a string. An empty sample is a string.
// The sample size is len(sample).
func InferColumnType(sample []any) Inference {
	return InferColumnTypeWindow(sample, len(sample))
}

// InferColumnTypeWindow is InferColumnType for a sample drawn from a window
// of sampleSize rows, which may be larger than the sample when the dataset
// is short.
func InferColumnTypeWindow(sample []any, sampleSize int) Inference {
	sampleSize = max(sampleSize, len(sample))

	values := make([]any, 0, len(sample))
	for _, v := range sample {
		if isEmptyValue(v) {
			continue
		}
		values = append(values, v)
	}

	inf := Inference{
		Type:    TypeString,
		Sampled: len(values),
		Nulls:   len(sample) - len(values),
	}
	if sampleSize > 0 {
		inf.Confidence = float64(len(values)) / float64(sampleSize)
	}
	if len(values) == 0 {
		return inf
	}

	switch {
	case allMatch(values, isNumberValue):
		inf.Type = TypeNumber
	case allMatch(values, isBooleanValue):
		inf.Type = TypeBoolean
	case allMatch(values, isDateValue):
		inf.Type = TypeDate
	}
	return inf
}

// InferColumns builds descriptors for names using the first sampleSize rows.
// A missing key in a row counts as an empty value.
func InferColumns(rows []ParsedRow, names []string, sampleSize int) []ColumnDescriptor {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	window := rows
	if len(window) > sampleSize {
		window = window[:sampleSize]
	}

	cols := make([]ColumnDescriptor, len(names))
	sample := make([]any, len(window))
	for i, name := range names {
		for j, row := range window {
			v, _ := row.Get(name)
			sample[j] = v
		}
		inf := InferColumnTypeWindow(sample, sampleSize)
		cols[i] = ColumnDescriptor{
			Name:     name,
			Type:     inf.Type,
			Nullable: inf.Nulls > 0,
		}
	}
	return cols
}

func allMatch(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func isNumberValue(v any) bool {
	switch t := v.(type) {
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case int, int64:
		return true
	case gojson.Number:
		f, err := t.Float64()
		return err == nil && !math.IsInf(f, 0)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return false
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return false
}

func isBooleanValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return true
	case string:
		return t == "true" || t == "false"
	}
	return false
}

func isDateValue(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, ok = ParseDate(s)
	return ok
}

// ParseDate parses s with the first matching accepted layout.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
