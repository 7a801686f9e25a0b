package core

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCSV implements the line-oriented CSV strategy.
//
// It is deliberately naive: lines are split on '\n' and fields on ',', so a
// quoted field containing a comma is split like any other. Each field is
// trimmed of whitespace and then of a leading and a trailing double quote.
// Values are kept as strings; typing happens in inference.
func parseCSV(text string, sampleSize int) (*ParsedDataset, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	lines := strings.Split(text, "\n")
	headers, warnings := normalizeHeaders(splitCSVLine(lines[0]))

	rows := make([]ParsedRow, 0, len(lines)-1)
	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitCSVLine(line)
		if extra := len(fields) - len(headers); extra > 0 {
			warnings = append(warnings, fmt.Sprintf("line %d: %d extra fields ignored", i+2, extra))
		}

		row := newParsedRow(len(headers))
		for j, h := range headers {
			v := ""
			if j < len(fields) {
				v = fields[j]
			}
			row.set(h, v)
		}
		rows = append(rows, row)
	}

	return &ParsedDataset{
		Rows:    rows,
		Columns: InferColumns(rows, headers, sampleSize),
		Errors:  warnings,
	}, nil
}

func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, `"`)
		p = strings.TrimSuffix(p, `"`)
		parts[i] = p
	}
	return parts
}

// normalizeHeaders names blank headers after their position and suffixes
// repeated names so that every column keeps its own values.
func normalizeHeaders(raw []string) ([]string, []string) {
	var warnings []string
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))

	for i, h := range raw {
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		if n := seen[h]; n > 0 {
			renamed := h + "_" + strconv.Itoa(n+1)
			warnings = append(warnings, fmt.Sprintf("duplicate column %q renamed to %q", h, renamed))
			seen[h] = n + 1
			h = renamed
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out, warnings
}
