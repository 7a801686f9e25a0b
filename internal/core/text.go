package core

import "strings"

// textColumns is the fixed layout of a plain-text dataset.
var textColumns = []ColumnDescriptor{
	{Name: "id", Type: TypeNumber},
	{Name: "text", Type: TypeString},
}

// parseText produces one row per non-blank line with a 1-based id.
// No inference runs; the columns are always id and text.
func parseText(text string) *ParsedDataset {
	lines := strings.Split(text, "\n")
	rows := make([]ParsedRow, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		row := newParsedRow(2)
		row.set("id", len(rows)+1)
		row.set("text", line)
		rows = append(rows, row)
	}

	cols := make([]ColumnDescriptor, len(textColumns))
	copy(cols, textColumns)

	return &ParsedDataset{
		Rows:    rows,
		Columns: cols,
	}
}
