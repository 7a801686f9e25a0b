package core

import (
	"context"
	"time"
)

// DefaultMaxFileSizeMB is the size ceiling used when a Parser has none set.
const DefaultMaxFileSizeMB = 50

const bytesPerMB = 1024 * 1024

// Parser turns an uploaded file into a ParsedDataset.
//
// A Parser holds no state between calls and is safe for concurrent use.
type Parser struct {
	MaxFileSizeMB int // Size ceiling in megabytes; <= 0 uses DefaultMaxFileSizeMB
	SampleSize    int // Rows fed to type inference; <= 0 uses DefaultSampleSize
}

// NewParser creates a parser with the given limits.
func NewParser(maxFileSizeMB, sampleSize int) *Parser {
	return &Parser{MaxFileSizeMB: maxFileSizeMB, SampleSize: sampleSize}
}

func (p *Parser) maxMB() int {
	if p == nil || p.MaxFileSizeMB <= 0 {
		return DefaultMaxFileSizeMB
	}
	return p.MaxFileSizeMB
}

func (p *Parser) sampleSize() int {
	if p == nil || p.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return p.SampleSize
}

// Parse reads f and dispatches on its extension.
//
// The extension and declared size are checked before any content is read.
// No partial dataset is returned on error. Summary.ProcessingTimeMs is left
// at zero; callers that want it use ParseTimed.
func (p *Parser) Parse(ctx context.Context, f File) (*ParsedDataset, error) {
	format, err := FormatFor(f.Name)
	if err != nil {
		return nil, err
	}

	maxMB := p.maxMB()
	limit := int64(maxMB) * bytesPerMB
	if f.Size > limit {
		return nil, fileTooLargeError(maxMB)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, n, err := readText(f.Reader, limit, maxMB)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := p.parseText(format, text)
	if err != nil {
		return nil, err
	}

	if ds.Errors == nil {
		ds.Errors = []string{}
	}
	ds.Summary = DatasetSummary{
		RowCount:      len(ds.Rows),
		ColumnCount:   len(ds.Columns),
		MemoryUsageMB: float64(n) / bytesPerMB,
	}
	return ds, nil
}

// ParseTimed runs Parse and merges the wall-clock duration into the summary.
func (p *Parser) ParseTimed(ctx context.Context, f File) (*ParsedDataset, error) {
	start := time.Now()
	ds, err := p.Parse(ctx, f)
	if err != nil {
		return nil, err
	}
	ds.Summary.ProcessingTimeMs = elapsedMs(start)
	return ds, nil
}

func (p *Parser) parseText(format Format, text string) (*ParsedDataset, error) {
	switch format {
	case FormatCSV:
		return parseCSV(text, p.sampleSize())
	case FormatJSON:
		return parseJSON(text, p.sampleSize())
	default:
		return parseText(text), nil
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
