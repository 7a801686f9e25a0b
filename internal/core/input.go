package core

// input.go turns an uploaded file into text the parsers can split.
//
// Parsing needs the whole document (CSV splits on newlines, JSON decodes a
// single value), so content is read fully, bounded by the size ceiling.
// Windows exports frequently start with a UTF-8 BOM, which would otherwise
// end up glued to the first header name; it is stripped here. Invalid
// UTF-8 bytes are replaced with '?' so a stray byte never fails the upload.

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// countingReader tracks how many raw bytes were pulled from the source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// readText reads at most limit bytes from r. It returns the decoded text
// and the raw byte count, or ErrFileTooLarge if r holds more than limit.
// A limit <= 0 disables the ceiling.
func readText(r io.Reader, limit int64, maxMB int) (string, int64, error) {
	if r == nil {
		return "", 0, nil
	}

	counter := &countingReader{r: r}
	var src io.Reader = counter
	if limit > 0 {
		src = io.LimitReader(counter, limit+1)
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return "", counter.n, fmt.Errorf("read file: %w", err)
	}
	if limit > 0 && int64(len(raw)) > limit {
		return "", counter.n, fileTooLargeError(maxMB)
	}

	return decodeText(raw), int64(len(raw)), nil
}

// decodeText strips a leading BOM and replaces invalid UTF-8.
func decodeText(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "?")
}

// Extension returns the lowercased substring after the last '.' of name,
// including the dot, or "" when name has none.
func Extension(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// FormatFor maps a file name to its parsing strategy.
func FormatFor(name string) (Format, error) {
	switch ext := Extension(name); ext {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".txt":
		return FormatText, nil
	default:
		return "", unsupportedFormatError(ext)
	}
}
