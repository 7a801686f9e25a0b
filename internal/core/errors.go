package core

import (
	"errors"
	"fmt"
	"strings"
)

// Ingestion failures. Callers match with errors.Is; messages carry the
// offending detail and are safe to show next to the upload control.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyInput        = errors.New("file is empty")
	ErrMalformedInput    = errors.New("invalid JSON format")
	ErrInvalidShape      = errors.New("invalid JSON structure")
)

func unsupportedFormatError(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions, ", "))
}

func fileTooLargeError(maxMB int) error {
	return fmt.Errorf("%w: maximum size is %dMB", ErrFileTooLarge, maxMB)
}

func invalidShapeError(got string) error {
	return fmt.Errorf("%w: expected an object or an array of objects, got %s", ErrInvalidShape, got)
}
