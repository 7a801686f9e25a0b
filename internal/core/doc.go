// Package core is the tabular ingestion pipeline: it turns an uploaded
// CSV, JSON or plain-text file into rows, typed columns and a summary.
//
// This package has no HTTP or UI dependencies. The web handlers and the
// prism CLI both drive it through [Parser] and [Service].
//
// # Pipeline
//
//  1. [FormatFor] picks a strategy from the file extension. Anything other
//     than .csv, .json or .txt fails before the file is read.
//  2. The content is read up to the size ceiling, a UTF-8 BOM is dropped
//     and invalid bytes are replaced.
//  3. The strategy produces rows. Every row holds every column.
//  4. [InferColumns] types each column from the first rows only.
//  5. The summary counts rows and columns and sizes the raw input.
//
// Type inference is a heuristic over a bounded sample. A column that is
// numeric for the first ten rows is a number column even if row eleven is
// text; the dataset is never re-checked.
//
// # Error Handling
//
// Parsing failures are sentinel errors ([ErrUnsupportedFormat],
// [ErrFileTooLarge], [ErrEmptyInput], [ErrMalformedInput], [ErrInvalidShape])
// wrapped with detail. [MapError] turns them, and engine failures, into a
// [UserMessage] with a support code.
package core
