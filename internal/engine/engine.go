// Package engine defines the analytics engine handle and its two
// implementations: Remote, an HTTP client for a running engine, and Stub,
// an in-process stand-in installed when the real engine cannot be loaded.
//
// Callers that need to tell the two apart use IsStub; a successful load
// alone says nothing about which one they were given.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotInitialized is returned by operations called before Initialize.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrRequestFailed wraps transport and HTTP status failures from Remote.
	ErrRequestFailed = errors.New("engine request failed")
)

// Engine is the contract every engine handle satisfies.
type Engine interface {
	// Initialize must be called once before any other operation.
	Initialize(ctx context.Context) error
	// Cleanup releases engine resources. Calling it twice is harmless.
	Cleanup(ctx context.Context) error
	ProcessData(ctx context.Context, rows []map[string]any, opts ProcessOptions) (ProcessResult, error)
	Query(ctx context.Context, sql string) (QueryResult, error)
	LoadPlugin(ctx context.Context, name string) error
	// WaitForReady blocks until the engine reports ready, passing progress
	// updates to opts.OnProgress when set.
	WaitForReady(ctx context.Context, opts ReadyOptions) error
	// IsStub marks the degraded in-process implementation.
	IsStub() bool
}

// ProcessOptions selects what ProcessData does with the rows.
type ProcessOptions struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ProcessResult is the outcome of ProcessData.
type ProcessResult struct {
	ProcessedData []map[string]any `json:"processedData"`
	Summary       map[string]any   `json:"summary"`
}

// QueryResult is the outcome of Query.
type QueryResult struct {
	Data            []map[string]any `json:"data"`
	Columns         []string         `json:"columns"`
	RowCount        int              `json:"rowCount"`
	ExecutionTimeMs float64          `json:"executionTimeMs"`
}

// Progress is one readiness update.
type Progress struct {
	Percent int    `json:"progress"`
	Status  string `json:"status"`
}

// ReadyOptions configures WaitForReady.
type ReadyOptions struct {
	OnProgress func(Progress)
}

func (o ReadyOptions) report(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// Kind names the implementation behind e for logs and status output.
func Kind(e Engine) string {
	switch {
	case e == nil:
		return "none"
	case e.IsStub():
		return "stub"
	default:
		return "remote"
	}
}
