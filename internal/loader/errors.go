package loader

import (
	"context"
	"errors"
)

// Load failures. Individual attempts fail with the script errors and are
// retried; callers only see them wrapped in ErrAllAttemptsExhausted, or
// not at all when the stub fallback is enabled.
var (
	ErrDependencyUnavailable = errors.New("engine dependency unavailable")
	ErrScriptLoadTimeout     = errors.New("engine script load timed out")
	ErrScriptLoadError       = errors.New("engine script failed to load")
	ErrEngineNotFound        = errors.New("engine not found after script load")
	ErrAllAttemptsExhausted  = errors.New("all engine load attempts exhausted")
	ErrWaitTimeout           = errors.New("timed out waiting for engine load")
	ErrLoadInFlight          = errors.New("engine load in progress")
)

// outcome names an attempt result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrScriptLoadTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEngineNotFound):
		return "not_found"
	default:
		return "error"
	}
}
