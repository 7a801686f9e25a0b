package web

// errors.go turns handler errors into responses.
//
// Every error is logged with the request ID and mapped through
// core.MapError. The client then gets one of:
//   - an inline alert fragment for HTMX requests (the upload form swaps it
//     in next to the file input)
//   - JSON for /api routes and clients that ask for it
//   - plain text otherwise

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JonMunkholm/prism/internal/core"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/loader"
	"github.com/JonMunkholm/prism/internal/logging"
	"github.com/JonMunkholm/prism/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor picks the HTTP status for err. Handlers pass it to respondError
// unless they know better.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrNoFile),
		errors.Is(err, errInvalidRequest),
		errors.Is(err, core.ErrEmptyInput),
		errors.Is(err, core.ErrMalformedInput),
		errors.Is(err, core.ErrInvalidShape):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoDataset):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyUploads),
		errors.Is(err, core.ErrEngineNotLoaded),
		errors.Is(err, engine.ErrNotInitialized),
		errors.Is(err, loader.ErrAllAttemptsExhausted),
		errors.Is(err, loader.ErrDependencyUnavailable),
		errors.Is(err, loader.ErrEngineNotFound),
		errors.Is(err, loader.ErrScriptLoadError):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, loader.ErrScriptLoadTimeout),
		errors.Is(err, loader.ErrWaitTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		_ = templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
	case wantsJSON(r):
		resp := ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
		// Known errors carry details such as the rejected extension.
		if core.IsUserFacing(err) {
			resp.Detail = err.Error()
		}
		writeJSON(w, statusCode, resp)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
	}
}

// errInvalidRequest marks a request body the handler could not use.
var errInvalidRequest = errors.New("invalid request")

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
