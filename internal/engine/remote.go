package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// DefaultReadyPollInterval is how often Remote.WaitForReady asks /ready.
const DefaultReadyPollInterval = 250 * time.Millisecond

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Remote talks JSON over HTTP to a running engine.
//
// Endpoints, relative to the base URL:
//
//	POST /initialize   POST /cleanup   POST /plugins {"name"}
//	POST /process {"rows","options"}   POST /query {"sql"}
//	GET  /ready -> {"ready","progress","status"}
type Remote struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

// RemoteOption customises a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithReadyPollInterval sets how often WaitForReady polls.
func WithReadyPollInterval(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// NewRemote creates a client for the engine at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultReadyPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) IsStub() bool { return false }

// BaseURL returns the engine endpoint this client talks to.
func (r *Remote) BaseURL() string { return r.baseURL }

func (r *Remote) Initialize(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/initialize", nil, nil)
}

func (r *Remote) Cleanup(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/cleanup", nil, nil)
}

type processRequest struct {
	Rows    []map[string]any `json:"rows"`
	Options ProcessOptions   `json:"options"`
}

func (r *Remote) ProcessData(ctx context.Context, rows []map[string]any, opts ProcessOptions) (ProcessResult, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	var out ProcessResult
	err := r.do(ctx, http.MethodPost, "/process", processRequest{Rows: rows, Options: opts}, &out)
	return out, err
}

func (r *Remote) Query(ctx context.Context, sql string) (QueryResult, error) {
	var out QueryResult
	err := r.do(ctx, http.MethodPost, "/query", map[string]string{"sql": sql}, &out)
	return out, err
}

func (r *Remote) LoadPlugin(ctx context.Context, name string) error {
	return r.do(ctx, http.MethodPost, "/plugins", map[string]string{"name": name}, nil)
}

type readyResponse struct {
	Ready    bool   `json:"ready"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// WaitForReady polls /ready until the engine says so or ctx ends. Every
// poll result is forwarded to opts.OnProgress.
func (r *Remote) WaitForReady(ctx context.Context, opts ReadyOptions) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		var st readyResponse
		if err := r.do(ctx, http.MethodGet, "/ready", nil, &st); err != nil {
			return err
		}
		opts.report(Progress{Percent: st.Progress, Status: st.Status})
		if st.Ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := gojson.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRequestFailed, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: %s", ErrRequestFailed, path, errorMessage(resp))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := gojson.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrRequestFailed, path, err)
	}
	return nil
}

// errorMessage prefers an {"error": "..."} body over the bare status line.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e struct {
		Error string `json:"error"`
	}
	if gojson.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Sprintf("%s (%d)", e.Error, resp.StatusCode)
	}
	return resp.Status
}
