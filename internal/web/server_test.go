package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/core"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/loader"
	"github.com/JonMunkholm/prism/internal/metrics"
)

// fakeLoader hands out a fixed engine and state.
type fakeLoader struct {
	mu     sync.Mutex
	handle engine.Engine
	state  loader.LoaderState
	err    error
	loads  int
}

func (f *fakeLoader) Load(ctx context.Context) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

func (f *fakeLoader) Current() engine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

func (f *fakeLoader) State() loader.LoaderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLoader) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeLoader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Upload: config.UploadConfig{
			MaxFileSizeMB: 1,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			SampleSize:    10,
			Timeout:       5 * time.Second,
			PreviewRows:   100,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func readyStub(t *testing.T) engine.Engine {
	t.Helper()
	e := engine.NewStub(0)
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func loadedLoader(t *testing.T) *fakeLoader {
	return &fakeLoader{
		handle: readyStub(t),
		state:  loader.LoaderState{Phase: loader.Loaded, IsLoaded: true, Stub: true},
	}
}

type harness struct {
	srv    *Server
	svc    *core.Service
	loader *fakeLoader
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, cfg *config.Config, ld *fakeLoader) *harness {
	t.Helper()
	if ld == nil {
		ld = &fakeLoader{state: loader.LoaderState{Phase: loader.Idle}}
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := core.NewService(&cfg.Upload, ld, m)
	srv := NewServer(cfg, svc, ld, reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &harness{srv: srv, svc: svc, loader: ld, reg: reg}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, target, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestIndex_RendersUploadForm(t *testing.T) {
	h := newHarness(t, testConfig(), loadedLoader(t))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `hx-post="/api/upload"`)
	assert.Contains(t, body, "up to 1 MB")
	assert.Contains(t, body, "loaded (fallback)")
}

func TestUpload_CSV(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec := h.do(uploadRequest(t, "/api/upload", "people.csv", "name,age\nAlice,30\nBob,25\n"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DatasetResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "people.csv", resp.FileName)
	assert.Equal(t, core.FormatCSV, resp.Format)
	assert.Len(t, resp.Rows, 2)
	require.Len(t, resp.Columns, 2)
	assert.Equal(t, "name", resp.Columns[0].Name)
	assert.Equal(t, "age", resp.Columns[1].Name)
	assert.Equal(t, 2, resp.Summary.RowCount)
	assert.False(t, resp.Truncated)

	current, err := h.svc.Current()
	require.NoError(t, err)
	assert.Equal(t, resp.ID, current.ID)
}

func TestUpload_PreviewTruncates(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec := h.do(uploadRequest(t, "/api/upload?preview=1", "people.csv", "name\nA\nB\nC\n"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DatasetResponse](t, rec)
	assert.Len(t, resp.Rows, 1)
	assert.True(t, resp.Truncated)
	assert.Equal(t, 3, resp.Summary.RowCount)
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		content    string
		wantStatus int
		wantCode   string
	}{
		{"unsupported format", "data.xlsx", "a,b\n1,2\n", http.StatusUnsupportedMediaType, "FILE001"},
		{"malformed json", "data.json", "{not json", http.StatusBadRequest, "FILE004"},
		{"scalar json", "data.json", "42", http.StatusBadRequest, "FILE005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), nil)

			rec := h.do(uploadRequest(t, "/api/upload", tt.file, tt.content))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Detail)

			_, err := h.svc.Current()
			assert.ErrorIs(t, err, core.ErrNoDataset)
		})
	}
}

func TestUpload_NoFile(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := h.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE006", decode[ErrorResponse](t, rec).Code)
}

func TestUpload_TooLarge(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	big := "v\n" + strings.Repeat("x\n", (3<<20)/2)
	rec := h.do(uploadRequest(t, "/api/upload", "big.csv", big))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE002", decode[ErrorResponse](t, rec).Code)
}

func TestUpload_HTMXRendersFragments(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	req := uploadRequest(t, "/api/upload", "data.json", "[1, 2]")
	req.Header.Set("HX-Request", "true")
	rec := h.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `data-code="FILE005"`)
	assert.Contains(t, rec.Body.String(), "JSON must be an object or an array of objects")

	req = uploadRequest(t, "/api/upload", "people.csv", "name\nA\n")
	req.Header.Set("HX-Request", "true")
	rec = h.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "people.csv")
	assert.Contains(t, rec.Body.String(), `<span class="rows">1</span>`)
}

func TestDataset_GetAndClear(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/dataset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UPL004", decode[ErrorResponse](t, rec).Code)

	require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/api/upload", "a.txt", "one\ntwo\n")).Code)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/dataset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DatasetResponse](t, rec)
	assert.Equal(t, core.FormatText, resp.Format)
	assert.Len(t, resp.Rows, 2)

	rec = h.do(httptest.NewRequest(http.MethodDelete, "/api/dataset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(httptest.NewRequest(http.MethodDelete, "/api/dataset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineState(t *testing.T) {
	h := newHarness(t, testConfig(), loadedLoader(t))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/engine", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	assert.Equal(t, "loaded", st["phase"])
	assert.Equal(t, true, st["isLoaded"])
	assert.Equal(t, true, st["stub"])
}

func TestEngineLoad_Wait(t *testing.T) {
	ld := &fakeLoader{
		err:   fmt.Errorf("%w: last error: %w", loader.ErrAllAttemptsExhausted, loader.ErrScriptLoadTimeout),
		state: loader.LoaderState{Phase: loader.Failed},
	}
	h := newHarness(t, testConfig(), ld)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/load?wait=true", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ENG001", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, 1, ld.loadCount())
}

// gatedFetcher holds every fetch until release is closed.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *gatedFetcher) Preload(context.Context, string) error { return nil }

func (f *gatedFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	f.started <- struct{}{}
	select {
	case <-f.release:
		return []byte(`window.DataPrism = {};`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngineLoad_WaitOutlivesRequest(t *testing.T) {
	f := &gatedFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	ld := loader.New(
		loader.Options{Candidates: []string{"https://cdn.example/engine.js"}, Retries: 1, PollInterval: time.Millisecond},
		loader.WithFetcher(f),
		loader.WithInstaller(loader.NewBundleInstaller("DataPrism", func() engine.Engine { return engine.NewStub(0) })),
	)

	cfg := testConfig()
	reg := prometheus.NewRegistry()
	srv := NewServer(cfg, core.NewService(&cfg.Upload, ld, metrics.New(reg)), ld, reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/engine/load?wait=true", nil).WithContext(ctx)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		done <- rec
	}()

	<-f.started
	cancel() // client goes away mid-load

	rec := <-done
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Equal(t, loader.Loading, ld.State().Phase, "leaving request must not settle the shared load")

	close(f.release)
	require.Eventually(t, func() bool { return ld.State().IsLoaded }, time.Second, 5*time.Millisecond)
	assert.Empty(t, ld.State().Error)
	assert.NotNil(t, ld.Current())
}

func TestEngineLoad_Background(t *testing.T) {
	ld := &fakeLoader{handle: readyStub(t), state: loader.LoaderState{Phase: loader.Idle}}
	h := newHarness(t, testConfig(), ld)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/load", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))
	assert.Equal(t, 1, ld.loadCount())
}

func TestEngineLoad_AlreadyLoaded(t *testing.T) {
	ld := loadedLoader(t)
	h := newHarness(t, testConfig(), ld)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/load", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ld.loadCount())
}

func TestEnginePage(t *testing.T) {
	t.Run("failed load shows error page", func(t *testing.T) {
		ld := &fakeLoader{
			err:   fmt.Errorf("%w: %w", loader.ErrAllAttemptsExhausted, loader.ErrScriptLoadError),
			state: loader.LoaderState{Phase: loader.Failed},
		}
		h := newHarness(t, testConfig(), ld)

		rec := h.do(httptest.NewRequest(http.MethodGet, "/engine", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "<!DOCTYPE html>")
		assert.Contains(t, body, "The analytics engine could not be loaded")
		assert.Contains(t, body, "Code: ENG001")
		assert.Contains(t, body, "Reload")
	})

	t.Run("healthy engine redirects home", func(t *testing.T) {
		h := newHarness(t, testConfig(), loadedLoader(t))

		rec := h.do(httptest.NewRequest(http.MethodGet, "/engine", nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestEngineReady_StreamsProgress(t *testing.T) {
	h := newHarness(t, testConfig(), loadedLoader(t))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/engine/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"progress":100`)
	assert.True(t, strings.HasSuffix(body, "event: ready\ndata: {}\n\n"), body)
}

func TestEngineReady_NotLoaded(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/engine/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ENG007", decode[ErrorResponse](t, rec).Code)
}

func TestProcess(t *testing.T) {
	t.Run("no dataset", func(t *testing.T) {
		h := newHarness(t, testConfig(), loadedLoader(t))

		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/process", strings.NewReader(`{"type":"analyze"}`)))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "UPL004", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("no engine", func(t *testing.T) {
		h := newHarness(t, testConfig(), nil)
		require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/api/upload", "a.csv", "x\n1\n")).Code)

		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/process", strings.NewReader(`{"type":"analyze"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "ENG007", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("bad body", func(t *testing.T) {
		h := newHarness(t, testConfig(), loadedLoader(t))

		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/process", strings.NewReader(`{`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "REQ001", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("stub echoes rows", func(t *testing.T) {
		h := newHarness(t, testConfig(), loadedLoader(t))
		require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/api/upload", "a.csv", "x\n1\n2\n")).Code)

		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/process", strings.NewReader(`{"type":"analyze"}`)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res := decode[engine.ProcessResult](t, rec)
		assert.Len(t, res.ProcessedData, 2)
		assert.Equal(t, "analyze", res.Summary["type"])
	})
}

func TestQuery(t *testing.T) {
	h := newHarness(t, testConfig(), loadedLoader(t))

	rec := h.do(httptest.NewRequest(http.MethodPost, "/api/engine/query", strings.NewReader(`{"sql":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", decode[ErrorResponse](t, rec).Code)

	rec = h.do(httptest.NewRequest(http.MethodPost, "/api/engine/query", strings.NewReader(`{"sql":"SELECT * FROM data"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[engine.QueryResult](t, rec)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, []string{"id", "name", "value"}, res.Columns)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, testConfig(), loadedLoader(t))
	require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/api/upload", "a.csv", "x\n1\n")).Code)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatusResponse](t, rec)
	assert.Equal(t, loader.Loaded, resp.Engine.Phase)
	assert.Equal(t, 2, resp.Uploads.MaxConcurrent)
	assert.NotEmpty(t, resp.DatasetID)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	h := newHarness(t, cfg, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/engine", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/engine", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, h.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/engine", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, h.do(req).Code)

	// Pages stay public.
	assert.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	h := newHarness(t, cfg, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/engine", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)

	other := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, h.do(other).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/api/upload", "a.csv", "x\n1\n")).Code)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `prism_ingest_uploads_total{format="csv",status="success"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	h := newHarness(t, cfg, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", core.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{core.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{core.ErrEmptyInput, http.StatusBadRequest},
		{core.ErrTooManyUploads, http.StatusServiceUnavailable},
		{engine.ErrRequestFailed, http.StatusBadGateway},
		{loader.ErrWaitTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
