package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/JonMunkholm/prism/internal/core"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/loader"
	"github.com/JonMunkholm/prism/internal/logging"
	"github.com/JonMunkholm/prism/internal/web/templates"
)

// multipartOverhead is allowed on top of the file size limit for the form
// boundaries and headers.
const multipartOverhead = 1 << 20

// DatasetResponse is the JSON view of an uploaded dataset. Rows holds at
// most the requested preview count; Truncated reports whether rows were cut.
type DatasetResponse struct {
	ID         string                  `json:"id"`
	FileName   string                  `json:"fileName"`
	Format     core.Format             `json:"format"`
	UploadedAt time.Time               `json:"uploadedAt"`
	Rows       []core.ParsedRow        `json:"rows"`
	Columns    []core.ColumnDescriptor `json:"columns"`
	Errors     []string                `json:"errors"`
	Summary    core.DatasetSummary     `json:"summary"`
	Truncated  bool                    `json:"truncated"`
}

func toResponse(ds *core.Dataset, preview int) DatasetResponse {
	rows := ds.Data.Rows
	truncated := false
	if preview > 0 && len(rows) > preview {
		rows = rows[:preview]
		truncated = true
	}
	return DatasetResponse{
		ID:         ds.ID,
		FileName:   ds.FileName,
		Format:     ds.Format,
		UploadedAt: ds.UploadedAt,
		Rows:       rows,
		Columns:    ds.Data.Columns,
		Errors:     ds.Data.Errors,
		Summary:    ds.Data.Summary,
		Truncated:  truncated,
	}
}

// previewRows reads ?preview=N. A missing or invalid value falls back to the
// configured default; 0 means every row.
func (s *Server) previewRows(r *http.Request) int {
	v := r.URL.Query().Get("preview")
	if v == "" {
		return s.cfg.Upload.PreviewRows
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return s.cfg.Upload.PreviewRows
	}
	return n
}

func (s *Server) engineStatus() templates.EngineStatus {
	st := s.loader.State()
	return templates.EngineStatus{Phase: st.Phase.String(), Stub: st.Stub, Error: st.Error}
}

// handleIndex renders the upload page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = templates.UploadPage(s.engineStatus(), s.cfg.Upload.MaxFileSizeMB).Render(r.Context(), w)
}

// handleEnginePage shows the full-page engine error when the last load
// failed. Otherwise there is nothing to show and the client goes home.
func (s *Server) handleEnginePage(w http.ResponseWriter, r *http.Request) {
	err := s.loader.Err()
	if s.loader.State().Phase != loader.Failed || err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	msg := core.MapError(err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = templates.EngineErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload parses a multipart "file" field and makes it the current
// dataset.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Upload.MaxFileSizeBytes() + multipartOverhead
	tooLarge := fmt.Errorf("%w: maximum size is %dMB", core.ErrFileTooLarge, s.cfg.Upload.MaxFileSizeMB)

	// Reject declared oversize bodies before reading any of them.
	if r.ContentLength > limit {
		respondError(w, r, tooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = tooLarge
		} else {
			err = fmt.Errorf("%w: %v", core.ErrNoFile, err)
		}
		respondError(w, r, err, statusFor(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	ds, err := s.service.Upload(r.Context(), core.File{
		Name:   header.Filename,
		Size:   header.Size,
		Reader: file,
	})
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = templates.DatasetSummary(ds.FileName, ds.Data.Summary.RowCount, ds.Data.Summary.ColumnCount, ds.Data.Errors).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(ds, s.previewRows(r)))
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.service.Current()
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, toResponse(ds, s.previewRows(r)))
}

func (s *Server) handleClearDataset(w http.ResponseWriter, r *http.Request) {
	if !s.service.Clear() {
		respondError(w, r, core.ErrNoDataset, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEngineState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loader.State())
}

// handleEngineLoad starts an engine load. With ?wait=true it blocks until
// the load settles and reports its error; otherwise it returns 202 at once
// and the load continues after the request ends.
func (s *Server) handleEngineLoad(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		// The request only bounds how long this caller waits; the load
		// itself is shared and must not fail because one client left.
		select {
		case err := <-s.startLoad(r.Context()):
			if err != nil {
				respondError(w, r, err, statusFor(err))
				return
			}
			writeJSON(w, http.StatusOK, s.loader.State())
		case <-r.Context().Done():
			err := r.Context().Err()
			respondError(w, r, err, statusFor(err))
		}
		return
	}

	if st := s.loader.State(); st.IsLoaded {
		writeJSON(w, http.StatusOK, st)
		return
	}

	s.startLoad(r.Context())
	writeJSON(w, http.StatusAccepted, s.loader.State())
}

// startLoad runs the loader detached from the request. The returned
// channel receives the load's error exactly once.
func (s *Server) startLoad(reqCtx context.Context) <-chan error {
	ctx := context.WithoutCancel(reqCtx)
	done := make(chan error, 1)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		_, err := s.loader.Load(ctx)
		if err != nil {
			logging.FromContext(ctx).Warn("engine load failed", "error", err)
		}
		done <- err
	}()
	return done
}

// handleEngineReady streams WaitForReady progress as server-sent events,
// ending with a "ready" or "error" event.
func (s *Server) handleEngineReady(w http.ResponseWriter, r *http.Request) {
	e := s.loader.Current()
	if e == nil {
		respondError(w, r, core.ErrEngineNotLoaded, http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	err := e.WaitForReady(r.Context(), engine.ReadyOptions{
		OnProgress: func(p engine.Progress) {
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Percent, data)
			flusher.Flush()
		},
	})
	if err != nil {
		data, _ := json.Marshal(core.MapError(err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	} else {
		fmt.Fprintf(w, "event: ready\ndata: {}\n\n")
	}
	flusher.Flush()
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var opts engine.ProcessOptions
	if err := decodeJSON(r, &opts); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	res, err := s.service.Process(r.Context(), opts)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QueryRequest is the body of POST /api/engine/query.
type QueryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		respondError(w, r, fmt.Errorf("%w: sql is required", errInvalidRequest), http.StatusBadRequest)
		return
	}

	res, err := s.service.Query(r.Context(), req.SQL)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Engine    loader.LoaderState       `json:"engine"`
	Uploads   core.UploadLimiterStatus `json:"uploads"`
	DatasetID string                   `json:"datasetId,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Engine:  s.loader.State(),
		Uploads: s.service.Limiter().Status(),
	}
	if ds, err := s.service.Current(); err == nil {
		resp.DatasetID = ds.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
