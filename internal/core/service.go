package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/logging"
	"github.com/JonMunkholm/prism/internal/metrics"
)

var (
	// ErrNoDataset is returned when an operation needs an uploaded dataset.
	ErrNoDataset = errors.New("no dataset loaded")

	// ErrEngineNotLoaded is returned when no engine handle is available yet.
	ErrEngineNotLoaded = errors.New("engine not loaded")

	// ErrNoFile is returned when an upload carries no file.
	ErrNoFile = errors.New("no file provided")
)

// DefaultUploadTimeout bounds one upload when the config leaves it unset.
const DefaultUploadTimeout = 2 * time.Minute

// EngineSource hands out the current engine handle without loading it.
type EngineSource interface {
	Current() engine.Engine
}

// Service owns the current dataset and runs engine work against it.
//
// There is one dataset at a time. Each upload replaces it wholesale, so a
// reader holding a *Dataset keeps a consistent view while a newer upload
// lands.
type Service struct {
	parser  *Parser
	limiter *UploadLimiter
	timeout time.Duration
	engines EngineSource
	metrics *metrics.Collector

	mu      sync.RWMutex
	current *Dataset
}

// NewService builds a service from the upload config. engines and m may be
// nil; engine operations then fail with ErrEngineNotLoaded.
func NewService(cfg *config.UploadConfig, engines EngineSource, m *metrics.Collector) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &Service{
		parser:  NewParser(cfg.MaxFileSizeMB, cfg.SampleSize),
		limiter: NewUploadLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		timeout: timeout,
		engines: engines,
		metrics: m,
	}
}

// Parser returns the parser the service uses.
func (s *Service) Parser() *Parser { return s.parser }

// Limiter exposes the upload limiter for status output.
func (s *Service) Limiter() *UploadLimiter { return s.limiter }

// Upload parses f and, on success, makes it the current dataset.
// On failure the previous dataset is kept.
func (s *Service) Upload(ctx context.Context, f File) (*Dataset, error) {
	if f.Reader == nil {
		return nil, ErrNoFile
	}

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.metrics.ParseStarted()
	defer s.metrics.ParseFinished()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := logging.WithFields(ctx, "file", f.Name, "size", f.Size)
	format, _ := FormatFor(f.Name)

	start := time.Now()
	data, err := s.parser.ParseTimed(ctx, f)
	s.metrics.ObserveUpload(string(format), time.Since(start), rowCount(data), err)
	if err != nil {
		log.Warn("upload rejected", "error", err)
		return nil, err
	}

	ds := &Dataset{
		ID:         uuid.NewString(),
		FileName:   f.Name,
		Format:     format,
		UploadedAt: time.Now().UTC(),
		Data:       data,
	}

	s.mu.Lock()
	s.current = ds
	s.mu.Unlock()

	log.Info("dataset parsed",
		"dataset_id", ds.ID,
		"format", format,
		"rows", data.Summary.RowCount,
		"columns", data.Summary.ColumnCount,
		"warnings", len(data.Errors),
		"processing_ms", data.Summary.ProcessingTimeMs,
	)
	return ds, nil
}

func rowCount(d *ParsedDataset) int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Current returns the current dataset or ErrNoDataset.
func (s *Service) Current() (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoDataset
	}
	return s.current, nil
}

// Clear drops the current dataset. It reports whether there was one.
func (s *Service) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.current != nil
	s.current = nil
	return had
}

func (s *Service) engine() (engine.Engine, error) {
	if s.engines == nil {
		return nil, ErrEngineNotLoaded
	}
	e := s.engines.Current()
	if e == nil {
		return nil, ErrEngineNotLoaded
	}
	return e, nil
}

// Process runs the engine's ProcessData over the current dataset.
func (s *Service) Process(ctx context.Context, opts engine.ProcessOptions) (engine.ProcessResult, error) {
	ds, err := s.Current()
	if err != nil {
		return engine.ProcessResult{}, err
	}
	e, err := s.engine()
	if err != nil {
		return engine.ProcessResult{}, err
	}

	res, err := e.ProcessData(ctx, ds.Data.Records(), opts)
	if err != nil {
		logging.FromContext(ctx).Error("engine process failed",
			"dataset_id", ds.ID, "type", opts.Type, "error", err)
		return engine.ProcessResult{}, err
	}
	return res, nil
}

// Query forwards sql to the engine.
func (s *Service) Query(ctx context.Context, sql string) (engine.QueryResult, error) {
	e, err := s.engine()
	if err != nil {
		return engine.QueryResult{}, err
	}
	return e.Query(ctx, sql)
}

// Shutdown waits for in-flight uploads to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
