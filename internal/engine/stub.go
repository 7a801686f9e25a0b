package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultStubDelay is the artificial latency of each Stub operation.
const DefaultStubDelay = 100 * time.Millisecond

// readySteps are the updates WaitForReady reports, in order.
var readySteps = []Progress{
	{Percent: 0, Status: "initializing"},
	{Percent: 25, Status: "loading core"},
	{Percent: 50, Status: "loading plugins"},
	{Percent: 75, Status: "warming up"},
	{Percent: 100, Status: "ready"},
}

// sampleRows is what Stub.Query returns for any SQL.
var sampleRows = []map[string]any{
	{"id": 1, "name": "Sample A", "value": 100},
	{"id": 2, "name": "Sample B", "value": 200},
	{"id": 3, "name": "Sample C", "value": 300},
}

// Stub is an in-process engine that sleeps and echoes its input.
type Stub struct {
	delay time.Duration

	mu          sync.Mutex
	initialized bool
	plugins     []string
}

// NewStub returns a stub whose operations each take delay. A negative delay
// means DefaultStubDelay; zero means no delay.
func NewStub(delay time.Duration) *Stub {
	if delay < 0 {
		delay = DefaultStubDelay
	}
	return &Stub{delay: delay}
}

func (s *Stub) IsStub() bool { return true }

func (s *Stub) Initialize(ctx context.Context) error {
	if err := s.pause(ctx, s.delay); err != nil {
		return err
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *Stub) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	s.initialized = false
	s.plugins = nil
	s.mu.Unlock()
	return nil
}

// ProcessData returns rows unchanged with a small summary.
func (s *Stub) ProcessData(ctx context.Context, rows []map[string]any, opts ProcessOptions) (ProcessResult, error) {
	if err := s.ready(); err != nil {
		return ProcessResult{}, err
	}
	if err := s.pause(ctx, s.delay); err != nil {
		return ProcessResult{}, err
	}

	data := rows
	if data == nil {
		data = []map[string]any{}
	}
	return ProcessResult{
		ProcessedData: data,
		Summary: map[string]any{
			"rowCount":    len(rows),
			"processedAt": time.Now().UTC().Format(time.RFC3339),
			"type":        opts.Type,
		},
	}, nil
}

// Query ignores sql and returns fixed sample rows.
func (s *Stub) Query(ctx context.Context, sql string) (QueryResult, error) {
	if err := s.ready(); err != nil {
		return QueryResult{}, err
	}
	start := time.Now()
	if err := s.pause(ctx, s.delay); err != nil {
		return QueryResult{}, err
	}

	data := make([]map[string]any, len(sampleRows))
	for i, r := range sampleRows {
		row := make(map[string]any, len(r))
		for k, v := range r {
			row[k] = v
		}
		data[i] = row
	}
	return QueryResult{
		Data:            data,
		Columns:         []string{"id", "name", "value"},
		RowCount:        len(data),
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func (s *Stub) LoadPlugin(ctx context.Context, name string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.pause(ctx, s.delay); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plugins {
		if p == name {
			return nil
		}
	}
	s.plugins = append(s.plugins, name)
	return nil
}

// Plugins lists loaded plugin names in load order.
func (s *Stub) Plugins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// WaitForReady walks through 0, 25, 50, 75 and 100 percent.
func (s *Stub) WaitForReady(ctx context.Context, opts ReadyOptions) error {
	step := s.delay / time.Duration(len(readySteps))
	for i, p := range readySteps {
		if i > 0 {
			if err := s.pause(ctx, step); err != nil {
				return err
			}
		}
		opts.report(p)
	}
	return nil
}

func (s *Stub) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *Stub) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
