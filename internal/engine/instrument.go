package engine

import (
	"context"
	"time"

	"github.com/JonMunkholm/prism/internal/metrics"
)

// Instrumented wraps an Engine and records every call on a metrics
// collector.
type Instrumented struct {
	Engine
	m *metrics.Collector
}

// WithMetrics wraps e. A nil collector returns e unchanged.
func WithMetrics(e Engine, m *metrics.Collector) Engine {
	if m == nil || e == nil {
		return e
	}
	return &Instrumented{Engine: e, m: m}
}

// Unwrap returns the wrapped engine.
func (i *Instrumented) Unwrap() Engine { return i.Engine }

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.m.EngineCall(op, i.Engine.IsStub(), time.Since(start), err)
}

func (i *Instrumented) Initialize(ctx context.Context) error {
	start := time.Now()
	err := i.Engine.Initialize(ctx)
	i.observe("initialize", start, err)
	return err
}

func (i *Instrumented) ProcessData(ctx context.Context, rows []map[string]any, opts ProcessOptions) (ProcessResult, error) {
	start := time.Now()
	res, err := i.Engine.ProcessData(ctx, rows, opts)
	i.observe("process", start, err)
	return res, err
}

func (i *Instrumented) Query(ctx context.Context, sql string) (QueryResult, error) {
	start := time.Now()
	res, err := i.Engine.Query(ctx, sql)
	i.observe("query", start, err)
	return res, err
}

func (i *Instrumented) LoadPlugin(ctx context.Context, name string) error {
	start := time.Now()
	err := i.Engine.LoadPlugin(ctx, name)
	i.observe("load_plugin", start, err)
	return err
}
