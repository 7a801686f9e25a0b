// Package metrics exposes Prometheus collectors for ingestion and engine
// loading.
//
// Collectors are registered on an injected prometheus.Registerer rather
// than the global default, so a test can build as many as it likes. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prism"

// Collector holds every metric the service records.
type Collector struct {
	uploads         *prometheus.CounterVec
	parseDuration   *prometheus.HistogramVec
	datasetRows     prometheus.Histogram
	activeParses    prometheus.Gauge
	loadAttempts    *prometheus.CounterVec
	loadDuration    prometheus.Histogram
	loaderState     *prometheus.GaugeVec
	engineCalls     *prometheus.CounterVec
	engineCallTimes *prometheus.HistogramVec
}

// New creates a Collector and registers it on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "uploads_total",
				Help:      "Uploaded files by format and outcome",
			},
			[]string{"format", "status"},
		),
		parseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "parse_duration_seconds",
				Help:      "Time spent parsing an uploaded file",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"format"},
		),
		datasetRows: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "dataset_rows",
				Help:      "Rows per parsed dataset",
				Buckets:   []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			},
		),
		activeParses: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "active_parses",
				Help:      "Parses currently holding a limiter slot",
			},
		),
		loadAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loader",
				Name:      "attempts_total",
				Help:      "Engine script load attempts by outcome",
			},
			[]string{"outcome"},
		),
		loadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loader",
				Name:      "load_duration_seconds",
				Help:      "Time from load start to a settled state",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		loaderState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "loader",
				Name:      "state",
				Help:      "1 for the loader's current phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		engineCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "calls_total",
				Help:      "Engine operations by name, engine kind and status",
			},
			[]string{"op", "kind", "status"},
		),
		engineCallTimes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "call_duration_seconds",
				Help:      "Engine operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveUpload records one parse of the given format.
func (c *Collector) ObserveUpload(format string, d time.Duration, rows int, err error) {
	if c == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	c.uploads.WithLabelValues(format, status(err)).Inc()
	if err != nil {
		return
	}
	c.parseDuration.WithLabelValues(format).Observe(d.Seconds())
	c.datasetRows.Observe(float64(rows))
}

// ParseStarted and ParseFinished track limiter occupancy.
func (c *Collector) ParseStarted() {
	if c != nil {
		c.activeParses.Inc()
	}
}

func (c *Collector) ParseFinished() {
	if c != nil {
		c.activeParses.Dec()
	}
}

// LoadAttempt counts one script load attempt. outcome is a short word such
// as "success", "timeout", "error", "not_found" or "stub".
func (c *Collector) LoadAttempt(outcome string) {
	if c != nil {
		c.loadAttempts.WithLabelValues(outcome).Inc()
	}
}

// LoadSettled records how long a load took to reach Loaded or Failed.
func (c *Collector) LoadSettled(d time.Duration) {
	if c != nil {
		c.loadDuration.Observe(d.Seconds())
	}
}

// LoaderPhase sets the state gauge so exactly one phase reads 1.
func (c *Collector) LoaderPhase(current string, all []string) {
	if c == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		c.loaderState.WithLabelValues(p).Set(v)
	}
}

// EngineCall records one engine operation.
func (c *Collector) EngineCall(op string, stub bool, d time.Duration, err error) {
	if c == nil {
		return
	}
	kind := "remote"
	if stub {
		kind = "stub"
	}
	c.engineCalls.WithLabelValues(op, kind, status(err)).Inc()
	c.engineCallTimes.WithLabelValues(op).Observe(d.Seconds())
}
