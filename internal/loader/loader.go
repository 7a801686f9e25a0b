// Package loader fetches the analytics engine bundle and produces an engine
// handle, falling back to the in-process stub when every attempt fails.
//
// The loader is a small state machine (see state.go). Only the first caller
// to find it Idle or Failed runs a load; callers arriving while a load is in
// flight poll until it settles and then share its result, so a process
// performs at most one fetch sequence per successful load.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/logging"
	"github.com/JonMunkholm/prism/internal/metrics"
)

// Loader is what the rest of the service depends on.
type Loader interface {
	Load(ctx context.Context) (engine.Engine, error)
	State() LoaderState
}

// Options are the loader's tunables. Zero values take the defaults noted
// on each field.
type Options struct {
	Candidates     []string      // Bundle URLs tried in order within one attempt
	GlobalName     string        // Name the handle is installed under (DataPrism)
	Timeout        time.Duration // Per-URL fetch bound (30s)
	Retries        int           // Total attempts before giving up (3)
	RetryDelay     time.Duration // Backoff step; attempt n waits n*RetryDelay (1s)
	Fallback       bool          // Install the stub after the last failure
	Preload        bool          // Send a HEAD hint before the first attempt
	PreloadTimeout time.Duration // Bound on the hint (5s)
	PollInterval   time.Duration // Tick for callers waiting on an in-flight load (100ms)
	WaitTimeout    time.Duration // Bound on that wait (LoadBudget)
	StubDelay      time.Duration // Artificial latency of the stub
}

func (o Options) withDefaults() Options {
	if o.GlobalName == "" {
		o.GlobalName = "DataPrism"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.PreloadTimeout <= 0 {
		o.PreloadTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = o.LoadBudget()
	}
	return o
}

// LoadBudget is the longest one load can run when every step hits its
// bound. A wait bound shorter than this lets a waiter give up on a load
// that later succeeds.
func (o Options) LoadBudget() time.Duration {
	n := time.Duration(max(len(o.Candidates), 1))
	retries := time.Duration(max(o.Retries, 1))

	// companion, then fetch and initialize per candidate per attempt
	budget := o.Timeout + retries*n*2*o.Timeout
	budget += retries * (retries - 1) / 2 * o.RetryDelay
	if o.Preload {
		budget += n * o.PreloadTimeout
	}
	if o.Fallback {
		budget += max(o.StubDelay, 0)
	}
	return budget + o.PollInterval
}

// OptionsFromConfig maps the engine section of the service config. An unset
// wait bound becomes the config's load budget.
func OptionsFromConfig(cfg *config.EngineConfig) Options {
	wait := cfg.WaitTimeout
	if wait <= 0 {
		wait = cfg.LoadBudget()
	}
	return Options{
		Candidates:     cfg.Candidates(),
		GlobalName:     cfg.GlobalName,
		Timeout:        cfg.Timeout,
		Retries:        cfg.Retries,
		RetryDelay:     cfg.RetryDelay,
		Fallback:       cfg.Fallback,
		Preload:        cfg.Preload,
		PreloadTimeout: cfg.PreloadTimeout,
		PollInterval:   cfg.PollInterval,
		WaitTimeout:    wait,
		StubDelay:      cfg.StubDelay,
	}
}

// Option wires a collaborator into a ScriptLoader.
type Option func(*ScriptLoader)

func WithFetcher(f Fetcher) Option       { return func(l *ScriptLoader) { l.fetcher = f } }
func WithInstaller(i Installer) Option   { return func(l *ScriptLoader) { l.installer = i } }
func WithCompanion(c Companion) Option   { return func(l *ScriptLoader) { l.companion = c } }
func WithNamespace(ns *Namespace) Option { return func(l *ScriptLoader) { l.ns = ns } }
func WithMetrics(m *metrics.Collector) Option {
	return func(l *ScriptLoader) { l.metrics = m }
}
func WithLogger(log *slog.Logger) Option { return func(l *ScriptLoader) { l.log = log } }

// ScriptLoader is the Loader implementation.
type ScriptLoader struct {
	opts      Options
	fetcher   Fetcher
	installer Installer
	companion Companion
	ns        *Namespace
	metrics   *metrics.Collector
	log       *slog.Logger

	mu       sync.Mutex
	phase    State
	handle   engine.Engine
	source   string
	lastErr  error
	started  time.Time
	loadTime *float64
	fetches  int
}

// New creates a loader in the Idle state.
//
// Without WithInstaller the loader cannot build a real handle and every
// attempt ends in ErrEngineNotFound; production wiring supplies a
// BundleInstaller (see NewFromConfig).
func New(opts Options, options ...Option) *ScriptLoader {
	l := &ScriptLoader{
		opts:      opts.withDefaults(),
		companion: noCompanion{},
	}
	for _, o := range options {
		o(l)
	}
	if l.fetcher == nil {
		l.fetcher = NewHTTPFetcher(nil)
	}
	if l.installer == nil {
		l.installer = InstallerFunc(func(_ context.Context, _ []byte, src string) (engine.Engine, error) {
			return nil, fmt.Errorf("%w: no installer for %s", ErrEngineNotFound, src)
		})
	}
	if l.ns == nil {
		l.ns = NewNamespace()
	}
	if l.log == nil {
		l.log = logging.Component("loader")
	}
	l.metrics.LoaderPhase(Idle.String(), phaseNames())
	return l
}

// NewFromConfig wires the HTTP fetcher, the configured companion and a
// bundle installer whose handles talk to the engine endpoint.
//
// Without an endpoint there is no remote engine to talk to: a verified
// bundle installs the in-process engine, reported as a stub.
func NewFromConfig(cfg *config.EngineConfig, ns *Namespace, m *metrics.Collector) *ScriptLoader {
	timeout := cfg.Timeout
	fetcher := NewHTTPFetcher(&http.Client{Timeout: timeout})

	newEngine := func() engine.Engine { return engine.NewStub(cfg.StubDelay) }
	if endpoint := cfg.EngineEndpoint(); endpoint != "" {
		newEngine = func() engine.Engine {
			return engine.NewRemote(endpoint, engine.WithHTTPClient(&http.Client{Timeout: timeout}))
		}
	}

	return New(OptionsFromConfig(cfg),
		WithFetcher(fetcher),
		WithCompanion(NewCompanion(cfg.CompanionName, cfg.CompanionURL, fetcher)),
		WithInstaller(NewBundleInstaller(cfg.GlobalName, newEngine)),
		WithNamespace(ns),
		WithMetrics(m),
	)
}

// Namespace returns the namespace the loader installs into.
func (l *ScriptLoader) Namespace() *Namespace { return l.ns }

// Load returns the engine handle, loading it if needed.
//
// Loaded returns the cached handle. Loading waits for the in-flight load.
// Idle or Failed starts a new load: the companion precondition, then up to
// Retries attempts over every candidate URL, then the stub if permitted.
func (l *ScriptLoader) Load(ctx context.Context) (engine.Engine, error) {
	l.mu.Lock()
	switch l.phase {
	case Loaded:
		h := l.handle
		l.mu.Unlock()
		return h, nil
	case Loading:
		l.mu.Unlock()
		return l.awaitInFlight(ctx)
	}

	l.setPhaseLocked(Loading)
	l.started = time.Now()
	l.lastErr = nil
	l.loadTime = nil
	l.mu.Unlock()

	h, src, err := l.run(ctx)
	l.settle(h, src, err)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the loaded handle, or nil when not Loaded. It never
// starts a load.
func (l *ScriptLoader) Current() engine.Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != Loaded {
		return nil
	}
	return l.handle
}

// State returns a snapshot of the loader.
func (l *ScriptLoader) State() LoaderState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LoaderState{
		Phase:     l.phase,
		IsLoaded:  l.phase == Loaded,
		IsLoading: l.phase == Loading,
		Source:    l.source,
	}
	if l.lastErr != nil {
		st.Error = l.lastErr.Error()
	}
	if l.loadTime != nil {
		ms := *l.loadTime
		st.LoadTimeMs = &ms
	}
	if l.handle != nil {
		st.Stub = l.handle.IsStub()
	}
	return st
}

// Err returns the error of the last failed load, or nil.
func (l *ScriptLoader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Fetches returns how many fetch sequences have started. Tests use it to
// check that concurrent callers share one load.
func (l *ScriptLoader) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}

// Reset returns the loader to Idle and removes the installed handle. It
// refuses with ErrLoadInFlight while a load is running, since that load
// still has to settle.
func (l *ScriptLoader) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == Loading {
		return ErrLoadInFlight
	}
	l.phase = Idle
	l.handle = nil
	l.source = ""
	l.lastErr = nil
	l.loadTime = nil
	l.fetches = 0
	l.ns.Delete(l.opts.GlobalName)
	l.metrics.LoaderPhase(Idle.String(), phaseNames())
	return nil
}

func (l *ScriptLoader) setPhaseLocked(to State) {
	l.phase = mustTransition(l.phase, to)
	l.metrics.LoaderPhase(to.String(), phaseNames())
}

// awaitInFlight polls until the load another caller started settles.
func (l *ScriptLoader) awaitInFlight(ctx context.Context) (engine.Engine, error) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(l.opts.WaitTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w after %s", ErrWaitTimeout, l.opts.WaitTimeout)
		case <-ticker.C:
		}

		l.mu.Lock()
		phase, h, err := l.phase, l.handle, l.lastErr
		l.mu.Unlock()

		switch phase {
		case Loaded:
			return h, nil
		case Failed:
			return nil, err
		}
	}
}

func (l *ScriptLoader) run(ctx context.Context) (engine.Engine, string, error) {
	cctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	err := l.companion.Ensure(cctx, l.ns)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrDependencyUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
		}
		l.log.Error("engine dependency check failed", "error", err)
		return nil, "", err
	}

	l.mu.Lock()
	l.fetches++
	l.mu.Unlock()

	if l.opts.Preload {
		l.preload(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= l.opts.Retries; attempt++ {
		h, src, err := l.attempt(ctx, attempt)
		l.metrics.LoadAttempt(outcome(err))
		if err == nil {
			return h, src, nil
		}
		lastErr = err

		l.log.Warn("engine load attempt failed",
			"attempt", attempt,
			"max_attempts", l.opts.Retries,
			"error", err,
		)

		if attempt == l.opts.Retries {
			break
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*l.opts.RetryDelay); err != nil {
			return nil, "", err
		}
	}

	if !l.opts.Fallback {
		return nil, "", fmt.Errorf("%w after %d attempts: %w", ErrAllAttemptsExhausted, l.opts.Retries, lastErr)
	}

	l.log.Warn("engine unavailable, using stub engine",
		"attempts", l.opts.Retries,
		"last_error", lastErr,
	)
	stub := engine.NewStub(l.opts.StubDelay)
	if err := stub.Initialize(ctx); err != nil {
		return nil, "", err
	}
	l.metrics.LoadAttempt("stub")
	return l.install(stub), "", nil
}

// attempt tries each candidate URL once. It returns the last URL's error
// when none of them yields a handle.
func (l *ScriptLoader) attempt(ctx context.Context, n int) (engine.Engine, string, error) {
	lastErr := fmt.Errorf("%w: no candidate URLs configured", ErrScriptLoadError)

	for _, url := range l.opts.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		actx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
		bundle, err := l.fetcher.Fetch(actx, url)
		cancel()
		if err != nil {
			lastErr = err
			l.log.Debug("engine fetch failed", "attempt", n, "url", url, "error", err)
			continue
		}

		ictx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
		h, err := l.installer.Install(ictx, bundle, url)
		if err == nil {
			err = h.Initialize(ictx)
		}
		cancel()
		if err != nil {
			lastErr = err
			l.log.Debug("engine install failed", "attempt", n, "url", url, "error", err)
			continue
		}
		return l.install(h), url, nil
	}
	return nil, "", lastErr
}

// preload sends the best-effort hint for every candidate. Errors are only
// logged.
func (l *ScriptLoader) preload(ctx context.Context) {
	for _, url := range l.opts.Candidates {
		pctx, cancel := context.WithTimeout(ctx, l.opts.PreloadTimeout)
		err := l.fetcher.Preload(pctx, url)
		cancel()
		if err != nil {
			l.log.Debug("engine preload failed", "url", url, "error", err)
		}
	}
}

func (l *ScriptLoader) install(h engine.Engine) engine.Engine {
	h = engine.WithMetrics(h, l.metrics)
	l.ns.Set(l.opts.GlobalName, h)
	return h
}

func (l *ScriptLoader) settle(h engine.Engine, src string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.started)
	l.metrics.LoadSettled(elapsed)

	if err != nil {
		l.lastErr = err
		l.setPhaseLocked(Failed)
		l.log.Error("engine load failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return
	}

	ms := float64(elapsed.Microseconds()) / 1000
	l.handle = h
	l.source = src
	l.loadTime = &ms
	l.setPhaseLocked(Loaded)
	l.log.Info("engine loaded",
		"kind", engine.Kind(h),
		"source", src,
		"load_time_ms", ms,
	)
}

func phaseNames() []string {
	all := AllStates()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.String()
	}
	return names
}

var _ Loader = (*ScriptLoader)(nil)
