package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/core"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/loader"
	"github.com/JonMunkholm/prism/internal/logging"
	"github.com/JonMunkholm/prism/internal/metrics"
	"github.com/JonMunkholm/prism/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"upload_max_file_size_mb", cfg.Upload.MaxFileSizeMB,
		"engine_candidates", len(cfg.Engine.Candidates()),
		"engine_fallback", cfg.Engine.Fallback,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ld := loader.NewFromConfig(&cfg.Engine, loader.NewNamespace(), m)
	service := core.NewService(&cfg.Upload, ld, m)
	server := web.NewServer(cfg, service, ld, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if cfg.Engine.LoadOnStartup {
		g.Go(func() error {
			loadEngine(gctx, ld)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight parses finish before the listener goes away.
		if active := service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for uploads to complete", "active", active)
			if err := service.Shutdown(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			}
		}

		err := server.Shutdown(shutdownCtx)

		if e := ld.Current(); e != nil {
			if cerr := e.Cleanup(shutdownCtx); cerr != nil {
				slog.Warn("engine cleanup failed", "error", cerr)
			}
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// loadEngine runs the loader once and logs readiness progress. A failure
// leaves the server up; the dashboard shows the engine error page and the
// user can retry from there.
func loadEngine(ctx context.Context, ld *loader.ScriptLoader) {
	log := logging.Component("startup")

	e, err := ld.Load(ctx)
	if err != nil {
		log.Error("engine load failed", "error", err, "code", core.MapError(err).Code)
		return
	}

	err = e.WaitForReady(ctx, engine.ReadyOptions{
		OnProgress: func(p engine.Progress) {
			log.Debug("engine readiness", "progress", p.Percent, "status", p.Status)
		},
	})
	if err != nil {
		log.Warn("engine never reported ready", "error", err)
		return
	}

	st := ld.State()
	log.Info("engine ready", "kind", engine.Kind(e), "source", st.Source)
}
