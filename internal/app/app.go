// Package app owns the bot's lifecycle. It wires the optional stores, caches
// and blob storage, builds the scan pipeline for the configured mode and runs
// it together with the background loops until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/clearwinbot/internal/config"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	closers  []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "app")),
		registry: registry,
	}
}

// Run wires all dependencies, builds the pipeline for the configured mode and
// blocks until it finishes. A single-cycle run returns after that cycle;
// otherwise Run returns when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode, err := domain.ParseMode(a.cfg.Mode)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", string(mode)),
		slog.Bool("once", a.cfg.Scan.Once),
		slog.String("log_level", a.cfg.Logging.Level),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	orch, err := a.build(ctx, mode, deps)
	if err != nil {
		return fmt.Errorf("app: build %s pipeline: %w", mode, err)
	}
	return orch.Run(ctx)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
