package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived loop that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the scan loop alongside its background loops
// (resolution tracking, archival, the status server).
type Orchestrator struct {
	scan       *ScanLoop
	background []namedRunner
	logger     *slog.Logger
}

type namedRunner struct {
	name string
	r    Runner
}

// NewOrchestrator creates an Orchestrator around scan.
func NewOrchestrator(scan *ScanLoop, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{scan: scan, logger: logger.With(slog.String("component", "orchestrator"))}
}

// Add registers a background loop. Background loops are not started in
// once mode.
func (o *Orchestrator) Add(name string, r Runner) {
	o.background = append(o.background, namedRunner{name: name, r: r})
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails. Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.scan.cfg.Once {
		o.logger.InfoContext(ctx, "pipeline: running a single cycle")
		return o.scan.Run(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	start := func(name string, r Runner) {
		g.Go(func() error {
			o.logger.InfoContext(ctx, "pipeline: loop started", slog.String("loop", name))
			err := r.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	start("scan", o.scan)
	for _, b := range o.background {
		start(b.name, b.r)
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline: orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: orchestrator stopped cleanly")
	return nil
}
