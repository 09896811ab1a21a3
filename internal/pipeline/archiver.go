package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// ArchiveLoop periodically moves trade records older than the retention
// window to cold storage.
type ArchiveLoop struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveLoop creates an ArchiveLoop.
func NewArchiveLoop(archiver domain.Archiver, retention, interval time.Duration, logger *slog.Logger) *ArchiveLoop {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveLoop{
		archiver:  archiver,
		retention: retention,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// RunOnce archives everything older than now minus the retention window.
func (a *ArchiveLoop) RunOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	n, err := a.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archive trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "pipeline: archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("trades_archived", n),
	)
	return n, nil
}

// Run archives immediately and then once per interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (a *ArchiveLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "pipeline: archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
