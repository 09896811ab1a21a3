package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/metrics"
	"github.com/alanyoungcy/clearwinbot/internal/notify"
)

// ResolutionSource reports whether a market has settled.
type ResolutionSource interface {
	GetMarketResolution(ctx context.Context, marketID string) (domain.MarketResolution, error)
}

// ResolutionTracker follows committed positions until their market resolves,
// then frees the exposure, records the result and publishes it.
type ResolutionTracker struct {
	book      *ExposureBook
	source    ResolutionSource
	positions domain.PositionStore // optional
	bus       domain.SignalBus     // optional
	notifier  *notify.Notifier     // optional
	metrics   *metrics.Metrics     // optional
	pollDur   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewResolutionTracker creates a ResolutionTracker. positions, bus, notifier
// and m may be nil.
func NewResolutionTracker(
	book *ExposureBook,
	source ResolutionSource,
	positions domain.PositionStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	pollInterval time.Duration,
	logger *slog.Logger,
) *ResolutionTracker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &ResolutionTracker{
		book:      book,
		source:    source,
		positions: positions,
		bus:       bus,
		notifier:  notifier,
		metrics:   m,
		pollDur:   pollInterval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "resolution_tracker")),
	}
}

// Run polls committed positions until ctx is cancelled. Call in a goroutine.
func (t *ResolutionTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.CheckResolutions(ctx)
		}
	}
}

// CheckResolutions checks every committed position once and settles those
// whose market closed. It returns the number of positions settled.
func (t *ResolutionTracker) CheckResolutions(ctx context.Context) int {
	settled := 0
	for _, pos := range t.book.Positions() {
		res, err := t.source.GetMarketResolution(ctx, pos.MarketID)
		if err != nil {
			t.logger.DebugContext(ctx, "resolution_tracker: fetch failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !res.Closed || res.WinningOutcome == "" {
			continue
		}
		if t.settle(ctx, pos, res) {
			settled++
		}
	}
	return settled
}

func (t *ResolutionTracker) settle(ctx context.Context, pos domain.Position, res domain.MarketResolution) bool {
	// Close first: only the caller that removes the position reports it.
	if _, ok := t.book.Close(pos.MarketID); !ok {
		return false
	}
	result := pos.Settle(res.WinningOutcome, t.now())

	if t.positions != nil {
		if err := t.positions.Resolve(ctx, pos.MarketID, pos.Mode, result); err != nil {
			t.logger.ErrorContext(ctx, "resolution_tracker: persist resolution failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	t.metrics.RecordResolved(result.Won)

	t.logger.InfoContext(ctx, "resolution_tracker: position resolved",
		slog.String("market_id", pos.MarketID),
		slog.String("outcome", pos.Outcome),
		slog.String("winner", res.WinningOutcome),
		slog.Bool("won", result.Won),
		slog.String("pnl", result.PnL.String()),
	)

	if t.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":     notify.EventPositionResolved,
			"market_id": pos.MarketID,
			"outcome":   pos.Outcome,
			"won":       result.Won,
			"pnl":       result.PnL,
			"size":      pos.Size,
		})
		if err := t.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
			t.logger.WarnContext(ctx, "resolution_tracker: publish failed", slog.String("error", err.Error()))
		}
	}
	if t.notifier != nil {
		title := "Position resolved: " + pos.Outcome
		_ = t.notifier.Notify(ctx, notify.EventPositionResolved, title, notify.FormatResolution(pos, result))
	}
	return true
}
