package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/metrics"
	"github.com/alanyoungcy/clearwinbot/internal/notify"
	"github.com/alanyoungcy/clearwinbot/internal/service"
)

// cycleLockKey is the lock that keeps bot instances sharing one Redis from
// scanning at the same time.
const cycleLockKey = "scan-cycle"

// Cycle results.
const (
	CycleOK      = "ok"
	CycleSkipped = "skipped"
	CycleLocked  = "locked"
)

// MarketSource supplies market snapshots and order book tops.
type MarketSource interface {
	FetchMarkets(ctx context.Context) ([]domain.MarketSnapshot, error)
	FetchOrderBook(ctx context.Context, tokenID string) (domain.BookTop, error)
}

// Scanner filters snapshots into candidates.
type Scanner interface {
	Shortlist(snapshots []domain.MarketSnapshot) []domain.MarketSnapshot
	Scan(snapshots []domain.MarketSnapshot) []domain.Candidate
}

// Evaluator sizes a candidate against current exposure.
type Evaluator interface {
	Evaluate(ctx context.Context, c domain.Candidate) domain.SizingDecision
}

// Executor drives an approved candidate to a terminal trade record.
type Executor interface {
	NewAttempt(c domain.Candidate, size decimal.Decimal, cycleAt time.Time) *domain.OrderAttempt
	Execute(ctx context.Context, a *domain.OrderAttempt) (domain.TradeRecord, error)
	Sweep() int
}

// LoopConfig controls cycle timing and concurrency.
type LoopConfig struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	Workers      int
	Once         bool
}

// ScanDeps are the optional collaborators of a ScanLoop. Any may be nil.
type ScanDeps struct {
	Lock     domain.LockManager
	Bus      domain.SignalBus
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// CycleSummary describes one finished cycle. It is published on the cycles
// channel.
type CycleSummary struct {
	CycleAt     time.Time `json:"cycle_at"`
	Result      string    `json:"result"`
	Reason      string    `json:"reason,omitempty"`
	Markets     int       `json:"markets"`
	Shortlisted int       `json:"shortlisted"`
	Candidates  int       `json:"candidates"`
	Approved    int       `json:"approved"`
	Skipped     int       `json:"skipped"`
	Confirmed   int       `json:"confirmed"`
	Failed      int       `json:"failed"`
	DurationMS  int64     `json:"duration_ms"`
}

// ScanLoop runs scan cycles: fetch, shortlist, enrich with books, scan, size
// and execute. Cycles never overlap.
type ScanLoop struct {
	source  MarketSource
	scanner Scanner
	risk    Evaluator
	engine  Executor
	deps    ScanDeps
	cfg     LoopConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewScanLoop creates a ScanLoop.
func NewScanLoop(source MarketSource, scanner Scanner, risk Evaluator, engine Executor, cfg LoopConfig, deps ScanDeps, logger *slog.Logger) *ScanLoop {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &ScanLoop{
		source:  source,
		scanner: scanner,
		risk:    risk,
		engine:  engine,
		deps:    deps,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "scan_loop")),
	}
}

// Run runs a cycle immediately and then once per interval until ctx is
// cancelled. With Once set it returns after the first cycle.
func (l *ScanLoop) Run(ctx context.Context) error {
	l.RunOnce(ctx)
	if l.cfg.Once {
		return nil
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single cycle. Failures are logged and summarised, never
// returned: a bad cycle must not stop the loop.
func (l *ScanLoop) RunOnce(ctx context.Context) CycleSummary {
	start := time.Now()
	sum := CycleSummary{CycleAt: l.now(), Result: CycleOK}
	defer func() {
		sum.DurationMS = time.Since(start).Milliseconds()
		l.deps.Metrics.RecordCycle(sum.Result, time.Since(start))
		l.publish(ctx, sum)
	}()

	if l.deps.Lock != nil {
		unlock, err := l.deps.Lock.Acquire(ctx, cycleLockKey, l.lockTTL())
		if err != nil {
			sum.Result, sum.Reason = CycleLocked, err.Error()
			l.logger.InfoContext(ctx, "pipeline: cycle skipped, lock not acquired", slog.String("error", err.Error()))
			return sum
		}
		defer unlock()
	}

	snaps, err := l.fetch(ctx)
	if err != nil {
		sum.Result, sum.Reason = CycleSkipped, err.Error()
		l.logger.WarnContext(ctx, "pipeline: cycle skipped",
			slog.Bool("gateway_unavailable", errors.Is(err, domain.ErrGatewayUnavailable)),
			slog.String("error", err.Error()),
		)
		if nerr := l.deps.Notifier.Notify(ctx, notify.EventCycleSkipped, "Scan cycle skipped", err.Error()); nerr != nil {
			l.logger.WarnContext(ctx, "pipeline: notify failed", slog.String("error", nerr.Error()))
		}
		return sum
	}
	sum.Markets = len(snaps)

	shortlist := l.enrich(ctx, l.scanner.Shortlist(snaps))
	sum.Shortlisted = len(shortlist)

	candidates := l.scanner.Scan(shortlist)
	sum.Candidates = len(candidates)
	l.deps.Metrics.RecordCandidates(len(candidates))

	l.process(ctx, sum.CycleAt, candidates, &sum)
	if n := l.engine.Sweep(); n > 0 {
		l.logger.DebugContext(ctx, "pipeline: idempotency ledger swept", slog.Int("removed", n))
	}

	l.logger.InfoContext(ctx, "pipeline: cycle complete",
		slog.Int("markets", sum.Markets),
		slog.Int("shortlisted", sum.Shortlisted),
		slog.Int("candidates", sum.Candidates),
		slog.Int("approved", sum.Approved),
		slog.Int("confirmed", sum.Confirmed),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return sum
}

func (l *ScanLoop) fetch(ctx context.Context) ([]domain.MarketSnapshot, error) {
	if l.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.CycleTimeout)
		defer cancel()
	}
	snaps, err := l.source.FetchMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch markets: %w", err)
	}
	return snaps, nil
}

// enrich folds the dominant outcome's book top into each snapshot. A market
// whose book cannot be fetched is dropped from this cycle.
func (l *ScanLoop) enrich(ctx context.Context, snaps []domain.MarketSnapshot) []domain.MarketSnapshot {
	if l.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.CycleTimeout)
		defer cancel()
	}

	ok := make([]bool, len(snaps))
	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for i := range snaps {
		idx, known := snaps[i].Dominant()
		if !known || snaps[i].Outcomes[idx].TokenID == "" {
			ok[i] = true
			continue
		}
		g.Go(func() error {
			token := snaps[i].Outcomes[idx].TokenID
			top, err := l.source.FetchOrderBook(ctx, token)
			if err != nil {
				l.logger.WarnContext(ctx, "pipeline: order book unavailable, market dropped",
					slog.String("market_id", snaps[i].MarketID),
					slog.String("token_id", token),
					slog.String("error", err.Error()),
				)
				return nil
			}
			snaps[i].ApplyBook(token, top)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.MarketSnapshot, 0, len(snaps))
	for i, s := range snaps {
		if ok[i] {
			out = append(out, s)
		}
	}
	return out
}

// process evaluates and executes candidates concurrently. After ctx is
// cancelled no new candidate is started; running attempts finish.
func (l *ScanLoop) process(ctx context.Context, cycleAt time.Time, candidates []domain.Candidate, sum *CycleSummary) {
	var approved, skipped, confirmed, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for _, c := range candidates {
		if ctx.Err() != nil {
			l.logger.InfoContext(ctx, "pipeline: shutting down, remaining candidates not started")
			break
		}
		g.Go(func() error {
			d := l.risk.Evaluate(ctx, c)
			l.deps.Metrics.RecordDecision(service.DecisionLabel(d))
			if !d.Approved {
				skipped.Add(1)
				l.logger.InfoContext(ctx, "pipeline: candidate skipped",
					slog.String("market_id", c.MarketID),
					slog.String("outcome", c.Outcome),
					slog.String("price", c.Price.String()),
					slog.String("reason", reason(d)),
				)
				return nil
			}

			approved.Add(1)
			rec, err := l.engine.Execute(ctx, l.engine.NewAttempt(c, d.Size, cycleAt))
			switch {
			case rec.Status == domain.AttemptConfirmed:
				confirmed.Add(1)
			case rec.Status == domain.AttemptFailed:
				failed.Add(1)
			}
			if err != nil {
				l.logger.DebugContext(ctx, "pipeline: attempt did not confirm",
					slog.String("market_id", c.MarketID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Approved = int(approved.Load())
	sum.Skipped = int(skipped.Load())
	sum.Confirmed = int(confirmed.Load())
	sum.Failed = int(failed.Load())
}

func (l *ScanLoop) publish(ctx context.Context, sum CycleSummary) {
	if l.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := l.deps.Bus.Publish(context.WithoutCancel(ctx), domain.ChannelCycles, payload); err != nil {
		l.logger.WarnContext(ctx, "pipeline: publish cycle summary failed", slog.String("error", err.Error()))
	}
}

func (l *ScanLoop) lockTTL() time.Duration {
	if l.cfg.CycleTimeout > 0 {
		return 2 * l.cfg.CycleTimeout
	}
	return 2 * l.cfg.Interval
}

func reason(d domain.SizingDecision) string {
	if d.Reason == nil {
		return "rejected"
	}
	return d.Reason.Error()
}
