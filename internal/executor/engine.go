// Package executor drives approved candidates through the order lifecycle:
// pending, then retried zero or more times, then confirmed or failed.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/metrics"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
	"github.com/alanyoungcy/clearwinbot/internal/service"
)

const finalizeTimeout = 15 * time.Second

// Engine executes order attempts against the exposure book. Exactly one of
// Commit or Release is applied per terminal attempt, and exactly one trade
// record is written.
type Engine struct {
	exec      OrderExecutor
	book      *service.ExposureBook
	ledger    *Ledger
	sink      domain.TradeSink
	positions domain.PositionStore // optional
	metrics   *metrics.Metrics     // optional
	policy    retry.Policy
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates an Engine. positions and m may be nil.
func NewEngine(
	exec OrderExecutor,
	book *service.ExposureBook,
	ledger *Ledger,
	sink domain.TradeSink,
	positions domain.PositionStore,
	m *metrics.Metrics,
	policy retry.Policy,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		exec:      exec,
		book:      book,
		ledger:    ledger,
		sink:      sink,
		positions: positions,
		metrics:   m,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "executor"), slog.String("mode", string(exec.Mode()))),
	}
}

// Mode reports the mode of the underlying executor.
func (e *Engine) Mode() domain.Mode { return e.exec.Mode() }

// IdempotencyKey derives the key of the attempt for marketID in the cycle
// that started at cycleAt.
func IdempotencyKey(marketID string, cycleAt time.Time) string {
	sum := sha256.Sum256([]byte(marketID + "|" + strconv.FormatInt(cycleAt.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:32]
}

// NewAttempt creates a pending attempt for an approved candidate.
func (e *Engine) NewAttempt(c domain.Candidate, size decimal.Decimal, cycleAt time.Time) *domain.OrderAttempt {
	return &domain.OrderAttempt{
		ID:             uuid.NewString(),
		Candidate:      c,
		RequestedSize:  size,
		Mode:           e.exec.Mode(),
		Status:         domain.AttemptPending,
		IdempotencyKey: IdempotencyKey(c.MarketID, cycleAt),
		CycleAt:        cycleAt,
	}
}

// Execute runs a to a terminal status and returns its trade record. The
// caller must hold a reservation on the book for a's market.
//
// A key that was already executed yields the earlier record (zero while
// that execution is in flight) and ErrDuplicateAttempt, with no side
// effects. A failed attempt returns its record and an error wrapping
// domain.ErrSubmissionFailed.
//
// Cancelling ctx does not interrupt an attempt once started; each try is
// still bounded by the per-call timeout and the retry ceiling.
func (e *Engine) Execute(ctx context.Context, a *domain.OrderAttempt) (domain.TradeRecord, error) {
	if a.Status.Terminal() {
		return domain.TradeRecord{}, fmt.Errorf("executor: attempt %s already %s: %w", a.ID, a.Status, ErrDuplicateAttempt)
	}

	prior, err := e.ledger.Claim(ctx, a.IdempotencyKey)
	if errors.Is(err, ErrDuplicateAttempt) {
		e.logger.WarnContext(ctx, "executor: duplicate attempt ignored",
			slog.String("attempt_id", a.ID),
			slog.String("market_id", a.Candidate.MarketID),
			slog.String("idempotency_key", a.IdempotencyKey),
		)
		if prior != nil {
			return *prior, err
		}
		return domain.TradeRecord{}, err
	}

	ctx = context.WithoutCancel(ctx)

	if err != nil {
		// Whether this key ran before is unknown, so nothing is submitted.
		a.LastError = err.Error()
		return e.fail(ctx, a)
	}

	res := retry.Do(ctx, e.policy, func(callCtx context.Context) (domain.Fill, error) {
		a.AttemptCount++
		fill, err := e.exec.Submit(callCtx, *a)
		var placed *PlacedError
		if errors.As(err, &placed) && placed.OrderID != "" {
			a.OrderID = placed.OrderID
		}
		return fill, err
	}, retry.OnRetry(func(attempt int, err error, delay time.Duration) {
		a.Status = domain.AttemptRetried
		a.LastError = err.Error()
		e.metrics.RecordSubmissionRetry()
		e.logger.WarnContext(ctx, "executor: submission failed, retrying",
			slog.String("attempt_id", a.ID),
			slog.String("market_id", a.Candidate.MarketID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
	}))

	if res.OK() {
		return e.confirm(ctx, a, res.Value)
	}

	a.LastError = res.Err.Error()
	if res.Outcome == retry.RetryableFailure {
		a.LastError = fmt.Sprintf("retries exhausted after %d attempts: %s", res.Attempts, a.LastError)
	}
	if a.AttemptCount > 0 {
		finCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
		fill, filled, ferr := e.exec.Finalize(finCtx, *a)
		cancel()
		if ferr != nil {
			e.logger.ErrorContext(ctx, "executor: finalize failed",
				slog.String("attempt_id", a.ID),
				slog.String("error", ferr.Error()),
			)
		}
		if filled {
			return e.confirm(ctx, a, fill)
		}
	}
	return e.fail(ctx, a)
}

// Sweep drops idempotency entries past their TTL.
func (e *Engine) Sweep() int {
	return e.ledger.Cleanup()
}

func (e *Engine) confirm(ctx context.Context, a *domain.OrderAttempt, fill domain.Fill) (domain.TradeRecord, error) {
	a.Status = domain.AttemptConfirmed
	a.OrderID = fill.OrderID
	a.LastError = ""

	pos := domain.Position{
		MarketID:   a.Candidate.MarketID,
		Question:   a.Candidate.Question,
		Outcome:    a.Candidate.Outcome,
		TokenID:    a.Candidate.TokenID,
		AttemptID:  a.ID,
		EntryPrice: fill.Price,
		Size:       decimal.Min(fill.Size, a.RequestedSize),
		Shares:     fill.Shares,
		Mode:       a.Mode,
		OpenedAt:   fill.FilledAt,
	}
	if err := e.book.Commit(pos); err != nil {
		e.logger.ErrorContext(ctx, "executor: commit exposure failed",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	if e.positions != nil {
		if err := e.positions.Open(ctx, pos); err != nil {
			e.logger.ErrorContext(ctx, "executor: persist position failed",
				slog.String("attempt_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	rec := e.record(a, fill.Price, pos.Size, fill.Shares)
	e.finish(ctx, a, rec)
	e.logger.InfoContext(ctx, "executor: order confirmed",
		slog.String("attempt_id", a.ID),
		slog.String("market_id", a.Candidate.MarketID),
		slog.String("outcome", a.Candidate.Outcome),
		slog.String("price", rec.Price.String()),
		slog.String("size", rec.Size.String()),
		slog.String("shares", rec.Shares.String()),
		slog.String("expected_payout", rec.ExpectedPayout.String()),
		slog.Int("attempts", a.AttemptCount),
		slog.String("order_id", a.OrderID),
	)
	return rec, nil
}

func (e *Engine) fail(ctx context.Context, a *domain.OrderAttempt) (domain.TradeRecord, error) {
	a.Status = domain.AttemptFailed
	e.book.Release(a.Candidate.MarketID)

	rec := e.record(a, a.Candidate.Price, a.RequestedSize, decimal.Zero)
	e.finish(ctx, a, rec)
	e.logger.WarnContext(ctx, "executor: order failed",
		slog.String("attempt_id", a.ID),
		slog.String("market_id", a.Candidate.MarketID),
		slog.String("size", a.RequestedSize.String()),
		slog.Int("attempts", a.AttemptCount),
		slog.String("reason", a.LastError),
	)
	return rec, fmt.Errorf("executor: attempt %s: %w: %s", a.ID, domain.ErrSubmissionFailed, a.LastError)
}

func (e *Engine) record(a *domain.OrderAttempt, price, size, shares decimal.Decimal) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:      e.now(),
		AttemptID:      a.ID,
		MarketID:       a.Candidate.MarketID,
		Question:       a.Candidate.Question,
		Outcome:        a.Candidate.Outcome,
		Side:           domain.OrderSideBuy,
		Price:          price,
		Size:           size,
		Shares:         shares,
		ExpectedPayout: domain.ExpectedPayout(shares, price),
		Mode:           a.Mode,
		Status:         a.Status,
		Attempts:       a.AttemptCount,
		OrderID:        a.OrderID,
		Reason:         a.LastError,
	}
}

func (e *Engine) finish(ctx context.Context, a *domain.OrderAttempt, rec domain.TradeRecord) {
	if err := e.ledger.Complete(ctx, a.IdempotencyKey, rec); err != nil {
		e.logger.ErrorContext(ctx, "executor: store idempotency result failed",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.sink.Record(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "executor: record trade failed",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	e.metrics.RecordAttempt(string(a.Mode), string(a.Status))
}
