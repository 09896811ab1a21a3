package executor

import (
	"context"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// OrderExecutor submits the order of one attempt. It is chosen once at
// startup: PaperExecutor simulates fills, LiveExecutor trades on the CLOB.
type OrderExecutor interface {
	Mode() domain.Mode

	// Submit makes one submission try. a.AttemptCount is the 1-based number
	// of this try. Errors exposing Retryable() decide whether the engine
	// tries again.
	Submit(ctx context.Context, a domain.OrderAttempt) (domain.Fill, error)

	// Finalize runs after the last try failed. It reports a fill if the
	// order turned out to be matched after all, and otherwise makes sure
	// nothing is left resting on the book.
	Finalize(ctx context.Context, a domain.OrderAttempt) (domain.Fill, bool, error)
}

// PlacedError reports a submission the exchange accepted under OrderID but
// did not fill. The engine records OrderID on the attempt so that later tries
// and Finalize look up the order the exchange actually holds.
type PlacedError struct {
	OrderID string
	Err     error
}

func (e *PlacedError) Error() string { return e.Err.Error() }
func (e *PlacedError) Unwrap() error { return e.Err }

// PaperExecutor fills every order in full at the candidate price without
// any network call.
type PaperExecutor struct {
	now func() time.Time
}

// NewPaperExecutor creates a PaperExecutor.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{now: func() time.Time { return time.Now().UTC() }}
}

// Mode returns domain.ModePaper.
func (p *PaperExecutor) Mode() domain.Mode { return domain.ModePaper }

// Submit returns a simulated fill.
func (p *PaperExecutor) Submit(_ context.Context, a domain.OrderAttempt) (domain.Fill, error) {
	price := a.Candidate.Price
	return domain.Fill{
		OrderID:  "paper-" + a.IdempotencyKey,
		Price:    price,
		Size:     a.RequestedSize,
		Shares:   domain.SharesFor(a.RequestedSize, price),
		FilledAt: p.now(),
	}, nil
}

// Finalize has nothing to clean up.
func (p *PaperExecutor) Finalize(context.Context, domain.OrderAttempt) (domain.Fill, bool, error) {
	return domain.Fill{}, false, nil
}
