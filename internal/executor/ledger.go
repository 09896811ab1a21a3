package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// ErrDuplicateAttempt is returned when an idempotency key was already
// claimed by an earlier execution.
var ErrDuplicateAttempt = errors.New("duplicate attempt")

type ledgerEntry struct {
	claimedAt time.Time
	record    *domain.TradeRecord // nil while in flight
}

// Ledger records which idempotency keys have been claimed and the terminal
// record each produced. An optional durable store extends the guarantee
// across restarts. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
	ttl     time.Duration
	durable domain.IdempotencyStore
	now     func() time.Time
}

// NewLedger creates a Ledger that forgets completed keys after ttl. durable
// may be nil.
func NewLedger(ttl time.Duration, durable domain.IdempotencyStore) *Ledger {
	return &Ledger{
		entries: make(map[string]*ledgerEntry),
		ttl:     ttl,
		durable: durable,
		now:     time.Now,
	}
}

// Claim reserves key for the caller. If key was claimed before it returns
// ErrDuplicateAttempt together with the earlier terminal record, which is
// nil while that execution is still in flight. Any other error means the
// claim could not be verified and nothing may be submitted.
func (l *Ledger) Claim(ctx context.Context, key string) (*domain.TradeRecord, error) {
	l.mu.Lock()
	if e, ok := l.entries[key]; ok {
		l.mu.Unlock()
		return e.record, ErrDuplicateAttempt
	}
	l.entries[key] = &ledgerEntry{claimedAt: l.now()}
	l.mu.Unlock()

	if l.durable == nil {
		return nil, nil
	}

	fresh, err := l.durable.Claim(ctx, key, l.ttl)
	if err != nil {
		l.forget(key)
		return nil, fmt.Errorf("executor/ledger: claim %s: %w", key, err)
	}
	if fresh {
		return nil, nil
	}

	// Claimed by an earlier process. Keep the local entry so the next
	// caller short-circuits without a round trip.
	payload, err := l.durable.Result(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrDuplicateAttempt
		}
		return nil, fmt.Errorf("executor/ledger: result %s: %w: %w", key, ErrDuplicateAttempt, err)
	}
	var rec domain.TradeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("executor/ledger: decode %s: %w: %w", key, ErrDuplicateAttempt, err)
	}
	l.mu.Lock()
	l.entries[key].record = &rec
	l.mu.Unlock()
	return &rec, ErrDuplicateAttempt
}

// Complete stores the terminal record for a claimed key.
func (l *Ledger) Complete(ctx context.Context, key string, rec domain.TradeRecord) error {
	l.mu.Lock()
	if e, ok := l.entries[key]; ok {
		r := rec
		e.record = &r
	}
	l.mu.Unlock()

	if l.durable == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("executor/ledger: encode %s: %w", key, err)
	}
	if err := l.durable.Complete(ctx, key, payload, l.ttl); err != nil {
		return fmt.Errorf("executor/ledger: complete %s: %w", key, err)
	}
	return nil
}

// Cleanup removes completed entries older than the TTL. In-flight entries
// are kept regardless of age.
func (l *Ledger) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if e.record != nil && now.Sub(e.claimedAt) >= l.ttl {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Ledger) forget(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}
