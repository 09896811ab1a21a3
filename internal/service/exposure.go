package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

// ExposureView is what a sizer sees of the book for one market while the
// book is locked.
type ExposureView struct {
	MarketCommitted decimal.Decimal
	MarketReserved  decimal.Decimal
	HasPosition     bool
	TotalCommitted  decimal.Decimal
	TotalReserved   decimal.Decimal
}

// Outstanding is committed plus reserved exposure across all markets.
func (v ExposureView) Outstanding() decimal.Decimal {
	return v.TotalCommitted.Add(v.TotalReserved)
}

// ExposureSnapshot is a point-in-time copy of the book.
type ExposureSnapshot struct {
	Positions      []domain.Position          `json:"positions"`
	Reserved       map[string]decimal.Decimal `json:"reserved"`
	TotalCommitted decimal.Decimal            `json:"total_committed"`
	TotalReserved  decimal.Decimal            `json:"total_reserved"`
	PerMarketCap   decimal.Decimal            `json:"per_market_cap"`
	TotalCap       decimal.Decimal            `json:"total_cap"`
}

// ExposureBook tracks committed positions and in-flight reservations per
// market. A single mutex guards every field, and all reads and writes go
// through its methods.
//
// Invariants held after every method returns:
//   - a market is never both reserved and committed
//   - committed[m] + reserved[m] <= perMarketCap
//   - totalCommitted + totalReserved <= totalCap (except after Restore of
//     positions that already exceed it, which only blocks new reservations)
type ExposureBook struct {
	mu sync.Mutex

	perMarketCap decimal.Decimal
	totalCap     decimal.Decimal

	committed      map[string]domain.Position
	totalCommitted decimal.Decimal
	reserved       map[string]decimal.Decimal
	totalReserved  decimal.Decimal

	onChange func(committed, reserved decimal.Decimal)
}

// NewExposureBook creates an empty book with the given caps.
func NewExposureBook(perMarketCap, totalCap decimal.Decimal) *ExposureBook {
	return &ExposureBook{
		perMarketCap: perMarketCap,
		totalCap:     totalCap,
		committed:    make(map[string]domain.Position),
		reserved:     make(map[string]decimal.Decimal),
	}
}

// OnChange registers fn to be called with the new totals after every
// mutation. fn runs under the book lock and must not call back into the book.
func (b *ExposureBook) OnChange(fn func(committed, reserved decimal.Decimal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Reserve runs sizer against the current view of marketID and, if the
// decision is approved, reserves the approved size before releasing the
// lock. Sizing and reservation are therefore one atomic step.
func (b *ExposureBook) Reserve(marketID string, sizer func(ExposureView) domain.SizingDecision) domain.SizingDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, hasPos := b.committed[marketID]
	res, hasRes := b.reserved[marketID]
	view := ExposureView{
		MarketCommitted: pos.Size,
		MarketReserved:  res,
		HasPosition:     hasPos || hasRes,
		TotalCommitted:  b.totalCommitted,
		TotalReserved:   b.totalReserved,
	}

	d := sizer(view)
	if !d.Approved {
		return d
	}
	if hasPos || hasRes {
		return domain.Reject(domain.ErrDuplicatePosition)
	}
	if !d.Size.IsPositive() ||
		d.Size.GreaterThan(b.perMarketCap) ||
		view.Outstanding().Add(d.Size).GreaterThan(b.totalCap) {
		return domain.Reject(fmt.Errorf("%w: size %s over caps", domain.ErrExposureExceeded, d.Size))
	}

	b.reserved[marketID] = d.Size
	b.totalReserved = b.totalReserved.Add(d.Size)
	b.changed()
	return d
}

// Commit converts the reservation on pos.MarketID into a committed position.
// pos.Size may not exceed the reservation. It fails if no reservation exists,
// so a reservation can be committed at most once.
func (b *ExposureBook) Commit(pos domain.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.reserved[pos.MarketID]
	if !ok {
		return fmt.Errorf("exposure: commit %s: no reservation: %w", pos.MarketID, domain.ErrNotFound)
	}
	if pos.Size.GreaterThan(res) {
		return fmt.Errorf("exposure: commit %s: size %s exceeds reservation %s: %w",
			pos.MarketID, pos.Size, res, domain.ErrExposureExceeded)
	}

	delete(b.reserved, pos.MarketID)
	b.totalReserved = b.totalReserved.Sub(res)
	b.committed[pos.MarketID] = pos
	b.totalCommitted = b.totalCommitted.Add(pos.Size)
	b.changed()
	return nil
}

// Release drops the reservation on marketID. It reports whether one existed.
func (b *ExposureBook) Release(marketID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.reserved[marketID]
	if !ok {
		return false
	}
	delete(b.reserved, marketID)
	b.totalReserved = b.totalReserved.Sub(res)
	b.changed()
	return true
}

// Close removes the committed position on marketID, typically after the
// market resolved.
func (b *ExposureBook) Close(marketID string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.committed[marketID]
	if !ok {
		return domain.Position{}, false
	}
	delete(b.committed, marketID)
	b.totalCommitted = b.totalCommitted.Sub(pos.Size)
	b.changed()
	return pos, true
}

// Restore replaces the committed positions with positions, typically loaded
// from the database at startup. Reservations are cleared. When a market
// appears more than once the sizes are summed.
func (b *ExposureBook) Restore(positions []domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.committed = make(map[string]domain.Position, len(positions))
	b.reserved = make(map[string]decimal.Decimal)
	b.totalCommitted = decimal.Zero
	b.totalReserved = decimal.Zero
	for _, p := range positions {
		if prev, ok := b.committed[p.MarketID]; ok {
			p.Size = p.Size.Add(prev.Size)
			p.Shares = p.Shares.Add(prev.Shares)
		}
		b.committed[p.MarketID] = p
	}
	for _, p := range b.committed {
		b.totalCommitted = b.totalCommitted.Add(p.Size)
	}
	b.changed()
}

// Position returns the committed position on marketID.
func (b *ExposureBook) Position(marketID string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.committed[marketID]
	return pos, ok
}

// Positions returns the committed positions ordered by market ID.
func (b *ExposureBook) Positions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionsLocked()
}

// Snapshot returns a copy of the book's state.
func (b *ExposureBook) Snapshot() ExposureSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	reserved := make(map[string]decimal.Decimal, len(b.reserved))
	for m, s := range b.reserved {
		reserved[m] = s
	}
	return ExposureSnapshot{
		Positions:      b.positionsLocked(),
		Reserved:       reserved,
		TotalCommitted: b.totalCommitted,
		TotalReserved:  b.totalReserved,
		PerMarketCap:   b.perMarketCap,
		TotalCap:       b.totalCap,
	}
}

func (b *ExposureBook) positionsLocked() []domain.Position {
	out := make([]domain.Position, 0, len(b.committed))
	for _, p := range b.committed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

func (b *ExposureBook) changed() {
	if b.onChange != nil {
		b.onChange(b.totalCommitted, b.totalReserved)
	}
}
