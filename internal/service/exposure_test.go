package service

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func approve(size string) func(ExposureView) domain.SizingDecision {
	return func(ExposureView) domain.SizingDecision { return domain.Approve(dec(size)) }
}

func TestExposureReserveCommitRelease(t *testing.T) {
	b := NewExposureBook(dec("5"), dec("15"))

	if d := b.Reserve("m1", approve("5")); !d.Approved {
		t.Fatalf("reserve m1: got %v", d.Reason)
	}
	if d := b.Reserve("m1", approve("1")); d.Approved || !errors.Is(d.Reason, domain.ErrDuplicatePosition) {
		t.Fatalf("second reserve on m1: got %+v, want duplicate", d)
	}

	if err := b.Commit(domain.Position{MarketID: "m1", Size: dec("5")}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := b.Commit(domain.Position{MarketID: "m1", Size: dec("5")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double commit: got %v, want ErrNotFound", err)
	}

	b.Reserve("m2", approve("3"))
	if !b.Release("m2") {
		t.Fatal("release m2: want true")
	}
	if b.Release("m2") {
		t.Fatal("second release m2: want false")
	}

	snap := b.Snapshot()
	if !snap.TotalCommitted.Equal(dec("5")) || !snap.TotalReserved.IsZero() {
		t.Errorf("totals: got committed=%s reserved=%s", snap.TotalCommitted, snap.TotalReserved)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].MarketID != "m1" {
		t.Errorf("positions: got %+v", snap.Positions)
	}

	if _, ok := b.Close("m1"); !ok {
		t.Fatal("close m1: want true")
	}
	if snap := b.Snapshot(); !snap.TotalCommitted.IsZero() {
		t.Errorf("committed after close: got %s", snap.TotalCommitted)
	}
}

func TestExposureRejectsOverCap(t *testing.T) {
	b := NewExposureBook(dec("5"), dec("8"))
	if d := b.Reserve("m1", approve("6")); d.Approved {
		t.Fatal("size over per-market cap approved")
	}
	b.Reserve("m1", approve("5"))
	if d := b.Reserve("m2", approve("4")); d.Approved || !errors.Is(d.Reason, domain.ErrExposureExceeded) {
		t.Fatalf("over total cap: got %+v", d)
	}
}

func TestExposureCommitCannotExceedReservation(t *testing.T) {
	b := NewExposureBook(dec("5"), dec("15"))
	b.Reserve("m1", approve("2"))
	if err := b.Commit(domain.Position{MarketID: "m1", Size: dec("3")}); !errors.Is(err, domain.ErrExposureExceeded) {
		t.Fatalf("got %v, want ErrExposureExceeded", err)
	}
}

func TestExposureRestore(t *testing.T) {
	b := NewExposureBook(dec("5"), dec("15"))
	b.Reserve("stale", approve("1"))
	b.Restore([]domain.Position{
		{MarketID: "a", Size: dec("2"), Shares: dec("2.04")},
		{MarketID: "a", Size: dec("1"), Shares: dec("1.02")},
		{MarketID: "b", Size: dec("4")},
	})
	snap := b.Snapshot()
	if !snap.TotalCommitted.Equal(dec("7")) || !snap.TotalReserved.IsZero() {
		t.Fatalf("totals: got committed=%s reserved=%s", snap.TotalCommitted, snap.TotalReserved)
	}
	pos, ok := b.Position("a")
	if !ok || !pos.Size.Equal(dec("3")) || !pos.Shares.Equal(dec("3.06")) {
		t.Errorf("merged position: got %+v", pos)
	}
	if d := b.Reserve("a", approve("1")); d.Approved {
		t.Error("restored market should block a new reservation")
	}
}

func TestExposureOnChange(t *testing.T) {
	b := NewExposureBook(dec("5"), dec("15"))
	var last decimal.Decimal
	b.OnChange(func(committed, reserved decimal.Decimal) { last = committed.Add(reserved) })
	b.Reserve("m1", approve("4"))
	if !last.Equal(dec("4")) {
		t.Errorf("outstanding: got %s, want 4", last)
	}
}

// Random interleavings of reserve, commit, release and close never break
// the caps or the totals.
func TestExposureInvariantsUnderRandomOps(t *testing.T) {
	perMarket, total := dec("5"), dec("15")
	b := NewExposureBook(perMarket, total)
	rng := rand.New(rand.NewSource(7))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		seed := rng.Int63()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				m := fmt.Sprintf("m%d", r.Intn(6))
				size := decimal.NewFromInt(int64(r.Intn(7)))
				switch r.Intn(4) {
				case 0, 1:
					d := b.Reserve(m, func(ExposureView) domain.SizingDecision { return domain.Approve(size) })
					if d.Approved && r.Intn(2) == 0 {
						_ = b.Commit(domain.Position{MarketID: m, Size: size})
					}
				case 2:
					b.Release(m)
				case 3:
					b.Close(m)
				}
				checkInvariants(t, b, perMarket, total)
			}
		}()
	}
	wg.Wait()
}

func checkInvariants(t *testing.T, b *ExposureBook, perMarket, total decimal.Decimal) {
	t.Helper()
	snap := b.Snapshot()
	sumCommitted, sumReserved := decimal.Zero, decimal.Zero
	for _, p := range snap.Positions {
		if p.Size.GreaterThan(perMarket) {
			t.Errorf("market %s committed %s over cap", p.MarketID, p.Size)
		}
		if _, both := snap.Reserved[p.MarketID]; both {
			t.Errorf("market %s both reserved and committed", p.MarketID)
		}
		sumCommitted = sumCommitted.Add(p.Size)
	}
	for m, s := range snap.Reserved {
		if s.GreaterThan(perMarket) {
			t.Errorf("market %s reserved %s over cap", m, s)
		}
		sumReserved = sumReserved.Add(s)
	}
	if !sumCommitted.Equal(snap.TotalCommitted) || !sumReserved.Equal(snap.TotalReserved) {
		t.Errorf("totals drifted: committed %s vs %s, reserved %s vs %s",
			sumCommitted, snap.TotalCommitted, sumReserved, snap.TotalReserved)
	}
	if snap.TotalCommitted.Add(snap.TotalReserved).GreaterThan(total) {
		t.Errorf("outstanding %s over total cap", snap.TotalCommitted.Add(snap.TotalReserved))
	}
}
