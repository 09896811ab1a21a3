package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultRisk() RiskConfig {
	return RiskConfig{
		Bankroll:        dec("30"),
		CapitalFraction: dec("1"),
		PerTradeCap:     dec("5"),
		PerMarketCap:    dec("5"),
		TotalCap:        dec("15"),
		MinOrderSize:    dec("1"),
	}
}

func newRisk(cfg RiskConfig) (*RiskService, *ExposureBook) {
	book := NewExposureBook(cfg.PerMarketCap, cfg.TotalCap)
	return NewRiskService(book, cfg, discardLogger()), book
}

func candidate(id, price, liquidity string) domain.Candidate {
	return domain.Candidate{MarketID: id, Outcome: "Yes", Price: dec(price), Liquidity: dec(liquidity)}
}

func TestEvaluateSizing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(*RiskConfig)
		c       domain.Candidate
		want    string
		wantErr error
	}{
		{name: "per trade cap", c: candidate("m", "0.98", "1000"), want: "5"},
		{name: "liquidity clamp", c: candidate("m", "0.98", "3"), want: "2.94"},
		{name: "rounds down to cents", c: candidate("m", "0.975", "3"), want: "2.92"},
		{name: "below min order", c: candidate("m", "0.98", "1"), wantErr: domain.ErrExposureExceeded},
		{name: "zero liquidity", c: candidate("m", "0.98", "0"), wantErr: domain.ErrExposureExceeded},
		{
			name: "capital fraction",
			cfg:  func(c *RiskConfig) { c.CapitalFraction = dec("0.1") },
			c:    candidate("m", "0.98", "1000"),
			want: "3",
		},
		{
			name: "small bankroll",
			cfg:  func(c *RiskConfig) { c.Bankroll = dec("2.5") },
			c:    candidate("m", "0.98", "1000"),
			want: "2.5",
		},
		{
			name: "per market cap below trade cap",
			cfg:  func(c *RiskConfig) { c.PerMarketCap = dec("4") },
			c:    candidate("m", "0.98", "1000"),
			want: "4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultRisk()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			svc, _ := newRisk(cfg)
			d := svc.Evaluate(context.Background(), tt.c)
			if tt.wantErr != nil {
				if d.Approved || !errors.Is(d.Reason, tt.wantErr) {
					t.Fatalf("got %+v, want rejection %v", d, tt.wantErr)
				}
				return
			}
			if !d.Approved {
				t.Fatalf("rejected: %v", d.Reason)
			}
			if !d.Size.Equal(dec(tt.want)) {
				t.Errorf("size: got %s, want %s", d.Size, tt.want)
			}
		})
	}
}

func TestEvaluateDuplicatePosition(t *testing.T) {
	svc, _ := newRisk(defaultRisk())
	c := candidate("m1", "0.98", "100")
	if d := svc.Evaluate(context.Background(), c); !d.Approved {
		t.Fatalf("first evaluation rejected: %v", d.Reason)
	}
	d := svc.Evaluate(context.Background(), c)
	if d.Approved || !errors.Is(d.Reason, domain.ErrDuplicatePosition) {
		t.Fatalf("got %+v, want ErrDuplicatePosition", d)
	}
	if DecisionLabel(d) != "duplicate_position" {
		t.Errorf("label: got %s", DecisionLabel(d))
	}
}

func TestEvaluateDuplicateOfCommitted(t *testing.T) {
	svc, book := newRisk(defaultRisk())
	book.Restore([]domain.Position{{MarketID: "m1", Size: dec("5")}})
	if d := svc.Evaluate(context.Background(), candidate("m1", "0.98", "100")); !errors.Is(d.Reason, domain.ErrDuplicatePosition) {
		t.Fatalf("got %+v, want ErrDuplicatePosition", d)
	}
}

func TestEvaluateTotalCap(t *testing.T) {
	svc, book := newRisk(defaultRisk())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if d := svc.Evaluate(ctx, candidate(fmt.Sprintf("m%d", i), "0.98", "100")); !d.Approved {
			t.Fatalf("market %d rejected: %v", i, d.Reason)
		}
	}
	d := svc.Evaluate(ctx, candidate("m4", "0.98", "100"))
	if d.Approved || !errors.Is(d.Reason, domain.ErrExposureExceeded) {
		t.Fatalf("got %+v, want ErrExposureExceeded", d)
	}
	if DecisionLabel(d) != "exposure_exceeded" {
		t.Errorf("label: got %s", DecisionLabel(d))
	}

	// Releasing one reservation makes room again.
	book.Release("m0")
	if d := svc.Evaluate(ctx, candidate("m4", "0.98", "100")); !d.Approved {
		t.Fatalf("after release: %v", d.Reason)
	}
}

func TestEvaluateConcurrentNeverExceedsCaps(t *testing.T) {
	cfg := defaultRisk()
	svc, book := newRisk(cfg)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved = decimal.Zero
		count    int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := svc.Evaluate(context.Background(), candidate(fmt.Sprintf("m%d", i%20), "0.98", "100"))
			if !d.Approved {
				return
			}
			mu.Lock()
			approved = approved.Add(d.Size)
			count++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if approved.GreaterThan(cfg.TotalCap) {
		t.Fatalf("approved %s over total cap %s", approved, cfg.TotalCap)
	}
	if count != 3 {
		t.Errorf("approvals: got %d, want 3", count)
	}
	if snap := book.Snapshot(); !snap.TotalReserved.Equal(approved) {
		t.Errorf("reserved: got %s, want %s", snap.TotalReserved, approved)
	}
}
