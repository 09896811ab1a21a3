package tradelog

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

func record(id string, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:      at,
		AttemptID:      id,
		MarketID:       "m-" + id,
		Question:       `Will "it", happen?`,
		Outcome:        "Yes",
		Side:           domain.OrderSideBuy,
		Price:          decimal.RequireFromString("0.98"),
		Size:           decimal.RequireFromString("4.9"),
		Shares:         decimal.RequireFromString("5"),
		ExpectedPayout: decimal.RequireFromString("0.1"),
		Mode:           domain.ModePaper,
		Status:         domain.AttemptConfirmed,
		Attempts:       1,
		OrderID:        "paper-" + id,
	}
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func TestCSVLogHeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.csv")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	if err := l.Record(context.Background(), record("a", at)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = l.Close()

	l, err = OpenCSV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := l.Record(context.Background(), record("b", at.Add(time.Minute))); err != nil {
		t.Fatalf("Record: %v", err)
	}
	defer l.Close()

	got := lines(t, path)
	if len(got) != 3 {
		t.Fatalf("lines: got %d, want 3 (header + 2 rows)", len(got))
	}
	if got[0] != strings.Join(Header, ",") {
		t.Errorf("header: got %q", got[0])
	}
	if !strings.HasPrefix(got[1], "2026-03-01T12:00:00Z,a,m-a,") {
		t.Errorf("row: got %q", got[1])
	}
}

func TestCSVLogListRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	l, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer l.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = l.Record(context.Background(), record(id, at.Add(time.Duration(i)*time.Minute)))
	}

	got, err := l.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 || got[0].AttemptID != "c" || got[1].AttemptID != "b" {
		t.Fatalf("got %+v", got)
	}
	want := record("c", at.Add(2*time.Minute))
	if got[0].Question != want.Question || !got[0].Price.Equal(want.Price) || got[0].Attempts != 1 {
		t.Errorf("round trip: got %+v", got[0])
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, domain.TradeRecord) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Record(context.Context, domain.TradeRecord) error { c.n++; return nil }

func TestMultiTriesEverySink(t *testing.T) {
	boom := errors.New("boom")
	after := &countingSink{}
	m := NewMulti(slog.New(slog.NewTextHandler(io.Discard, nil)), failingSink{boom}, nil, after)

	err := m.Record(context.Background(), record("a", time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if after.n != 1 {
		t.Errorf("later sink calls: got %d, want 1", after.n)
	}
}
