package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

type fakeResolutions map[string]domain.MarketResolution

func (f fakeResolutions) GetMarketResolution(_ context.Context, id string) (domain.MarketResolution, error) {
	res, ok := f[id]
	if !ok {
		return domain.MarketResolution{}, domain.ErrNotFound
	}
	return res, nil
}

type fakePositionStore struct {
	mu       sync.Mutex
	resolved map[string]domain.PositionResolution
	modes    map[string]domain.Mode
	err      error
}

func (f *fakePositionStore) Open(context.Context, domain.Position) error { return nil }
func (f *fakePositionStore) ListOpen(context.Context, domain.Mode) ([]domain.Position, error) {
	return nil, nil
}
func (f *fakePositionStore) Resolve(_ context.Context, id string, mode domain.Mode, res domain.PositionResolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved == nil {
		f.resolved = make(map[string]domain.PositionResolution)
		f.modes = make(map[string]domain.Mode)
	}
	f.resolved[id] = res
	f.modes[id] = mode
	return f.err
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error       { return nil }

func TestCheckResolutions(t *testing.T) {
	book := NewExposureBook(dec("5"), dec("15"))
	book.Restore([]domain.Position{
		{MarketID: "won", Outcome: "Yes", Size: dec("4.9"), Shares: dec("5"), Mode: domain.ModeLive},
		{MarketID: "lost", Outcome: "Yes", Size: dec("4.9"), Shares: dec("5"), Mode: domain.ModeLive},
		{MarketID: "open", Outcome: "Yes", Size: dec("1"), Shares: dec("1.02")},
		{MarketID: "unknown", Outcome: "Yes", Size: dec("1")},
	})
	source := fakeResolutions{
		"won":  {Closed: true, WinningOutcome: "Yes"},
		"lost": {Closed: true, WinningOutcome: "No"},
		"open": {Closed: false},
	}
	store := &fakePositionStore{}
	bus := &fakeBus{}
	tr := NewResolutionTracker(book, source, store, bus, nil, nil, time.Minute, discardLogger())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return at }

	if n := tr.CheckResolutions(context.Background()); n != 2 {
		t.Fatalf("settled: got %d, want 2", n)
	}

	snap := book.Snapshot()
	if !snap.TotalCommitted.Equal(dec("2")) {
		t.Errorf("committed after settle: got %s, want 2", snap.TotalCommitted)
	}
	won := store.resolved["won"]
	if !won.Won || !won.PnL.Equal(dec("0.1")) || !won.ResolvedAt.Equal(at) {
		t.Errorf("won resolution: got %+v", won)
	}
	if store.modes["won"] != domain.ModeLive {
		t.Errorf("resolved in mode %q, want live", store.modes["won"])
	}
	if lost := store.resolved["lost"]; lost.Won || !lost.PnL.Equal(dec("-4.9")) {
		t.Errorf("lost resolution: got %+v", lost)
	}
	if len(bus.channels) != 2 || bus.channels[0] != domain.ChannelPositions {
		t.Errorf("published: got %v", bus.channels)
	}

	// A second pass settles nothing new.
	if n := tr.CheckResolutions(context.Background()); n != 0 {
		t.Errorf("second pass settled %d", n)
	}
}

func TestCheckResolutionsStoreFailureStillFreesExposure(t *testing.T) {
	book := NewExposureBook(dec("5"), dec("15"))
	book.Restore([]domain.Position{{MarketID: "m", Outcome: "Yes", Size: dec("5"), Shares: dec("5.1")}})
	store := &fakePositionStore{err: errors.New("db down")}
	tr := NewResolutionTracker(book, fakeResolutions{"m": {Closed: true, WinningOutcome: "Yes"}},
		store, nil, nil, nil, time.Minute, discardLogger())

	if n := tr.CheckResolutions(context.Background()); n != 1 {
		t.Fatalf("settled: got %d, want 1", n)
	}
	if _, ok := book.Position("m"); ok {
		t.Error("position still committed")
	}
}
