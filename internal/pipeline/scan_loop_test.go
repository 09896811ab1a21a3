package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/executor"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
	"github.com/alanyoungcy/clearwinbot/internal/service"
	"github.com/alanyoungcy/clearwinbot/internal/strategy"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// market builds a binary market whose Yes outcome trades at yes. A nil
// resolvesIn leaves the resolution time unknown.
func market(id, yes string, resolvesIn *time.Duration) domain.MarketSnapshot {
	s := domain.MarketSnapshot{
		MarketID: id,
		Question: "Will " + id + " happen?",
		Outcomes: []domain.OutcomeQuote{
			{Label: "Yes", TokenID: id + "-yes", Price: nd(yes)},
			{Label: "No", TokenID: id + "-no", Price: decimal.NewNullDecimal(dec("1").Sub(dec(yes)))},
		},
		FetchedAt: now,
	}
	if resolvesIn != nil {
		at := now.Add(*resolvesIn)
		s.ResolutionTime = &at
	}
	return s
}

func in(d time.Duration) *time.Duration { return &d }

type fakeSource struct {
	mu      sync.Mutex
	snaps   []domain.MarketSnapshot
	books   map[string]domain.BookTop
	err     error
	bookErr map[string]error
	fetches int
}

func (f *fakeSource) FetchMarkets(context.Context) ([]domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.MarketSnapshot, len(f.snaps))
	for i, s := range f.snaps {
		s.Outcomes = append([]domain.OutcomeQuote(nil), s.Outcomes...)
		out[i] = s
	}
	return out, nil
}

func (f *fakeSource) FetchOrderBook(_ context.Context, tokenID string) (domain.BookTop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bookErr[tokenID]; err != nil {
		return domain.BookTop{}, err
	}
	if top, ok := f.books[tokenID]; ok {
		return top, nil
	}
	return domain.BookTop{}, nil
}

func book(ask, liquidity string) domain.BookTop {
	return domain.BookTop{BestAsk: nd(ask), Liquidity: nd(liquidity)}
}

type memorySink struct {
	mu   sync.Mutex
	recs []domain.TradeRecord
}

func (m *memorySink) Record(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memorySink) records() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TradeRecord(nil), m.recs...)
}

type loopHarness struct {
	loop *ScanLoop
	book *service.ExposureBook
	sink *memorySink
}

func newLoop(src MarketSource, deps ScanDeps, logger *slog.Logger) *loopHarness {
	book := service.NewExposureBook(dec("5"), dec("15"))
	risk := service.NewRiskService(book, service.RiskConfig{
		Bankroll:        dec("30"),
		CapitalFraction: dec("1"),
		PerTradeCap:     dec("5"),
		PerMarketCap:    dec("5"),
		TotalCap:        dec("15"),
		MinOrderSize:    dec("1"),
	}, logger)
	scanner := strategy.NewClearWinScanner(strategy.ClearWinConfig{
		MinPrice:     dec("0.97"),
		MaxPrice:     dec("0.995"),
		MinHorizon:   5 * time.Minute,
		MaxHorizon:   24 * time.Hour,
		MinLiquidity: dec("1"),
	}, func() time.Time { return now }, logger)
	sink := &memorySink{}
	engine := executor.NewEngine(executor.NewPaperExecutor(), book, executor.NewLedger(time.Hour, nil),
		sink, nil, nil, retry.Policy{MaxAttempts: 3}, logger)

	loop := NewScanLoop(src, scanner, risk, engine, LoopConfig{Workers: 4, Once: true}, deps, logger)
	loop.now = func() time.Time { return now }
	return &loopHarness{loop: loop, book: book, sink: sink}
}

func TestRunOnceConfirmsClearWin(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{market("a", "0.98", in(2*time.Hour))},
		books: map[string]domain.BookTop{"a-yes": book("0.98", "1000")},
	}
	h := newLoop(src, ScanDeps{}, discardLogger())

	sum := h.loop.RunOnce(context.Background())
	if sum.Result != CycleOK || sum.Candidates != 1 || sum.Confirmed != 1 {
		t.Fatalf("summary: got %+v", sum)
	}

	recs := h.sink.records()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.AttemptConfirmed || rec.Mode != domain.ModePaper {
		t.Errorf("record: got status %s mode %s", rec.Status, rec.Mode)
	}
	if !rec.Price.Equal(dec("0.98")) || !rec.Size.Equal(dec("5")) {
		t.Errorf("fill: got price %s size %s, want 0.98 and 5", rec.Price, rec.Size)
	}
	if pos, ok := h.book.Position("a"); !ok || !pos.Size.Equal(dec("5")) {
		t.Errorf("position: got %+v, %v", pos, ok)
	}
}

func TestRunOnceExcludesOutsideBandAndUnknownResolution(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{
			market("too-sure", "0.999", in(2*time.Hour)),
			market("no-date", "0.975", nil),
		},
		books: map[string]domain.BookTop{
			"too-sure-yes": book("0.999", "1000"),
			"no-date-yes":  book("0.975", "1000"),
		},
	}
	h := newLoop(src, ScanDeps{}, discardLogger())

	sum := h.loop.RunOnce(context.Background())
	if sum.Candidates != 0 || len(h.sink.records()) != 0 {
		t.Fatalf("got %d candidates and %d records, want none", sum.Candidates, len(h.sink.records()))
	}
}

func TestRunOnceDuplicateMarketInOneCycle(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{
			market("dup", "0.98", in(2*time.Hour)),
			market("dup", "0.98", in(2*time.Hour)),
		},
		books: map[string]domain.BookTop{"dup-yes": book("0.98", "1000")},
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newLoop(src, ScanDeps{}, logger)

	sum := h.loop.RunOnce(context.Background())
	if sum.Candidates != 2 || sum.Approved != 1 || sum.Skipped != 1 {
		t.Fatalf("summary: got %+v", sum)
	}
	if n := len(h.sink.records()); n != 1 {
		t.Errorf("records: got %d, want 1", n)
	}
	// Even at debug level the rejection is logged once, by the loop.
	if n := strings.Count(buf.String(), domain.ErrDuplicatePosition.Error()); n != 1 {
		t.Errorf("skip reason logged %d times, want 1: %s", n, buf.String())
	}
}

func TestRunOnceSkipsCycleWhenGatewayUnavailable(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("service: fetch markets: %w", domain.ErrGatewayUnavailable)}
	var buf bytes.Buffer
	h := newLoop(src, ScanDeps{}, slog.New(slog.NewJSONHandler(&buf, nil)))

	sum := h.loop.RunOnce(context.Background())
	if sum.Result != CycleSkipped || sum.Candidates != 0 {
		t.Fatalf("summary: got %+v", sum)
	}
	if !strings.Contains(buf.String(), "gateway unavailable") {
		t.Errorf("gateway failure not logged: %s", buf.String())
	}

	// The next cycle runs normally once the gateway recovers.
	src.mu.Lock()
	src.err = nil
	src.snaps = []domain.MarketSnapshot{market("a", "0.98", in(2*time.Hour))}
	src.books = map[string]domain.BookTop{"a-yes": book("0.98", "1000")}
	src.mu.Unlock()

	if sum := h.loop.RunOnce(context.Background()); sum.Result != CycleOK || sum.Confirmed != 1 {
		t.Fatalf("recovery cycle: got %+v", sum)
	}
}

func TestRunOnceDropsMarketWithoutBook(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{
			market("a", "0.98", in(2*time.Hour)),
			market("b", "0.98", in(2*time.Hour)),
		},
		books:   map[string]domain.BookTop{"b-yes": book("0.98", "1000")},
		bookErr: map[string]error{"a-yes": domain.ErrGatewayUnavailable},
	}
	h := newLoop(src, ScanDeps{}, discardLogger())

	sum := h.loop.RunOnce(context.Background())
	if sum.Shortlisted != 1 || sum.Confirmed != 1 {
		t.Fatalf("summary: got %+v", sum)
	}
	if recs := h.sink.records(); len(recs) != 1 || recs[0].MarketID != "b" {
		t.Errorf("records: got %+v", recs)
	}
}

func TestRunOnceRespectsTotalCap(t *testing.T) {
	var snaps []domain.MarketSnapshot
	books := map[string]domain.BookTop{}
	for i := range 6 {
		id := fmt.Sprintf("m%d", i)
		snaps = append(snaps, market(id, "0.98", in(2*time.Hour)))
		books[id+"-yes"] = book("0.98", "1000")
	}
	h := newLoop(&fakeSource{snaps: snaps, books: books}, ScanDeps{}, discardLogger())

	sum := h.loop.RunOnce(context.Background())
	if sum.Confirmed != 3 || sum.Skipped != 3 {
		t.Fatalf("summary: got %+v", sum)
	}
	if total := h.book.Snapshot().TotalCommitted; !total.Equal(dec("15")) {
		t.Errorf("total committed: got %s, want 15", total)
	}
}

func TestRunOnceCancelledStartsNoCandidates(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{market("a", "0.98", in(2*time.Hour))},
		books: map[string]domain.BookTop{"a-yes": book("0.98", "1000")},
	}
	h := newLoop(src, ScanDeps{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := h.loop.RunOnce(ctx)
	if sum.Approved != 0 || len(h.sink.records()) != 0 {
		t.Fatalf("got %+v with %d records", sum, len(h.sink.records()))
	}
}

type fakeLock struct{ err error }

func (f fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	src := &fakeSource{}
	h := newLoop(src, ScanDeps{Lock: fakeLock{err: domain.ErrLockHeld}}, discardLogger())

	if sum := h.loop.RunOnce(context.Background()); sum.Result != CycleLocked {
		t.Fatalf("result: got %s, want %s", sum.Result, CycleLocked)
	}
	if src.fetches != 0 {
		t.Errorf("fetches: got %d, want 0", src.fetches)
	}
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func TestRunOncePublishesSummary(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{market("a", "0.98", in(2*time.Hour))},
		books: map[string]domain.BookTop{"a-yes": book("0.98", "1000")},
	}
	bus := &fakeBus{}
	h := newLoop(src, ScanDeps{Bus: bus, Lock: fakeLock{}}, discardLogger())
	h.loop.RunOnce(context.Background())

	if len(bus.channels) != 1 || bus.channels[0] != domain.ChannelCycles {
		t.Fatalf("channels: got %v", bus.channels)
	}
	var sum CycleSummary
	if err := json.Unmarshal(bus.payloads[0], &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Confirmed != 1 || !sum.CycleAt.Equal(now) {
		t.Errorf("published summary: got %+v", sum)
	}
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestratorOnceRunsSingleCycle(t *testing.T) {
	src := &fakeSource{
		snaps: []domain.MarketSnapshot{market("a", "0.98", in(2*time.Hour))},
		books: map[string]domain.BookTop{"a-yes": book("0.98", "1000")},
	}
	h := newLoop(src, ScanDeps{}, discardLogger())
	bg := &countingRunner{}
	o := NewOrchestrator(h.loop, discardLogger())
	o.Add("background", bg)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.fetches != 1 || len(h.sink.records()) != 1 {
		t.Errorf("got %d fetches and %d records", src.fetches, len(h.sink.records()))
	}
	if bg.calls != 0 {
		t.Errorf("background loop started in once mode")
	}
}

func TestOrchestratorStopsCleanlyOnCancel(t *testing.T) {
	h := newLoop(&fakeSource{}, ScanDeps{}, discardLogger())
	h.loop.cfg.Once = false
	h.loop.cfg.Interval = time.Hour
	bg := &countingRunner{}
	o := NewOrchestrator(h.loop, discardLogger())
	o.Add("background", bg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		bg.mu.Lock()
		started := bg.calls == 1
		bg.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background loop never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

type fakeArchiver struct {
	before time.Time
	err    error
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 7, f.err
}

func TestArchiveLoopCutoff(t *testing.T) {
	arch := &fakeArchiver{}
	a := NewArchiveLoop(arch, 720*time.Hour, time.Hour, discardLogger())
	a.now = func() time.Time { return now }

	n, err := a.RunOnce(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("RunOnce: got %d, %v", n, err)
	}
	if want := now.Add(-720 * time.Hour); !arch.before.Equal(want) {
		t.Errorf("cutoff: got %v, want %v", arch.before, want)
	}

	arch.err = errors.New("bucket gone")
	if _, err := a.RunOnce(context.Background()); err == nil {
		t.Error("expected archive error")
	}
}
