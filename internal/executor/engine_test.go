package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/crypto"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/platform/polymarket"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
	"github.com/alanyoungcy/clearwinbot/internal/service"
)

const (
	testKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testToken = "71321045679252212594626385532706912750332728571942532289631379312455583992563"
)

var cycleAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memorySink struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (m *memorySink) Record(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// fakeClob simulates the CLOB order endpoints. Orders are remembered by
// hash, so reposting a known order does not create a second one.
type fakeClob struct {
	mu        sync.Mutex
	postErrs  []error  // consumed per post
	statuses  []string // status returned per post; "matched" when exhausted
	orders    map[string]string
	posts     []polymarket.APIOrder
	cancelled []string
	// exchangeID, when set, is reported as the order ID of every post.
	exchangeID string
}

func (f *fakeClob) PostOrder(_ context.Context, o polymarket.APIOrder, _ string) (polymarket.APIOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, o)
	if len(f.postErrs) > 0 {
		err := f.postErrs[0]
		f.postErrs = f.postErrs[1:]
		if err != nil {
			return polymarket.APIOrderResult{}, err
		}
	}
	status := "matched"
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	return polymarket.APIOrderResult{Success: true, Status: status, OrderID: f.exchangeID}, nil
}

func (f *fakeClob) GetOrder(_ context.Context, id string) (polymarket.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.orders[id]
	if !ok {
		return polymarket.OrderState{}, domain.ErrNotFound
	}
	return polymarket.OrderState{ID: id, Status: status}, nil
}

func (f *fakeClob) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	f.orders[id] = "canceled"
	return nil
}

func (f *fakeClob) setOrder(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orders == nil {
		f.orders = make(map[string]string)
	}
	f.orders[id] = status
}

func candidate() domain.Candidate {
	return domain.Candidate{
		MarketID:       "m1",
		Question:       "Will it happen?",
		Outcome:        "Yes",
		TokenID:        testToken,
		Price:          dec("0.98"),
		Liquidity:      dec("100"),
		ResolutionTime: cycleAt.Add(2 * time.Hour),
	}
}

type harness struct {
	engine *Engine
	book   *service.ExposureBook
	sink   *memorySink
}

func newHarness(t *testing.T, exec OrderExecutor, durable domain.IdempotencyStore) *harness {
	t.Helper()
	book := service.NewExposureBook(dec("5"), dec("15"))
	sink := &memorySink{}
	policy := retry.Policy{MaxAttempts: 3}
	e := NewEngine(exec, book, NewLedger(time.Hour, durable), sink, nil, nil, policy, discardLogger())
	return &harness{engine: e, book: book, sink: sink}
}

// approve reserves size on the book the way the risk service would.
func (h *harness) approve(t *testing.T, c domain.Candidate, size string) *domain.OrderAttempt {
	t.Helper()
	d := h.book.Reserve(c.MarketID, func(service.ExposureView) domain.SizingDecision {
		return domain.Approve(dec(size))
	})
	if !d.Approved {
		t.Fatalf("reserve: %v", d.Reason)
	}
	return h.engine.NewAttempt(c, d.Size, cycleAt)
}

func newLive(t *testing.T, clob *fakeClob) *LiveExecutor {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewLiveExecutor(clob, signer, nil, LiveConfig{}, discardLogger())
}

func TestIdempotencyKey(t *testing.T) {
	k1 := IdempotencyKey("m1", cycleAt)
	if len(k1) != 32 {
		t.Fatalf("key length: got %d, want 32", len(k1))
	}
	if k1 != IdempotencyKey("m1", cycleAt) {
		t.Error("key not deterministic")
	}
	if k1 == IdempotencyKey("m1", cycleAt.Add(time.Minute)) || k1 == IdempotencyKey("m2", cycleAt) {
		t.Error("key collides across cycles or markets")
	}
}

func TestPaperExecuteConfirms(t *testing.T) {
	h := newHarness(t, NewPaperExecutor(), nil)
	a := h.approve(t, candidate(), "4.9")
	if a.Status != domain.AttemptPending || a.ID == "" {
		t.Fatalf("new attempt: got %+v", a)
	}

	rec, err := h.engine.Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.AttemptConfirmed || a.Status != domain.AttemptConfirmed {
		t.Fatalf("status: got %s / %s, want confirmed", rec.Status, a.Status)
	}
	if !rec.Price.Equal(dec("0.98")) || !rec.Size.Equal(dec("4.9")) || !rec.Shares.Equal(dec("5")) {
		t.Errorf("fill: got price=%s size=%s shares=%s", rec.Price, rec.Size, rec.Shares)
	}
	if !rec.ExpectedPayout.Equal(dec("0.1")) {
		t.Errorf("expected payout: got %s, want 0.1", rec.ExpectedPayout)
	}
	if rec.Mode != domain.ModePaper || rec.OrderID != "paper-"+a.IdempotencyKey || rec.Attempts != 1 {
		t.Errorf("record: got %+v", rec)
	}

	snap := h.book.Snapshot()
	if !snap.TotalCommitted.Equal(dec("4.9")) || !snap.TotalReserved.IsZero() {
		t.Errorf("book: committed=%s reserved=%s", snap.TotalCommitted, snap.TotalReserved)
	}
	if len(h.sink.records) != 1 {
		t.Errorf("records: got %d, want 1", len(h.sink.records))
	}
}

func TestExecuteTwiceHasNoSideEffects(t *testing.T) {
	h := newHarness(t, NewPaperExecutor(), nil)
	a := h.approve(t, candidate(), "5")
	first, err := h.engine.Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// A copy of the attempt as it was before execution.
	dup := *a
	dup.Status = domain.AttemptPending
	dup.AttemptCount = 0
	got, err := h.engine.Execute(context.Background(), &dup)
	if !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("got %v, want ErrDuplicateAttempt", err)
	}
	if got.AttemptID != first.AttemptID {
		t.Errorf("prior record: got %+v", got)
	}

	// The terminal attempt itself is refused too.
	if _, err := h.engine.Execute(context.Background(), a); !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("got %v, want ErrDuplicateAttempt", err)
	}
	if len(h.sink.records) != 1 {
		t.Errorf("records: got %d, want 1", len(h.sink.records))
	}
	if snap := h.book.Snapshot(); !snap.TotalCommitted.Equal(dec("5")) {
		t.Errorf("committed: got %s, want 5", snap.TotalCommitted)
	}
}

func TestLiveRetryAfterServerError(t *testing.T) {
	clob := &fakeClob{postErrs: []error{&polymarket.APIError{StatusCode: 503, Body: "busy"}}}
	h := newHarness(t, newLive(t, clob), nil)
	a := h.approve(t, candidate(), "4.9")

	rec, err := h.engine.Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.AttemptConfirmed || rec.Attempts != 2 {
		t.Fatalf("record: status=%s attempts=%d, want confirmed after 2", rec.Status, rec.Attempts)
	}
	if len(clob.posts) != 2 {
		t.Fatalf("posts: got %d, want 2", len(clob.posts))
	}
	if clob.posts[0].Salt != clob.posts[1].Salt || clob.posts[0].Signature != clob.posts[1].Signature {
		t.Error("retry signed a different order")
	}
	if clob.posts[0].MakerAmount != "4900000" || clob.posts[0].TakerAmount != "5000000" {
		t.Errorf("amounts: got maker=%s taker=%s", clob.posts[0].MakerAmount, clob.posts[0].TakerAmount)
	}
	if !rec.Price.Equal(dec("0.98")) || !rec.Shares.Equal(dec("5")) {
		t.Errorf("fill: price=%s shares=%s", rec.Price, rec.Shares)
	}
}

// A post that timed out on our side but reached the exchange is found by
// hash on the retry and never posted twice.
func TestLiveRetryFindsMatchedOrder(t *testing.T) {
	clob := &fakeClob{}
	live := newLive(t, clob)
	h := newHarness(t, live, nil)
	a := h.approve(t, candidate(), "4.9")

	_, hash, err := live.buildOrder(*a)
	if err != nil {
		t.Fatalf("buildOrder: %v", err)
	}
	clob.postErrs = []error{retry.Transient(context.DeadlineExceeded)}
	clob.setOrder(hash, "MATCHED")

	rec, err := h.engine.Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(clob.posts) != 1 {
		t.Errorf("posts: got %d, want 1", len(clob.posts))
	}
	if rec.OrderID != hash {
		t.Errorf("order id: got %s, want %s", rec.OrderID, hash)
	}
	if snap := h.book.Snapshot(); !snap.TotalCommitted.Equal(dec("4.9")) {
		t.Errorf("committed: got %s", snap.TotalCommitted)
	}
}

func TestLiveExecuteSameAttemptTwice(t *testing.T) {
	clob := &fakeClob{}
	h := newHarness(t, newLive(t, clob), nil)
	a := h.approve(t, candidate(), "5")
	dup := *a

	if _, err := h.engine.Execute(context.Background(), a); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := h.engine.Execute(context.Background(), &dup); !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("got %v, want ErrDuplicateAttempt", err)
	}
	if len(clob.posts) != 1 || len(h.sink.records) != 1 {
		t.Errorf("posts=%d records=%d, want 1 and 1", len(clob.posts), len(h.sink.records))
	}
	if snap := h.book.Snapshot(); !snap.TotalCommitted.Equal(dec("5")) || len(snap.Positions) != 1 {
		t.Errorf("book: %+v", snap)
	}
}

func TestLiveTerminalRejection(t *testing.T) {
	clob := &fakeClob{postErrs: []error{&polymarket.APIError{StatusCode: 400, Body: "invalid order"}}}
	h := newHarness(t, newLive(t, clob), nil)
	a := h.approve(t, candidate(), "5")

	rec, err := h.engine.Execute(context.Background(), a)
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("got %v, want ErrSubmissionFailed", err)
	}
	if rec.Status != domain.AttemptFailed || rec.Attempts != 1 || rec.Reason == "" {
		t.Errorf("record: got %+v", rec)
	}
	if len(clob.posts) != 1 {
		t.Errorf("posts: got %d, want 1", len(clob.posts))
	}
	snap := h.book.Snapshot()
	if !snap.TotalReserved.IsZero() || !snap.TotalCommitted.IsZero() {
		t.Errorf("book not released: %+v", snap)
	}
}

func TestLiveExhaustedCancelsRestingOrder(t *testing.T) {
	clob := &fakeClob{statuses: []string{"live"}}
	live := newLive(t, clob)
	h := newHarness(t, live, nil)
	a := h.approve(t, candidate(), "5")
	_, hash, _ := live.buildOrder(*a)
	clob.setOrder(hash, "live")

	rec, err := h.engine.Execute(context.Background(), a)
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("got %v, want ErrSubmissionFailed", err)
	}
	if rec.Status != domain.AttemptFailed || rec.Attempts != 3 {
		t.Errorf("record: status=%s attempts=%d", rec.Status, rec.Attempts)
	}
	if len(clob.posts) != 1 {
		t.Errorf("posts: got %d, want 1", len(clob.posts))
	}
	if len(clob.cancelled) != 1 || clob.cancelled[0] != hash {
		t.Errorf("cancelled: got %v, want [%s]", clob.cancelled, hash)
	}
	if snap := h.book.Snapshot(); !snap.TotalReserved.IsZero() {
		t.Errorf("reservation not released: %s", snap.TotalReserved)
	}
}

// When the exchange names the order differently from the signed hash, every
// later lookup and the final cancel use the exchange's ID.
func TestLiveRetriesFollowExchangeOrderID(t *testing.T) {
	clob := &fakeClob{statuses: []string{"live"}, exchangeID: "0xexchange"}
	h := newHarness(t, newLive(t, clob), nil)
	a := h.approve(t, candidate(), "5")
	clob.setOrder("0xexchange", "live")

	rec, err := h.engine.Execute(context.Background(), a)
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("got %v, want ErrSubmissionFailed", err)
	}
	if len(clob.posts) != 1 {
		t.Errorf("posts: got %d, want 1", len(clob.posts))
	}
	if len(clob.cancelled) != 1 || clob.cancelled[0] != "0xexchange" {
		t.Errorf("cancelled: got %v, want [0xexchange]", clob.cancelled)
	}
	if rec.OrderID != "0xexchange" {
		t.Errorf("order id: got %q, want 0xexchange", rec.OrderID)
	}
}

func TestLiveFinalizeFindsLateFill(t *testing.T) {
	clob := &fakeClob{}
	live := newLive(t, clob)
	h := newHarness(t, live, nil)
	a := h.approve(t, candidate(), "5")
	_, hash, _ := live.buildOrder(*a)

	transient := &polymarket.APIError{StatusCode: 502}
	clob.postErrs = []error{transient, transient, transient}
	// The order surfaces as matched only after the last try.
	orig := h.engine.exec
	h.engine.exec = finalizeHook{OrderExecutor: orig, before: func() { clob.setOrder(hash, "matched") }}

	rec, err := h.engine.Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.AttemptConfirmed {
		t.Errorf("status: got %s", rec.Status)
	}
}

type finalizeHook struct {
	OrderExecutor
	before func()
}

func (f finalizeHook) Finalize(ctx context.Context, a domain.OrderAttempt) (domain.Fill, bool, error) {
	f.before()
	return f.OrderExecutor.Finalize(ctx, a)
}

func TestCancelledContextStillFinishes(t *testing.T) {
	clob := &fakeClob{postErrs: []error{&polymarket.APIError{StatusCode: 503}}}
	h := newHarness(t, newLive(t, clob), nil)
	a := h.approve(t, candidate(), "5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := h.engine.Execute(ctx, a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.AttemptConfirmed {
		t.Errorf("status: got %s, want confirmed", rec.Status)
	}
}
