package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/metrics"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
)

// MarketLister lists active markets one page at a time.
type MarketLister interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]domain.MarketSnapshot, error)
}

// BookReader reads the top of a token's order book.
type BookReader interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.BookTop, error)
}

// GatewayConfig bounds paging and retries.
type GatewayConfig struct {
	PageSize int
	MaxPages int
	Retry    retry.Policy
}

// MarketGateway fetches market snapshots and order books with bounded
// retries. It holds no state apart from its clients.
type MarketGateway struct {
	markets MarketLister
	books   BookReader
	cfg     GatewayConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMarketGateway creates a MarketGateway. m may be nil.
func NewMarketGateway(
	markets MarketLister,
	books BookReader,
	cfg GatewayConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MarketGateway {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &MarketGateway{
		markets: markets,
		books:   books,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "market_gateway")),
	}
}

// FetchMarkets returns every active market across up to MaxPages pages.
// A failed page fails the whole fetch; a partial universe is never returned.
// Errors wrap domain.ErrGatewayUnavailable when retries ran out and
// domain.ErrGatewayRejected when the request was refused outright.
func (g *MarketGateway) FetchMarkets(ctx context.Context) ([]domain.MarketSnapshot, error) {
	var (
		out  []domain.MarketSnapshot
		seen = make(map[string]struct{})
	)
	for page := 0; page < g.cfg.MaxPages; page++ {
		offset := page * g.cfg.PageSize
		res := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) ([]domain.MarketSnapshot, error) {
			return g.markets.ListMarkets(ctx, g.cfg.PageSize, offset)
		}, g.onRetry("list_markets"))
		if !res.OK() {
			return nil, g.fail(ctx, fmt.Sprintf("list markets page %d", page+1), res.Outcome, res.Err)
		}

		for _, s := range res.Value {
			if _, dup := seen[s.MarketID]; dup {
				continue
			}
			seen[s.MarketID] = struct{}{}
			out = append(out, s)
		}
		if len(res.Value) < g.cfg.PageSize {
			break
		}
	}

	g.logger.DebugContext(ctx, "market_gateway: fetched markets", slog.Int("count", len(out)))
	return out, nil
}

// FetchOrderBook returns the best bid, best ask and ask-side liquidity of
// tokenID's order book.
func (g *MarketGateway) FetchOrderBook(ctx context.Context, tokenID string) (domain.BookTop, error) {
	res := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) (domain.BookTop, error) {
		return g.books.GetOrderBook(ctx, tokenID)
	}, g.onRetry("order_book"))
	if !res.OK() {
		return domain.BookTop{}, g.fail(ctx, "order book "+tokenID, res.Outcome, res.Err)
	}
	return res.Value, nil
}

func (g *MarketGateway) onRetry(op string) retry.Option {
	return retry.OnRetry(func(attempt int, err error, delay time.Duration) {
		g.metrics.RecordGatewayRetry(op)
		g.logger.Warn("market_gateway: retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
	})
}

func (g *MarketGateway) fail(ctx context.Context, op string, outcome retry.Outcome, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("market_gateway: %s: %w", op, errors.Join(domain.ErrGatewayUnavailable, ctx.Err()))
	}
	if outcome == retry.RetryableFailure {
		return fmt.Errorf("market_gateway: %s: %w: %w", op, domain.ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("market_gateway: %s: %w: %w", op, domain.ErrGatewayRejected, err)
}
