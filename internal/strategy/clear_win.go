// Package strategy detects clear-win markets: markets whose dominant outcome
// trades near certainty and that resolve soon.
package strategy

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

// ClearWinConfig holds the clear-win thresholds. The price band and the
// horizon window are inclusive at both ends.
type ClearWinConfig struct {
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	MinHorizon   time.Duration
	MaxHorizon   time.Duration
	MinLiquidity decimal.Decimal
}

// ClearWinScanner filters market snapshots into candidates. It holds no
// mutable state and is safe for concurrent use.
type ClearWinScanner struct {
	cfg    ClearWinConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewClearWinScanner creates a ClearWinScanner. A nil now uses time.Now.
func NewClearWinScanner(cfg ClearWinConfig, now func() time.Time, logger *slog.Logger) *ClearWinScanner {
	if now == nil {
		now = time.Now
	}
	return &ClearWinScanner{
		cfg:    cfg,
		now:    now,
		logger: logger.With(slog.String("strategy", "clear_win")),
	}
}

// Shortlist returns the snapshots worth fetching an order book for: the
// dominant outcome has a known price, some known quote for it lies in the
// band, and the market resolves inside the horizon window.
func (s *ClearWinScanner) Shortlist(snapshots []domain.MarketSnapshot) []domain.MarketSnapshot {
	now := s.now()
	var out []domain.MarketSnapshot
	for _, snap := range snapshots {
		idx, ok := snap.Dominant()
		if !ok {
			continue
		}
		if _, ok := s.horizon(snap, now); !ok {
			continue
		}
		q := snap.Outcomes[idx]
		if !s.inBand(q.Price) && !s.inBand(q.BestAsk) {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Scan returns a candidate for every snapshot whose dominant outcome passes
// the price, horizon and liquidity filters. Failing markets are skipped
// without error. Output order is unspecified.
func (s *ClearWinScanner) Scan(snapshots []domain.MarketSnapshot) []domain.Candidate {
	now := s.now()
	var out []domain.Candidate
	for _, snap := range snapshots {
		c, reason := s.evaluate(snap, now)
		if reason != "" {
			s.logger.Debug("strategy: market excluded",
				slog.String("market_id", snap.MarketID),
				slog.String("reason", reason),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *ClearWinScanner) evaluate(snap domain.MarketSnapshot, now time.Time) (domain.Candidate, string) {
	idx, ok := snap.Dominant()
	if !ok {
		return domain.Candidate{}, "dominant price unknown"
	}
	q := snap.Outcomes[idx]

	entry, ok := q.EntryPrice()
	if !ok {
		return domain.Candidate{}, "entry price unknown"
	}
	if entry.LessThan(s.cfg.MinPrice) || entry.GreaterThan(s.cfg.MaxPrice) {
		return domain.Candidate{}, "price " + entry.String() + " outside band"
	}

	ttr, ok := s.horizon(snap, now)
	if !ok {
		return domain.Candidate{}, "resolution time unknown or outside horizon"
	}

	if !q.Liquidity.Valid {
		return domain.Candidate{}, "liquidity unknown"
	}
	if q.Liquidity.Decimal.LessThan(s.cfg.MinLiquidity) {
		return domain.Candidate{}, "liquidity " + q.Liquidity.Decimal.String() + " below minimum"
	}

	return domain.Candidate{
		MarketID:         snap.MarketID,
		Question:         snap.Question,
		Outcome:          q.Label,
		TokenID:          q.TokenID,
		Price:            entry,
		Liquidity:        q.Liquidity.Decimal,
		ResolutionTime:   *snap.ResolutionTime,
		TimeToResolution: ttr,
	}, ""
}

func (s *ClearWinScanner) horizon(snap domain.MarketSnapshot, now time.Time) (time.Duration, bool) {
	if snap.ResolutionTime == nil {
		return 0, false
	}
	ttr := snap.ResolutionTime.Sub(now)
	if ttr < s.cfg.MinHorizon || ttr > s.cfg.MaxHorizon {
		return ttr, false
	}
	return ttr, true
}

func (s *ClearWinScanner) inBand(p decimal.NullDecimal) bool {
	return p.Valid && !p.Decimal.LessThan(s.cfg.MinPrice) && !p.Decimal.GreaterThan(s.cfg.MaxPrice)
}
