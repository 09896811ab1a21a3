package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

// RiskConfig holds the capital and exposure limits applied to every
// candidate, in USDC.
type RiskConfig struct {
	Bankroll        decimal.Decimal
	CapitalFraction decimal.Decimal
	PerTradeCap     decimal.Decimal
	PerMarketCap    decimal.Decimal
	TotalCap        decimal.Decimal
	MinOrderSize    decimal.Decimal
}

// RiskService sizes candidates against the shared ExposureBook. An approved
// size is reserved on the book in the same critical section it was computed
// in, so concurrent evaluations cannot jointly exceed a cap.
type RiskService struct {
	book   *ExposureBook
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(book *ExposureBook, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		book:   book,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Evaluate returns the sizing decision for c. A rejection carries
// domain.ErrDuplicatePosition or domain.ErrExposureExceeded as its Reason and
// is left for the caller to log.
//
// Sizing steps:
//  1. reject when the market already has a position or reservation
//  2. available = bankroll - outstanding, floored at zero
//  3. size = min(capital_fraction * available, per_trade_cap)
//  4. clamp to the notional resting at the best ask
//  5. clamp to the remaining per-market and total headroom
//  6. round down to cents
//  7. reject when the result is below min_order_size
func (s *RiskService) Evaluate(ctx context.Context, c domain.Candidate) domain.SizingDecision {
	d := s.book.Reserve(c.MarketID, func(v ExposureView) domain.SizingDecision {
		return s.size(c, v)
	})

	if d.Approved {
		s.logger.DebugContext(ctx, "risk_service: approved",
			slog.String("market_id", c.MarketID),
			slog.String("size", d.Size.String()),
		)
	}
	return d
}

func (s *RiskService) size(c domain.Candidate, v ExposureView) domain.SizingDecision {
	if v.HasPosition {
		return domain.Reject(domain.ErrDuplicatePosition)
	}

	available := decimal.Max(s.cfg.Bankroll.Sub(v.Outstanding()), decimal.Zero)
	size := decimal.Min(s.cfg.CapitalFraction.Mul(available), s.cfg.PerTradeCap)

	if c.Price.IsPositive() {
		size = decimal.Min(size, c.Liquidity.Mul(c.Price))
	}
	marketHeadroom := s.cfg.PerMarketCap.Sub(v.MarketCommitted).Sub(v.MarketReserved)
	totalHeadroom := s.cfg.TotalCap.Sub(v.Outstanding())
	size = decimal.Min(size, marketHeadroom, totalHeadroom)

	size = size.Truncate(2)
	if !size.IsPositive() {
		return domain.Reject(fmt.Errorf("%w: no headroom (available %s, outstanding %s)",
			domain.ErrExposureExceeded, available.StringFixed(2), v.Outstanding().StringFixed(2)))
	}
	if size.LessThan(s.cfg.MinOrderSize) {
		return domain.Reject(fmt.Errorf("%w: size %s below minimum order %s",
			domain.ErrExposureExceeded, size.StringFixed(2), s.cfg.MinOrderSize.StringFixed(2)))
	}
	return domain.Approve(size)
}

// DecisionLabel names the outcome of d for logs and metrics.
func DecisionLabel(d domain.SizingDecision) string {
	switch {
	case d.Approved:
		return "approved"
	case errors.Is(d.Reason, domain.ErrDuplicatePosition):
		return "duplicate_position"
	case errors.Is(d.Reason, domain.ErrExposureExceeded):
		return "exposure_exceeded"
	default:
		return "rejected"
	}
}
