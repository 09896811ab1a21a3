package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is committed exposure in one market.
type Position struct {
	MarketID   string
	Question   string
	Outcome    string
	TokenID    string
	AttemptID  string
	EntryPrice decimal.Decimal
	Size       decimal.Decimal // USDC notional committed
	Shares     decimal.Decimal
	Mode       Mode
	OpenedAt   time.Time
}

// PositionResolution is the settlement result of a position.
type PositionResolution struct {
	Won        bool
	PnL        decimal.Decimal
	ResolvedAt time.Time
}

// Settle computes the resolution of p given the winning outcome label. A
// winning share pays out 1 USDC.
func (p Position) Settle(winningOutcome string, at time.Time) PositionResolution {
	res := PositionResolution{ResolvedAt: at}
	if winningOutcome == p.Outcome {
		res.Won = true
		res.PnL = p.Shares.Sub(p.Size)
	} else {
		res.PnL = p.Size.Neg()
	}
	return res
}
