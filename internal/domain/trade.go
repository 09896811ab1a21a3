package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the durable row written once per terminal OrderAttempt.
// It is immutable once written.
type TradeRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	AttemptID      string          `json:"attempt_id"`
	MarketID       string          `json:"market_id"`
	Question       string          `json:"question"`
	Outcome        string          `json:"outcome"`
	Side           OrderSide       `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"`
	Shares         decimal.Decimal `json:"shares"`
	ExpectedPayout decimal.Decimal `json:"expected_payout"`
	Mode           Mode            `json:"mode"`
	Status         AttemptStatus   `json:"status"`
	Attempts       int             `json:"attempts"`
	OrderID        string          `json:"order_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// ExpectedPayout is the profit of shares bought at price if the outcome wins.
func ExpectedPayout(shares, price decimal.Decimal) decimal.Decimal {
	return shares.Mul(decimal.NewFromInt(1).Sub(price)).Round(4)
}

// SharesFor converts a USDC notional into shares at price.
func SharesFor(notional, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return notional.DivRound(price, 4)
}
