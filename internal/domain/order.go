package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects simulated or real order submission.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode converts a config or flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q (valid: paper, live)", s)
	}
}

// AttemptStatus is the lifecycle state of an OrderAttempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptRetried   AttemptStatus = "retried"
	AttemptConfirmed AttemptStatus = "confirmed"
	AttemptFailed    AttemptStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptConfirmed || s == AttemptFailed
}

// OrderSide is the direction of an order. The bot only ever buys the
// dominant outcome.
type OrderSide string

const OrderSideBuy OrderSide = "BUY"

// SizingDecision is the outcome of a risk evaluation.
type SizingDecision struct {
	Approved bool
	Size     decimal.Decimal
	Reason   error
}

// Approve returns an approving decision for size.
func Approve(size decimal.Decimal) SizingDecision {
	return SizingDecision{Approved: true, Size: size}
}

// Reject returns a rejecting decision.
func Reject(reason error) SizingDecision {
	return SizingDecision{Reason: reason}
}

// OrderAttempt is a single execution of an approved candidate. It is created
// fresh for each approval and never reused across cycles.
type OrderAttempt struct {
	ID             string
	Candidate      Candidate
	RequestedSize  decimal.Decimal
	Mode           Mode
	Status         AttemptStatus
	AttemptCount   int
	IdempotencyKey string
	CycleAt        time.Time
	OrderID        string
	LastError      string
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID  string
	Price    decimal.Decimal
	Size     decimal.Decimal // USDC notional
	Shares   decimal.Decimal
	FilledAt time.Time
}
