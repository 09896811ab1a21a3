package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeQuote is the quoted state of one outcome of a market. Any field may
// be unknown; unknown values are never treated as zero.
type OutcomeQuote struct {
	Label     string
	TokenID   string
	Price     decimal.NullDecimal
	BestBid   decimal.NullDecimal
	BestAsk   decimal.NullDecimal
	Liquidity decimal.NullDecimal // shares resting at BestAsk
}

// EntryPrice is the price a buyer would pay: the best ask when known,
// otherwise the quoted outcome price.
func (q OutcomeQuote) EntryPrice() (decimal.Decimal, bool) {
	if q.BestAsk.Valid {
		return q.BestAsk.Decimal, true
	}
	if q.Price.Valid {
		return q.Price.Decimal, true
	}
	return decimal.Decimal{}, false
}

// MarketSnapshot is one exchange market at a point in time.
type MarketSnapshot struct {
	MarketID       string
	Question       string
	Outcomes       []OutcomeQuote
	ResolutionTime *time.Time
	FetchedAt      time.Time
}

// Dominant returns the index of the outcome with the highest quoted price.
// It reports false when there are no outcomes or when any outcome lacks a
// price, since dominance cannot be decided from a partial quote.
func (s MarketSnapshot) Dominant() (int, bool) {
	if len(s.Outcomes) == 0 {
		return 0, false
	}
	best := -1
	for i, o := range s.Outcomes {
		if !o.Price.Valid {
			return 0, false
		}
		if best < 0 || o.Price.Decimal.GreaterThan(s.Outcomes[best].Price.Decimal) {
			best = i
		}
	}
	return best, true
}

// ApplyBook folds an order book top into the outcome trading tokenID.
func (s *MarketSnapshot) ApplyBook(tokenID string, top BookTop) {
	for i := range s.Outcomes {
		if s.Outcomes[i].TokenID != tokenID {
			continue
		}
		if top.BestBid.Valid {
			s.Outcomes[i].BestBid = top.BestBid
		}
		if top.BestAsk.Valid {
			s.Outcomes[i].BestAsk = top.BestAsk
		}
		s.Outcomes[i].Liquidity = top.Liquidity
		return
	}
}

// BookTop is the best level of an order book.
type BookTop struct {
	BestBid   decimal.NullDecimal
	BestAsk   decimal.NullDecimal
	Liquidity decimal.NullDecimal
}

// Candidate is a market that passed every clear-win filter in the current
// cycle. Candidates are never persisted.
type Candidate struct {
	MarketID         string
	Question         string
	Outcome          string
	TokenID          string
	Price            decimal.Decimal
	Liquidity        decimal.Decimal
	ResolutionTime   time.Time
	TimeToResolution time.Duration
}

// MarketResolution is the settlement state of a market.
type MarketResolution struct {
	Closed         bool
	WinningOutcome string
}
