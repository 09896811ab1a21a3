package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/shopspring/decimal"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexDecimal accepts a JSON number, a numeric string, null or "". Anything
// unparseable leaves the value invalid instead of failing the whole decode.
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	f.Valid = false
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// flexTime accepts RFC3339 timestamps, bare dates, and Unix seconds or
// milliseconds.
type flexTime struct {
	t  time.Time
	ok bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	*f = flexTime{}
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			f.t = time.UnixMilli(n).UTC()
		} else {
			f.t = time.Unix(n, 0).UTC()
		}
		f.ok = n > 0
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.t, f.ok = t.UTC(), true
			return nil
		}
	}
	return nil
}

// validPrice keeps only probabilities inside [0, 1].
func validPrice(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid || d.Decimal.IsNegative() || d.Decimal.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NullDecimal{}
	}
	return d
}

// decodeList decodes Gamma's list fields, which arrive either as a JSON
// array or as a string holding a JSON-encoded array.
func decodeList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(bytes.TrimSpace(it)))
	}
	return out
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API. Resolution time is
// published under several names depending on the market's vintage.
type APIMarket struct {
	ID            string          `json:"id"`
	Question      string          `json:"question"`
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Active        flexBool        `json:"active"`
	Closed        flexBool        `json:"closed"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs  json.RawMessage `json:"clobTokenIds"`
	Tokens        []Token         `json:"tokens"`
	BestBid       flexDecimal     `json:"bestBid"`
	BestAsk       flexDecimal     `json:"bestAsk"`
	Volume        flexDecimal     `json:"volume"`

	EndDate        flexTime `json:"endDate"`
	ResolveDate    flexTime `json:"resolveDate"`
	EndDateSnake   flexTime `json:"end_date"`
	EndDateISO     flexTime `json:"end_date_iso"`
	ResolveTime    flexTime `json:"resolve_time"`
	ResolveTimeAlt flexTime `json:"resolveTime"`
	CloseDate      flexTime `json:"closeDate"`
	Expiry         flexTime `json:"expiry"`
	EndTime        flexTime `json:"endTime"`
	ResolutionTime flexTime `json:"resolutionTime"`
}

// Token is an outcome token entry as returned by the CLOB markets API.
type Token struct {
	TokenID string      `json:"token_id"`
	Outcome string      `json:"outcome"`
	Price   flexDecimal `json:"price"`
	Winner  bool        `json:"winner"`
}

// resolutionTime returns the first populated end-date field.
func (m *APIMarket) resolutionTime() *time.Time {
	for _, f := range []flexTime{
		m.EndDate, m.ResolveDate, m.EndDateSnake, m.EndDateISO, m.ResolveTime,
		m.ResolveTimeAlt, m.CloseDate, m.Expiry, m.EndTime, m.ResolutionTime,
	} {
		if f.ok {
			t := f.t
			return &t
		}
	}
	return nil
}

// ToSnapshot converts m into a MarketSnapshot. Gamma's inline best bid/ask
// quote the first outcome token.
func (m *APIMarket) ToSnapshot(fetchedAt time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		MarketID:       m.ID,
		Question:       m.Question,
		ResolutionTime: m.resolutionTime(),
		FetchedAt:      fetchedAt,
	}

	labels := decodeList(m.Outcomes)
	prices := decodeList(m.OutcomePrices)
	tokens := decodeList(m.ClobTokenIDs)

	if len(labels) == 0 {
		for _, tok := range m.Tokens {
			snap.Outcomes = append(snap.Outcomes, domain.OutcomeQuote{
				Label:   tok.Outcome,
				TokenID: tok.TokenID,
				Price:   validPrice(tok.Price.NullDecimal),
			})
		}
	} else {
		for i, label := range labels {
			q := domain.OutcomeQuote{Label: label}
			if i < len(tokens) {
				q.TokenID = tokens[i]
			}
			if i < len(prices) {
				if d, err := decimal.NewFromString(prices[i]); err == nil {
					q.Price = validPrice(decimal.NewNullDecimal(d))
				}
			}
			snap.Outcomes = append(snap.Outcomes, q)
		}
	}

	if len(snap.Outcomes) > 0 {
		snap.Outcomes[0].BestBid = validPrice(m.BestBid.NullDecimal)
		snap.Outcomes[0].BestAsk = validPrice(m.BestAsk.NullDecimal)
	}
	return snap
}

// Resolution reports whether m has settled and which outcome won. A closed
// market without a decided winner is reported as unresolved.
func (m *APIMarket) Resolution() domain.MarketResolution {
	if !bool(m.Closed) {
		return domain.MarketResolution{}
	}
	for _, tok := range m.Tokens {
		if tok.Winner {
			return domain.MarketResolution{Closed: true, WinningOutcome: tok.Outcome}
		}
	}
	one := decimal.NewFromInt(1)
	labels := decodeList(m.Outcomes)
	for i, p := range decodeList(m.OutcomePrices) {
		d, err := decimal.NewFromString(p)
		if err == nil && d.Equal(one) && i < len(labels) {
			return domain.MarketResolution{Closed: true, WinningOutcome: labels[i]}
		}
	}
	return domain.MarketResolution{}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIPriceLevel is one level of a CLOB order book.
type APIPriceLevel struct {
	Price flexDecimal `json:"price"`
	Size  flexDecimal `json:"size"`
}

// APIBook is the response of GET /book.
type APIBook struct {
	Market  string          `json:"market"`
	AssetID string          `json:"asset_id"`
	Bids    []APIPriceLevel `json:"bids"`
	Asks    []APIPriceLevel `json:"asks"`
}

// Top returns the best bid, the best ask and the size resting at the best
// ask. Levels without a parseable price are ignored.
func (b *APIBook) Top() domain.BookTop {
	var top domain.BookTop
	for _, lvl := range b.Bids {
		p := validPrice(lvl.Price.NullDecimal)
		if !p.Valid {
			continue
		}
		if !top.BestBid.Valid || p.Decimal.GreaterThan(top.BestBid.Decimal) {
			top.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p := validPrice(lvl.Price.NullDecimal)
		if !p.Valid || !lvl.Size.Valid {
			continue
		}
		switch {
		case !top.BestAsk.Valid || p.Decimal.LessThan(top.BestAsk.Decimal):
			top.BestAsk = p
			top.Liquidity = lvl.Size.NullDecimal
		case p.Decimal.Equal(top.BestAsk.Decimal):
			top.Liquidity = decimal.NewNullDecimal(top.Liquidity.Decimal.Add(lvl.Size.Decimal))
		}
	}
	return top
}

// APIOrder is the signed order body of POST /order.
type APIOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
	ShouldRetry  bool   `json:"shouldRetry,omitempty"`
}

// APIOpenOrder is the response of GET /data/order/{id}.
type APIOpenOrder struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Market       string      `json:"market"`
	AssetID      string      `json:"asset_id"`
	Side         string      `json:"side"`
	OriginalSize flexDecimal `json:"original_size"`
	SizeMatched  flexDecimal `json:"size_matched"`
	Price        flexDecimal `json:"price"`
}

// OrderState is the exchange's view of a placed order.
type OrderState struct {
	ID          string
	Status      string
	Price       decimal.Decimal
	SizeMatched decimal.Decimal
}

// Matched reports whether the order has been filled.
func (s OrderState) Matched() bool {
	return strings.EqualFold(s.Status, "matched") || strings.EqualFold(s.Status, "filled")
}

// Open reports whether the order is still resting or being processed.
func (s OrderState) Open() bool {
	switch strings.ToLower(s.Status) {
	case "live", "open", "delayed":
		return true
	}
	return false
}

// Cancelled reports whether the order was cancelled or killed unfilled.
func (s OrderState) Cancelled() bool {
	switch strings.ToLower(s.Status) {
	case "canceled", "cancelled", "canceled_market_resolved", "unmatched":
		return true
	}
	return false
}

func (o *APIOpenOrder) toState() OrderState {
	return OrderState{
		ID:          o.ID,
		Status:      o.Status,
		Price:       o.Price.Decimal,
		SizeMatched: o.SizeMatched.Decimal,
	}
}
