package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/crypto"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/platform/polymarket"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
	"github.com/shopspring/decimal"
)

const (
	zeroAddress  = "0x0000000000000000000000000000000000000000"
	orderRateKey = "clob:orders"
)

var usdcUnit = decimal.New(1, 6)

// OrderClient is the subset of the CLOB client used for live trading.
type OrderClient interface {
	PostOrder(ctx context.Context, order polymarket.APIOrder, orderType string) (polymarket.APIOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (polymarket.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// LiveConfig holds order construction parameters.
type LiveConfig struct {
	OrderType     string // FOK by default
	SignatureType int
	// FunderAddress is the maker when trading through a proxy wallet. Empty
	// means the signer is the maker.
	FunderAddress string
}

// LiveExecutor submits signed BUY orders to the Polymarket CLOB.
//
// The order salt is derived from the attempt's idempotency key, so every try
// of an attempt signs the same order and gets the same order hash. From the
// second try on, the executor asks the exchange about that hash before
// posting again, so a retry never creates a second order.
type LiveExecutor struct {
	client  OrderClient
	signer  *crypto.Signer
	limiter domain.RateLimiter // optional
	cfg     LiveConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewLiveExecutor creates a LiveExecutor. limiter may be nil.
func NewLiveExecutor(client OrderClient, signer *crypto.Signer, limiter domain.RateLimiter, cfg LiveConfig, logger *slog.Logger) *LiveExecutor {
	if cfg.OrderType == "" {
		cfg.OrderType = "FOK"
	}
	return &LiveExecutor{
		client:  client,
		signer:  signer,
		limiter: limiter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "live_executor")),
	}
}

// Mode returns domain.ModeLive.
func (e *LiveExecutor) Mode() domain.Mode { return domain.ModeLive }

// Submit posts the attempt's order, or on a retry reconciles it with the
// exchange first. An accepted but unfilled order comes back as a
// *PlacedError carrying the exchange's order ID.
func (e *LiveExecutor) Submit(ctx context.Context, a domain.OrderAttempt) (domain.Fill, error) {
	order, orderID, err := e.buildOrder(a)
	if err != nil {
		return domain.Fill{}, retry.Permanent(err)
	}

	if a.AttemptCount > 1 {
		known := exchangeID(a, orderID)
		st, err := e.client.GetOrder(ctx, known)
		switch {
		case err == nil && st.Matched():
			return e.fillFromState(st, order), nil
		case err == nil && st.Open():
			return domain.Fill{}, retry.Transient(fmt.Errorf("order %s still %s", known, st.Status))
		case err == nil:
			// Killed or cancelled without a fill: the same order may be posted again.
		case errors.Is(err, domain.ErrNotFound):
		default:
			return domain.Fill{}, fmt.Errorf("reconcile order %s: %w", known, err)
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, orderRateKey); err != nil {
			return domain.Fill{}, retry.Transient(fmt.Errorf("rate limiter: %w", err))
		}
	}

	res, err := e.client.PostOrder(ctx, order, e.cfg.OrderType)
	if err != nil {
		return domain.Fill{}, err
	}
	if res.OrderID != "" && res.OrderID != orderID {
		e.logger.WarnContext(ctx, "executor: exchange order id differs from local hash",
			slog.String("local", orderID),
			slog.String("exchange", res.OrderID),
		)
		orderID = res.OrderID
	}

	switch res.Status {
	case "matched":
		return e.fillFromResult(res, order, orderID), nil
	case "unmatched":
		return domain.Fill{}, retry.Permanent(&PlacedError{
			OrderID: orderID,
			Err:     fmt.Errorf("order %s not filled (%s)", orderID, res.Status),
		})
	default:
		return domain.Fill{}, retry.Transient(&PlacedError{
			OrderID: orderID,
			Err:     fmt.Errorf("order %s accepted but %s", orderID, res.Status),
		})
	}
}

// Finalize makes one last status check and cancels the order if it is
// still resting.
func (e *LiveExecutor) Finalize(ctx context.Context, a domain.OrderAttempt) (domain.Fill, bool, error) {
	order, hash, err := e.buildOrder(a)
	if err != nil {
		return domain.Fill{}, false, err
	}
	orderID := exchangeID(a, hash)
	st, err := e.client.GetOrder(ctx, orderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Fill{}, false, nil
	case err != nil:
		return domain.Fill{}, false, fmt.Errorf("final status of %s: %w", orderID, err)
	case st.Matched():
		return e.fillFromState(st, order), true, nil
	case st.Open():
		if err := e.client.CancelOrder(ctx, orderID); err != nil {
			return domain.Fill{}, false, fmt.Errorf("cancel %s: %w", orderID, err)
		}
		e.logger.InfoContext(ctx, "executor: cancelled unconfirmed order", slog.String("order_id", orderID))
	}
	return domain.Fill{}, false, nil
}

// exchangeID is the ID the exchange reported for a's order, falling back to
// the locally computed hash.
func exchangeID(a domain.OrderAttempt, hash string) string {
	if a.OrderID != "" {
		return a.OrderID
	}
	return hash
}

// buildOrder signs the BUY order for a. The result depends only on the
// attempt, so repeated calls produce the same order and hash.
func (e *LiveExecutor) buildOrder(a domain.OrderAttempt) (polymarket.APIOrder, string, error) {
	price := a.Candidate.Price
	if !price.IsPositive() || a.RequestedSize.Round(2).LessThanOrEqual(decimal.Zero) {
		return polymarket.APIOrder{}, "", fmt.Errorf("invalid order: price %s size %s", price, a.RequestedSize)
	}

	usdc := a.RequestedSize.Truncate(2)
	shares := usdc.Div(price).Truncate(4)
	signer := e.signer.Address().Hex()
	maker := signer
	if e.cfg.FunderAddress != "" {
		maker = e.cfg.FunderAddress
	}

	payload := crypto.OrderPayload{
		Salt:          crypto.SaltFromKey(a.IdempotencyKey),
		Maker:         maker,
		Signer:        signer,
		Taker:         zeroAddress,
		TokenID:       a.Candidate.TokenID,
		MakerAmount:   usdc.Mul(usdcUnit).Truncate(0).String(),
		TakerAmount:   shares.Mul(usdcUnit).Truncate(0).String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: e.cfg.SignatureType,
	}
	sig, hash, err := e.signer.SignOrder(payload)
	if err != nil {
		return polymarket.APIOrder{}, "", fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}
	salt, err := strconv.ParseInt(payload.Salt, 10, 64)
	if err != nil {
		return polymarket.APIOrder{}, "", fmt.Errorf("order salt: %w", err)
	}

	return polymarket.APIOrder{
		Salt:          salt,
		Maker:         payload.Maker,
		Signer:        payload.Signer,
		Taker:         payload.Taker,
		TokenID:       payload.TokenID,
		MakerAmount:   payload.MakerAmount,
		TakerAmount:   payload.TakerAmount,
		Expiration:    payload.Expiration,
		Nonce:         payload.Nonce,
		FeeRateBps:    payload.FeeRateBps,
		Side:          string(domain.OrderSideBuy),
		SignatureType: payload.SignatureType,
		Signature:     sig,
	}, hash.Hex(), nil
}

func (e *LiveExecutor) fillFromResult(res polymarket.APIOrderResult, order polymarket.APIOrder, orderID string) domain.Fill {
	usdc := fromUnits(order.MakerAmount)
	shares := fromUnits(order.TakerAmount)
	// The matching engine reports amounts as decimal strings.
	if v, err := decimal.NewFromString(res.MakingAmount); err == nil && v.IsPositive() {
		usdc = v
	}
	if v, err := decimal.NewFromString(res.TakingAmount); err == nil && v.IsPositive() {
		shares = v
	}
	return newFill(orderID, usdc, shares, e.now())
}

func (e *LiveExecutor) fillFromState(st polymarket.OrderState, order polymarket.APIOrder) domain.Fill {
	shares := fromUnits(order.TakerAmount)
	if st.SizeMatched.IsPositive() {
		shares = st.SizeMatched
	}
	usdc := fromUnits(order.MakerAmount)
	if st.Price.IsPositive() {
		usdc = shares.Mul(st.Price).Round(2)
	}
	return newFill(st.ID, usdc, shares, e.now())
}

func newFill(orderID string, usdc, shares decimal.Decimal, at time.Time) domain.Fill {
	price := decimal.Zero
	if shares.IsPositive() {
		price = usdc.DivRound(shares, 4)
	}
	return domain.Fill{OrderID: orderID, Price: price, Size: usdc, Shares: shares, FilledAt: at}
}

func fromUnits(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v.Div(usdcUnit)
}
