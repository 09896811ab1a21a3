package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// TradeAlerts turns terminal trade records into notifications. It
// implements domain.TradeSink.
type TradeAlerts struct {
	n *Notifier
}

// NewTradeAlerts wraps n as a trade sink.
func NewTradeAlerts(n *Notifier) *TradeAlerts {
	return &TradeAlerts{n: n}
}

// Record notifies about rec.
func (a *TradeAlerts) Record(ctx context.Context, rec domain.TradeRecord) error {
	event, title := EventTradeConfirmed, fmt.Sprintf("[%s] Bought %s", rec.Mode, rec.Outcome)
	if rec.Status != domain.AttemptConfirmed {
		event, title = EventTradeFailed, fmt.Sprintf("[%s] Order failed", rec.Mode)
	}
	return a.n.Notify(ctx, event, title, FormatTrade(rec))
}

// FormatTrade renders a trade record as a short multi-line message.
func FormatTrade(rec domain.TradeRecord) string {
	msg := fmt.Sprintf("%s\nOutcome: %s @ %s\nSize: %s USDC (%s shares)\nExpected payout: %s USDC\nAttempts: %d",
		rec.Question,
		rec.Outcome, rec.Price.StringFixed(4),
		rec.Size.StringFixed(2), rec.Shares.StringFixed(2),
		rec.ExpectedPayout.StringFixed(4),
		rec.Attempts,
	)
	if rec.Reason != "" {
		msg += "\nReason: " + rec.Reason
	}
	return msg
}

// FormatResolution renders a settled position.
func FormatResolution(pos domain.Position, res domain.PositionResolution) string {
	result := "LOST"
	if res.Won {
		result = "WON"
	}
	return fmt.Sprintf("%s\n%s on %s\nSize: %s USDC\nPnL: %s USDC",
		pos.Question, result, pos.Outcome, pos.Size.StringFixed(2), res.PnL.StringFixed(4))
}
