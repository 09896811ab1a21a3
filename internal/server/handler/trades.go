package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// TradeLister returns the most recent trade records, newest first.
type TradeLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// TradeHandler serves the trade log.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trades"))}
}

// ListTrades returns recent trade records.
// GET /api/trades?limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	recs, err := h.trades.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "server: list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": recs, "count": len(recs)})
}
