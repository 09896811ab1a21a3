package domain

import (
	"context"
	"time"
)

// TradeRecordStore persists terminal order attempts.
type TradeRecordStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists committed positions so exposure can be rebuilt on
// restart.
type PositionStore interface {
	Open(ctx context.Context, pos Position) error
	ListOpen(ctx context.Context, mode Mode) ([]Position, error)
	Resolve(ctx context.Context, marketID string, mode Mode, res PositionResolution) error
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// TradeSink receives every terminal trade record exactly once.
type TradeSink interface {
	Record(ctx context.Context, rec TradeRecord) error
}
