package tradelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// Multi forwards each record to every sink in order. All sinks are tried
// even when one fails; failures are logged and returned joined.
type Multi struct {
	sinks  []domain.TradeSink
	logger *slog.Logger
}

// NewMulti creates a fan-out sink. nil sinks are skipped.
func NewMulti(logger *slog.Logger, sinks ...domain.TradeSink) *Multi {
	m := &Multi{logger: logger.With(slog.String("component", "tradelog"))}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record implements domain.TradeSink.
func (m *Multi) Record(ctx context.Context, rec domain.TradeRecord) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil {
			m.logger.ErrorContext(ctx, "tradelog: sink failed",
				slog.Int("sink", i),
				slog.String("attempt_id", rec.AttemptID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink appends records to a TradeRecordStore.
type StoreSink struct {
	store domain.TradeRecordStore
}

// NewStoreSink wraps store as a sink.
func NewStoreSink(store domain.TradeRecordStore) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements domain.TradeSink.
func (s *StoreSink) Record(ctx context.Context, rec domain.TradeRecord) error {
	return s.store.Append(ctx, rec)
}

// BusSink publishes records on the trades channel for live subscribers and
// appends them to the trades stream for late readers.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink wraps bus as a sink.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

// Record implements domain.TradeSink.
func (b *BusSink) Record(ctx context.Context, rec domain.TradeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tradelog: encode record: %w", err)
	}
	return errors.Join(
		b.bus.Publish(ctx, domain.ChannelTrades, payload),
		b.bus.StreamAppend(ctx, domain.StreamTrades, payload),
	)
}
