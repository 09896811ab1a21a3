package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// TradeStore implements domain.TradeRecordStore using PostgreSQL. Rows are
// keyed by attempt ID, so re-appending a record is a no-op.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `attempt_id, recorded_at, market_id, question, outcome, side,
	price, size, shares, expected_payout, mode, status, attempts, order_id, reason`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var side, mode, status string
		if err := rows.Scan(
			&r.AttemptID, &r.Timestamp, &r.MarketID, &r.Question, &r.Outcome, &side,
			&r.Price, &r.Size, &r.Shares, &r.ExpectedPayout,
			&mode, &status, &r.Attempts, &r.OrderID, &r.Reason,
		); err != nil {
			return nil, err
		}
		r.Side = domain.OrderSide(side)
		r.Mode = domain.Mode(mode)
		r.Status = domain.AttemptStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts rec.
func (s *TradeStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			attempt_id, recorded_at, market_id, question, outcome, side,
			price, size, shares, expected_payout,
			mode, status, attempts, order_id, reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		) ON CONFLICT (attempt_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.AttemptID, rec.Timestamp, rec.MarketID, rec.Question, rec.Outcome, string(rec.Side),
		rec.Price, rec.Size, rec.Shares, rec.ExpectedPayout,
		string(rec.Mode), string(rec.Status), rec.Attempts, rec.OrderID, rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade record %s: %w", rec.AttemptID, err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trade records: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return out, nil
}

// ListBefore returns up to limit records older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records WHERE recorded_at < $1 ORDER BY recorded_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return out, nil
}

// DeleteBefore removes records older than before and reports how many went.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_records WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade records before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
