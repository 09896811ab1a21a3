package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

const (
	positionOpen     = "open"
	positionResolved = "resolved"
)

// PositionStore implements domain.PositionStore using PostgreSQL. There is
// at most one row per market and mode, so paper and live books never share
// a row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Open records a newly committed position. A resolved row for the same
// market is replaced; an open one is left untouched.
func (s *PositionStore) Open(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, question, outcome, token_id, attempt_id,
			entry_price, size, shares, mode, status, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, NOW()
		)
		ON CONFLICT (market_id, mode) DO UPDATE SET
			question = EXCLUDED.question,
			outcome = EXCLUDED.outcome,
			token_id = EXCLUDED.token_id,
			attempt_id = EXCLUDED.attempt_id,
			entry_price = EXCLUDED.entry_price,
			size = EXCLUDED.size,
			shares = EXCLUDED.shares,
			status = EXCLUDED.status,
			opened_at = EXCLUDED.opened_at,
			won = NULL,
			pnl = NULL,
			resolved_at = NULL,
			updated_at = NOW()
		WHERE positions.status <> 'open'`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Question, p.Outcome, p.TokenID, p.AttemptID,
		p.EntryPrice, p.Size, p.Shares, string(p.Mode), positionOpen, p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: open position %s: %w", p.MarketID, err)
	}
	return nil
}

// ListOpen returns the unresolved positions opened in mode.
func (s *PositionStore) ListOpen(ctx context.Context, mode domain.Mode) ([]domain.Position, error) {
	const query = `
		SELECT market_id, question, outcome, token_id, attempt_id,
			entry_price, size, shares, mode, opened_at
		FROM positions WHERE status = $1 AND mode = $2 ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, positionOpen, string(mode))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var mode string
		if err := rows.Scan(
			&p.MarketID, &p.Question, &p.Outcome, &p.TokenID, &p.AttemptID,
			&p.EntryPrice, &p.Size, &p.Shares, &mode, &p.OpenedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Mode = domain.Mode(mode)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return out, nil
}

// Resolve marks the open position in marketID for mode as settled. It
// returns domain.ErrNotFound when there is no open position.
func (s *PositionStore) Resolve(ctx context.Context, marketID string, mode domain.Mode, res domain.PositionResolution) error {
	const query = `
		UPDATE positions
		SET status = $3, won = $4, pnl = $5, resolved_at = $6, updated_at = NOW()
		WHERE market_id = $1 AND mode = $2 AND status = $7`

	tag, err := s.pool.Exec(ctx, query, marketID, string(mode), positionResolved, res.Won, res.PnL, res.ResolvedAt, positionOpen)
	if err != nil {
		return fmt.Errorf("postgres: resolve position %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve position %s: %w", marketID, domain.ErrNotFound)
	}
	return nil
}
