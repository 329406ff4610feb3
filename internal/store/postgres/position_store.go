package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// PositionStore implements domain.PositionStore. The ledger writes through
// on open, close and unbalanced transitions; rows are restored on startup.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, venue, symbol, side, entry_price, quantity,
	stop_loss_price, take_profit_price, status, close_price, close_reason,
	realized_pnl, unbalanced, note, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status, reason string
	err := row.Scan(
		&p.ID, &p.Venue, &p.Symbol, &side, &p.EntryPrice, &p.Quantity,
		&p.StopLossPrice, &p.TakeProfitPrice, &status, &p.ClosePrice, &reason,
		&p.RealizedPnL, &p.Unbalanced, &p.Note, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a position. A duplicate id returns domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO positions (`+positionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Venue, p.Symbol, string(p.Side), p.EntryPrice, p.Quantity,
		p.StopLossPrice, p.TakeProfitPrice, string(p.Status), p.ClosePrice, string(p.CloseReason),
		p.RealizedPnL, p.Unbalanced, p.Note, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Update overwrites the mutable columns of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET
			status = $2, close_price = $3, close_reason = $4, realized_pnl = $5,
			unbalanced = $6, note = $7, closed_at = $8, updated_at = NOW()
		WHERE id = $1`,
		p.ID, string(p.Status), p.ClosePrice, string(p.CloseReason), p.RealizedPnL,
		p.Unbalanced, p.Note, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns every OPEN position, oldest first.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = $1 ORDER BY opened_at`,
		string(domain.PositionStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return out, nil
}

// ListHistory returns closed positions, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	q, args := listQuery(`SELECT `+positionCols+` FROM positions WHERE status = $1`,
		"opened_at", opts, []any{string(domain.PositionStatusClosed)})
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return out, nil
}

// ListBefore returns closed positions opened before the cutoff, for
// archiving.
func (s *PositionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = $1 AND opened_at < $2 ORDER BY opened_at`,
		string(domain.PositionStatusClosed), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions before %s: %w", before.Format(time.RFC3339), err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
