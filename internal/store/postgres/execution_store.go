package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Each record and its
// legs are written in one transaction.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionCols = `id, idempotency_key, mode, status, symbol, position_id,
	buy_venue, sell_venue, buy_price, sell_price, quantity, allocation_notional,
	spread_pct, risk_decision, fill_buy_price, fill_sell_price, fees, net_pnl,
	unbalanced, signal_latency_ms, risk_latency_ms, exec_latency_ms,
	total_latency_ms, error_message, created_at`

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func fromMS(v float64) time.Duration { return time.Duration(v * float64(time.Millisecond)) }

// uniqueViolation is the SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Create inserts exec and its legs. A second non-rejected record for the
// same idempotency key returns domain.ErrAlreadyExecuted.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.TradeExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin execution %s: %w", exec.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO trade_executions (`+executionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		exec.ID, exec.IdempotencyKey, string(exec.Mode), string(exec.Status), exec.Symbol, exec.PositionID,
		exec.BuyVenue, exec.SellVenue, exec.BuyPrice, exec.SellPrice, exec.Quantity, exec.AllocationNotional,
		exec.SpreadPct, string(exec.RiskDecision), exec.FillBuyPrice, exec.FillSellPrice, exec.Fees, exec.NetPnL,
		exec.Unbalanced, ms(exec.Latency.Signal), ms(exec.Latency.Risk), ms(exec.Latency.Execution),
		ms(exec.Latency.Total), exec.ErrorMessage, exec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert execution %s: key %q: %w", exec.ID, exec.IdempotencyKey, domain.ErrAlreadyExecuted)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}

	for _, leg := range exec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, side, venue, order_id, expected_price,
				filled_price, quantity, fee, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			exec.ID, string(leg.Side), leg.Venue, leg.OrderID, leg.ExpectedPrice,
			leg.FilledPrice, leg.Quantity, leg.Fee, string(leg.Status), leg.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %s/%s: %w", exec.ID, leg.Side, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution %s: %w", exec.ID, err)
	}
	return nil
}

func scanExecution(row pgx.Row) (domain.TradeExecution, error) {
	var e domain.TradeExecution
	var mode, status, riskDecision string
	var sigMS, riskMS, execMS, totalMS float64
	err := row.Scan(
		&e.ID, &e.IdempotencyKey, &mode, &status, &e.Symbol, &e.PositionID,
		&e.BuyVenue, &e.SellVenue, &e.BuyPrice, &e.SellPrice, &e.Quantity, &e.AllocationNotional,
		&e.SpreadPct, &riskDecision, &e.FillBuyPrice, &e.FillSellPrice, &e.Fees, &e.NetPnL,
		&e.Unbalanced, &sigMS, &riskMS, &execMS, &totalMS, &e.ErrorMessage, &e.CreatedAt,
	)
	if err != nil {
		return domain.TradeExecution{}, err
	}
	e.Mode = domain.ExecMode(mode)
	e.Status = domain.ExecStatus(status)
	e.RiskDecision = domain.RiskAction(riskDecision)
	e.Latency = domain.Latency{
		Signal:    fromMS(sigMS),
		Risk:      fromMS(riskMS),
		Execution: fromMS(execMS),
		Total:     fromMS(totalMS),
	}
	return e, nil
}

func (s *ExecutionStore) legs(ctx context.Context, id string) ([]domain.ExecutionLeg, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT side, venue, order_id, expected_price, filled_price, quantity, fee, status, error
		FROM execution_legs WHERE execution_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionLeg
	for rows.Next() {
		var leg domain.ExecutionLeg
		var side, status string
		if err := rows.Scan(&side, &leg.Venue, &leg.OrderID, &leg.ExpectedPrice,
			&leg.FilledPrice, &leg.Quantity, &leg.Fee, &status, &leg.Error); err != nil {
			return nil, err
		}
		leg.Side = domain.OrderSide(side)
		leg.Status = domain.LegStatus(status)
		out = append(out, leg)
	}
	return out, rows.Err()
}

// GetByID returns the record with its legs, or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.TradeExecution, error) {
	e, err := scanExecution(s.pool.QueryRow(ctx, `SELECT `+executionCols+` FROM trade_executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeExecution{}, domain.ErrNotFound
		}
		return domain.TradeExecution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	if e.Legs, err = s.legs(ctx, id); err != nil {
		return domain.TradeExecution{}, fmt.Errorf("postgres: get execution legs %s: %w", id, err)
	}
	return e, nil
}

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.TradeExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []domain.TradeExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Legs, err = s.legs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListRecent returns the latest records, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.list(ctx, `SELECT `+executionCols+` FROM trade_executions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	return out, nil
}

// ListKeysSince returns the idempotency keys of dispatched records created
// since the cutoff. Rejected records never consumed their key.
func (s *ExecutionStore) ListKeysSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT idempotency_key FROM trade_executions
		WHERE created_at >= $1 AND status <> $2`,
		since, string(domain.ExecRejected))
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution keys: %w", err)
	}
	return keys, nil
}

// ListBefore returns records created before the cutoff, oldest first, for
// archiving.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeExecution, error) {
	out, err := s.list(ctx, `SELECT `+executionCols+` FROM trade_executions WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return out, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
