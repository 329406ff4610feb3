package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// LedgerDeps are the optional collaborators of a PositionLedger. Any of
// them may be nil.
type LedgerDeps struct {
	Store   domain.PositionStore
	Bus     domain.SignalBus
	Audit   domain.AuditStore
	Journal *Journal
	// ClosedRetention caps how many closed positions stay in memory. Older
	// ones remain in Store. Zero means DefaultClosedRetention.
	ClosedRetention int
}

// DefaultClosedRetention is the closed history a ledger keeps in memory.
const DefaultClosedRetention = 1000

// PositionLedger owns every Position. All reads and writes go through one
// mutex, so a trigger scan never observes a position mid-creation. Open
// positions are kept until closed; closed ones are pruned oldest first.
type PositionLedger struct {
	deps   LedgerDeps
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	positions   map[string]*domain.Position
	open        []string
	closed      []string
	retain      int
	closedTotal int
	unbalanced  int
	dailyPnL    decimal.Decimal
	totalPnL    decimal.Decimal
	stopLosses  int64
	takeProfits int64
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger(deps LedgerDeps, logger *slog.Logger) *PositionLedger {
	retain := deps.ClosedRetention
	if retain <= 0 {
		retain = DefaultClosedRetention
	}
	return &PositionLedger{
		deps:      deps,
		logger:    logger.With(slog.String("component", "position_ledger")),
		now:       time.Now,
		positions: make(map[string]*domain.Position),
		retain:    retain,
	}
}

// Restore loads previously persisted positions, typically open positions
// read back on startup. Existing ids are overwritten.
func (l *PositionLedger) Restore(positions []domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range positions {
		p := positions[i]
		if old, ok := l.positions[p.ID]; ok {
			l.forgetLocked(old)
		}
		l.positions[p.ID] = &p
		if p.Unbalanced {
			l.unbalanced++
		}
		if p.Status == domain.PositionStatusOpen {
			l.open = append(l.open, p.ID)
		} else {
			l.retireLocked(p.ID)
		}
	}
	l.refreshGaugesLocked()
}

// forgetLocked drops pos from the indexes and counters. l.mu must be held.
func (l *PositionLedger) forgetLocked(pos *domain.Position) {
	if pos.Unbalanced {
		l.unbalanced--
	}
	if pos.Status == domain.PositionStatusOpen {
		l.open = removeID(l.open, pos.ID)
	} else {
		l.closed = removeID(l.closed, pos.ID)
		l.closedTotal--
	}
	delete(l.positions, pos.ID)
}

// retireLocked moves id into the closed history and prunes the oldest
// entries past the retention cap. l.mu must be held.
func (l *PositionLedger) retireLocked(id string) {
	l.closed = append(l.closed, id)
	l.closedTotal++
	if n := len(l.closed) - l.retain; n > 0 {
		for _, old := range l.closed[:n] {
			delete(l.positions, old)
		}
		l.closed = append(l.closed[:0], l.closed[n:]...)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Open creates an OPEN position.
func (l *PositionLedger) Open(ctx context.Context, req domain.OpenPositionRequest) (domain.Position, error) {
	if !req.EntryPrice.IsPositive() {
		return domain.Position{}, &domain.ValidationError{Field: "entry_price", Reason: "must be positive"}
	}
	if !req.Quantity.IsPositive() {
		return domain.Position{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	side := req.Side
	if side == "" {
		side = domain.SideLong
	}
	if side != domain.SideLong && side != domain.SideShort {
		return domain.Position{}, &domain.ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", side)}
	}

	pos := domain.Position{
		ID:              uuid.NewString(),
		Venue:           req.Venue,
		Symbol:          req.Symbol,
		Side:            side,
		EntryPrice:      req.EntryPrice,
		Quantity:        req.Quantity,
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Status:          domain.PositionStatusOpen,
		RealizedPnL:     decimal.Zero,
		OpenedAt:        l.now().UTC(),
	}

	l.mu.Lock()
	stored := pos
	l.positions[pos.ID] = &stored
	l.open = append(l.open, pos.ID)
	l.refreshGaugesLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "position_ledger: position opened",
		slog.String("position_id", pos.ID),
		slog.String("venue", pos.Venue),
		slog.String("side", string(pos.Side)),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
		slog.String("stop_loss", pos.StopLossPrice.String()),
	)
	l.record(pos, "position_opened", func(ctx context.Context, st domain.PositionStore) error {
		return st.Create(ctx, pos)
	})
	return pos, nil
}

// CheckTriggers closes every OPEN position whose venue price crossed its
// stop-loss or take-profit. Positions without a positive price in prices are
// left alone. Stop-loss wins when both levels are crossed.
func (l *PositionLedger) CheckTriggers(ctx context.Context, prices map[string]decimal.Decimal) []domain.ClosedPosition {
	return l.CheckSymbolTriggers(ctx, "", prices)
}

// CheckSymbolTriggers is CheckTriggers restricted to positions in symbol,
// for scans that hold one symbol's venue prices. An empty symbol matches
// every position.
func (l *PositionLedger) CheckSymbolTriggers(ctx context.Context, symbol string, prices map[string]decimal.Decimal) []domain.ClosedPosition {
	l.mu.Lock()
	var closed []domain.ClosedPosition
	// closeLocked shrinks l.open, so scan a snapshot.
	for _, id := range append([]string(nil), l.open...) {
		pos := l.positions[id]
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		price, ok := prices[pos.Venue]
		if !ok || !price.IsPositive() {
			continue
		}
		reason, hit := triggerFor(*pos, price)
		if !hit {
			continue
		}
		closed = append(closed, l.closeLocked(pos, price, reason))
	}
	if len(closed) > 0 {
		l.refreshGaugesLocked()
	}
	l.mu.Unlock()

	for _, c := range closed {
		l.logger.WarnContext(ctx, "position_ledger: trigger hit",
			slog.String("position_id", c.Position.ID),
			slog.String("reason", string(c.Reason)),
			slog.String("exit_price", c.ExitPrice.String()),
			slog.String("pnl", c.PnL.String()),
		)
		l.recordClose(c)
	}
	return closed
}

func triggerFor(pos domain.Position, price decimal.Decimal) (domain.CloseReason, bool) {
	switch pos.Side {
	case domain.SideShort:
		if price.GreaterThanOrEqual(pos.StopLossPrice) {
			return domain.CloseStopLoss, true
		}
		if pos.TakeProfitPrice.Valid && price.LessThanOrEqual(pos.TakeProfitPrice.Decimal) {
			return domain.CloseTakeProfit, true
		}
	default:
		if price.LessThanOrEqual(pos.StopLossPrice) {
			return domain.CloseStopLoss, true
		}
		if pos.TakeProfitPrice.Valid && price.GreaterThanOrEqual(pos.TakeProfitPrice.Decimal) {
			return domain.CloseTakeProfit, true
		}
	}
	return "", false
}

// Close closes a position at price for an external reason.
func (l *PositionLedger) Close(ctx context.Context, id string, price decimal.Decimal, reason domain.CloseReason) (domain.ClosedPosition, error) {
	if !price.IsPositive() && reason != domain.CloseCancelled {
		return domain.ClosedPosition{}, &domain.ValidationError{Field: "price", Reason: "must be positive"}
	}
	if reason == "" {
		reason = domain.CloseManual
	}

	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return domain.ClosedPosition{}, fmt.Errorf("position_ledger: position %q: %w", id, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionStatusOpen {
		l.mu.Unlock()
		return domain.ClosedPosition{}, fmt.Errorf("position_ledger: position %q: %w", id, domain.ErrPositionClosed)
	}
	if reason == domain.CloseCancelled {
		price = pos.EntryPrice
	}
	c := l.closeLocked(pos, price, reason)
	l.refreshGaugesLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "position_ledger: position closed",
		slog.String("position_id", id),
		slog.String("reason", string(reason)),
		slog.String("exit_price", price.String()),
		slog.String("pnl", c.PnL.String()),
	)
	l.recordClose(c)
	return c, nil
}

// Cancel closes a position whose execution never filled. No P&L is booked.
func (l *PositionLedger) Cancel(ctx context.Context, id string) error {
	_, err := l.Close(ctx, id, decimal.Zero, domain.CloseCancelled)
	return err
}

// MarkUnbalanced flags a position whose hedge leg failed.
func (l *PositionLedger) MarkUnbalanced(ctx context.Context, id, note string) error {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("position_ledger: position %q: %w", id, domain.ErrNotFound)
	}
	if !pos.Unbalanced {
		l.unbalanced++
	}
	pos.Unbalanced = true
	pos.Note = note
	snapshot := *pos
	l.mu.Unlock()

	l.logger.ErrorContext(ctx, "position_ledger: position unbalanced",
		slog.String("position_id", id),
		slog.String("note", note),
	)
	l.record(snapshot, "position_unbalanced", func(ctx context.Context, st domain.PositionStore) error {
		return st.Update(ctx, snapshot)
	})
	return nil
}

// closeLocked must be called with l.mu held.
func (l *PositionLedger) closeLocked(pos *domain.Position, price decimal.Decimal, reason domain.CloseReason) domain.ClosedPosition {
	now := l.now().UTC()
	pnl := decimal.Zero
	if reason != domain.CloseCancelled {
		pnl = pos.PnLAt(price)
	}

	pos.Status = domain.PositionStatusClosed
	pos.ClosePrice = decimal.NewNullDecimal(price)
	pos.CloseReason = reason
	pos.ClosedAt = &now
	pos.RealizedPnL = pnl
	snapshot := *pos
	l.open = removeID(l.open, pos.ID)
	l.retireLocked(pos.ID)

	l.dailyPnL = l.dailyPnL.Add(pnl)
	l.totalPnL = l.totalPnL.Add(pnl)
	switch reason {
	case domain.CloseStopLoss:
		l.stopLosses++
	case domain.CloseTakeProfit:
		l.takeProfits++
	}
	metrics.PositionTriggersTotal.WithLabelValues(string(reason)).Inc()

	return domain.ClosedPosition{Position: snapshot, Reason: reason, ExitPrice: price, PnL: pnl}
}

// refreshGaugesLocked must be called with l.mu held.
func (l *PositionLedger) refreshGaugesLocked() {
	metrics.OpenPositions.Set(float64(len(l.open)))
	metrics.SetDecimal(metrics.OpenExposure, l.exposureLocked())
	metrics.SetDecimal(metrics.DailyPnL, l.dailyPnL)
}

// Get returns a copy of one position.
func (l *PositionLedger) Get(id string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of positions with the given status, oldest
// first. An empty status returns all of them. Closed positions are limited
// to the retained history.
func (l *PositionLedger) Positions(status domain.PositionStatus) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.open
	if status != domain.PositionStatusOpen {
		ids = append(append([]string(nil), l.closed...), l.open...)
	}
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		p := l.positions[id]
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Exposure is the notional of all open positions.
func (l *PositionLedger) Exposure() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exposureLocked()
}

func (l *PositionLedger) exposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.open {
		total = total.Add(l.positions[id].Notional())
	}
	return total
}

// DailyPnL is the realized P&L since the last ResetDaily.
func (l *PositionLedger) DailyPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

// RecordRealized books P&L realized outside the ledger, such as a manual
// hedge.
func (l *PositionLedger) RecordRealized(pnl decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = l.dailyPnL.Add(pnl)
	l.totalPnL = l.totalPnL.Add(pnl)
	metrics.SetDecimal(metrics.DailyPnL, l.dailyPnL)
}

// ResetDaily zeroes the daily P&L.
func (l *PositionLedger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = decimal.Zero
	metrics.SetDecimal(metrics.DailyPnL, l.dailyPnL)
}

// Summary returns portfolio totals. Closed and unbalanced counts include
// positions already pruned from memory.
func (l *PositionLedger) Summary() domain.PortfolioSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.PortfolioSummary{
		OpenPositions:   len(l.open),
		ClosedPositions: l.closedTotal,
		Unbalanced:      l.unbalanced,
		Exposure:        l.exposureLocked(),
		TotalPnL:        l.totalPnL,
		DailyPnL:        l.dailyPnL,
		StopLosses:      l.stopLosses,
		TakeProfits:     l.takeProfits,
	}
}

func (l *PositionLedger) recordClose(c domain.ClosedPosition) {
	pos := c.Position
	l.record(pos, "position_closed", func(ctx context.Context, st domain.PositionStore) error {
		return st.Update(ctx, pos)
	})
}

// record persists, publishes and audits a position change through the
// journal.
func (l *PositionLedger) record(pos domain.Position, event string, persist func(context.Context, domain.PositionStore) error) {
	j := l.deps.Journal
	if j == nil {
		return
	}
	if st := l.deps.Store; st != nil {
		j.Submit(event+":store", func(ctx context.Context) error {
			if err := persist(ctx, st); err != nil {
				return fmt.Errorf("position_ledger: persist %s: %w", pos.ID, err)
			}
			return nil
		})
	}
	if bus := l.deps.Bus; bus != nil {
		payload, err := json.Marshal(map[string]any{"event": event, "position": pos})
		if err == nil {
			j.Submit(event+":publish", func(ctx context.Context) error {
				if err := bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
					return err
				}
				return bus.StreamAppend(ctx, domain.StreamPositions, payload)
			})
		}
	}
	if audit := l.deps.Audit; audit != nil {
		j.Submit(event+":audit", func(ctx context.Context) error {
			return audit.Log(ctx, event, map[string]any{
				"position_id":  pos.ID,
				"venue":        pos.Venue,
				"side":         string(pos.Side),
				"entry_price":  pos.EntryPrice.String(),
				"quantity":     pos.Quantity.String(),
				"status":       string(pos.Status),
				"close_reason": string(pos.CloseReason),
				"realized_pnl": pos.RealizedPnL.String(),
				"unbalanced":   pos.Unbalanced,
			})
		})
	}
}
