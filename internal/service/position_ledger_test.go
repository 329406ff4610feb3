package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memPositionStore struct {
	mu      sync.Mutex
	created []domain.Position
	updated []domain.Position
	failing bool
}

func (s *memPositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("db down")
	}
	s.created = append(s.created, p)
	return nil
}

func (s *memPositionStore) Update(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("db down")
	}
	s.updated = append(s.updated, p)
	return nil
}

func (s *memPositionStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *memPositionStore) GetOpen(context.Context) ([]domain.Position, error) { return nil, nil }
func (s *memPositionStore) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}
func (s *memPositionStore) ListBefore(context.Context, time.Time) ([]domain.Position, error) {
	return nil, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}
func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAudit) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

func openLong(t *testing.T, l *PositionLedger, venue, entry, qty, sl string, tp string) domain.Position {
	t.Helper()
	req := domain.OpenPositionRequest{
		Venue:         venue,
		Symbol:        "BTC/USDT",
		Side:          domain.SideLong,
		EntryPrice:    d(entry),
		Quantity:      d(qty),
		StopLossPrice: d(sl),
	}
	if tp != "" {
		req.TakeProfitPrice = decimal.NewNullDecimal(d(tp))
	}
	pos, err := l.Open(context.Background(), req)
	require.NoError(t, err)
	return pos
}

func TestLedger_StopLossMonotonicity(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	pos := openLong(t, l, "A", "100", "2", "98", "")
	ctx := context.Background()

	for _, p := range []string{"99.99", "98.01", "150"} {
		closed := l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d(p)})
		assert.Empty(t, closed, "price %s must not trigger", p)
	}

	closed := l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("98")})
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseStopLoss, closed[0].Reason)
	assert.Equal(t, pos.ID, closed[0].Position.ID)
	assert.True(t, closed[0].PnL.Equal(d("-4")))
	assert.True(t, l.DailyPnL().Equal(d("-4")))

	again := l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("90")})
	assert.Empty(t, again, "closed positions are skipped")

	got, ok := l.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.True(t, got.ClosePrice.Decimal.Equal(d("98")))
	assert.NotNil(t, got.ClosedAt)
}

func TestLedger_TakeProfitAndShortSide(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	ctx := context.Background()
	long := openLong(t, l, "A", "100", "1", "95", "110")

	short, err := l.Open(ctx, domain.OpenPositionRequest{
		Venue:           "B",
		Symbol:          "BTC/USDT",
		Side:            domain.SideShort,
		EntryPrice:      d("100"),
		Quantity:        d("1"),
		StopLossPrice:   d("105"),
		TakeProfitPrice: decimal.NewNullDecimal(d("90")),
	})
	require.NoError(t, err)

	closed := l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("110"), "B": d("89")})
	require.Len(t, closed, 2)

	byID := map[string]domain.ClosedPosition{}
	for _, c := range closed {
		byID[c.Position.ID] = c
	}
	assert.Equal(t, domain.CloseTakeProfit, byID[long.ID].Reason)
	assert.True(t, byID[long.ID].PnL.Equal(d("10")))
	assert.Equal(t, domain.CloseTakeProfit, byID[short.ID].Reason)
	assert.True(t, byID[short.ID].PnL.Equal(d("11")))

	sum := l.Summary()
	assert.Equal(t, int64(2), sum.TakeProfits)
	assert.Equal(t, int64(0), sum.StopLosses)
	assert.True(t, sum.TotalPnL.Equal(d("21")))
}

func TestLedger_ShortStopLoss(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	ctx := context.Background()
	_, err := l.Open(ctx, domain.OpenPositionRequest{
		Venue: "B", Side: domain.SideShort, EntryPrice: d("100"), Quantity: d("1"), StopLossPrice: d("105"),
	})
	require.NoError(t, err)

	assert.Empty(t, l.CheckTriggers(ctx, map[string]decimal.Decimal{"B": d("104.99")}))
	closed := l.CheckTriggers(ctx, map[string]decimal.Decimal{"B": d("105")})
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseStopLoss, closed[0].Reason)
	assert.True(t, closed[0].PnL.Equal(d("-5")))
}

func TestLedger_SkipsMissingOrZeroPrices(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	openLong(t, l, "A", "100", "1", "98", "")

	ctx := context.Background()
	assert.Empty(t, l.CheckTriggers(ctx, map[string]decimal.Decimal{"B": d("1")}))
	assert.Empty(t, l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": decimal.Zero}))
	assert.Empty(t, l.CheckTriggers(ctx, nil))
	assert.Equal(t, 1, l.Summary().OpenPositions)
}

func TestLedger_SymbolScopedTriggers(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	btc := openLong(t, l, "A", "100", "1", "98", "")

	ctx := context.Background()
	prices := map[string]decimal.Decimal{"A": d("50")}
	assert.Empty(t, l.CheckSymbolTriggers(ctx, "ETH/USDT", prices))

	closed := l.CheckSymbolTriggers(ctx, "BTC/USDT", prices)
	require.Len(t, closed, 1)
	assert.Equal(t, btc.ID, closed[0].Position.ID)
}

func TestLedger_OpenValidation(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	_, err := l.Open(context.Background(), domain.OpenPositionRequest{Venue: "A", EntryPrice: d("0"), Quantity: d("1")})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "entry_price", ve.Field)

	_, err = l.Open(context.Background(), domain.OpenPositionRequest{Venue: "A", EntryPrice: d("1"), Quantity: d("-1")})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "quantity", ve.Field)
}

func TestLedger_CloseCancelAndUnbalanced(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	ctx := context.Background()
	a := openLong(t, l, "A", "100", "1", "98", "")
	b := openLong(t, l, "A", "200", "1", "196", "")
	c := openLong(t, l, "A", "300", "1", "294", "")

	assert.True(t, l.Exposure().Equal(d("600")))

	closed, err := l.Close(ctx, a.ID, d("103"), domain.CloseManual)
	require.NoError(t, err)
	assert.True(t, closed.PnL.Equal(d("3")))

	_, err = l.Close(ctx, a.ID, d("103"), domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)

	_, err = l.Close(ctx, "missing", d("1"), domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, l.Cancel(ctx, b.ID))
	cancelled, _ := l.Get(b.ID)
	assert.Equal(t, domain.CloseCancelled, cancelled.CloseReason)
	assert.True(t, cancelled.RealizedPnL.IsZero())

	require.NoError(t, l.MarkUnbalanced(ctx, c.ID, "reconciliation required"))
	unb, _ := l.Get(c.ID)
	assert.True(t, unb.Unbalanced)
	assert.Equal(t, domain.PositionStatusOpen, unb.Status)

	sum := l.Summary()
	assert.Equal(t, 1, sum.OpenPositions)
	assert.Equal(t, 2, sum.ClosedPositions)
	assert.Equal(t, 1, sum.Unbalanced)
	assert.True(t, sum.Exposure.Equal(d("300")))
	assert.True(t, sum.DailyPnL.Equal(d("3")))

	assert.Len(t, l.Positions(domain.PositionStatusOpen), 1)
	assert.Len(t, l.Positions(""), 3)
}

func TestLedger_PrunesClosedHistory(t *testing.T) {
	tests := []struct {
		name      string
		retention int
		cycles    int
		wantKept  int
	}{
		{"under cap", 5, 3, 3},
		{"at cap", 5, 5, 5},
		{"over cap", 5, 40, 5},
		{"default cap", 0, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewPositionLedger(LedgerDeps{ClosedRetention: tt.retention}, testLogger())
			ctx := context.Background()
			keep := openLong(t, l, "B", "100", "1", "90", "")
			var ids []string
			for i := 0; i < tt.cycles; i++ {
				p := openLong(t, l, "A", "100", "1", "98", "")
				ids = append(ids, p.ID)
				if i%2 == 0 {
					require.NoError(t, l.Cancel(ctx, p.ID))
				} else {
					l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("97")})
				}
			}

			closed := l.Positions(domain.PositionStatusClosed)
			require.Len(t, closed, tt.wantKept)
			assert.Equal(t, ids[len(ids)-1], closed[len(closed)-1].ID)
			_, ok := l.Get(ids[0])
			assert.Equal(t, tt.cycles <= tt.wantKept, ok)

			open := l.Positions(domain.PositionStatusOpen)
			require.Len(t, open, 1)
			assert.Equal(t, keep.ID, open[0].ID)
			assert.Len(t, l.Positions(""), tt.wantKept+1)
			assert.True(t, l.Exposure().Equal(d("100")))

			sum := l.Summary()
			assert.Equal(t, 1, sum.OpenPositions)
			assert.Equal(t, tt.cycles, sum.ClosedPositions)
		})
	}
}

func TestLedger_CancelAfterPruneIsNotFound(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{ClosedRetention: 1}, testLogger())
	ctx := context.Background()
	a := openLong(t, l, "A", "100", "1", "98", "")
	b := openLong(t, l, "A", "100", "1", "98", "")
	require.NoError(t, l.Cancel(ctx, a.ID))
	require.NoError(t, l.Cancel(ctx, b.ID))

	assert.ErrorIs(t, l.Cancel(ctx, a.ID), domain.ErrNotFound)
	assert.ErrorIs(t, l.Cancel(ctx, b.ID), domain.ErrPositionClosed)
}

func TestLedger_RecordRealizedAndReset(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	l.RecordRealized(d("-600"))
	assert.True(t, l.DailyPnL().Equal(d("-600")))
	l.ResetDaily()
	assert.True(t, l.DailyPnL().IsZero())
	assert.True(t, l.Summary().TotalPnL.Equal(d("-600")))
}

func TestLedger_JournalsChanges(t *testing.T) {
	store := &memPositionStore{}
	audit := &memAudit{}
	j := NewJournal(16, time.Second, testLogger())
	l := NewPositionLedger(LedgerDeps{Store: store, Audit: audit, Journal: j}, testLogger())

	openLong(t, l, "A", "100", "1", "98", "")
	l.CheckTriggers(context.Background(), map[string]decimal.Decimal{"A": d("97")})
	j.Close()

	require.Len(t, store.created, 1)
	require.Len(t, store.updated, 1)
	assert.Equal(t, domain.PositionStatusClosed, store.updated[0].Status)
	assert.True(t, audit.has("position_opened"))
	assert.True(t, audit.has("position_closed"))
}

func TestLedger_StoreFailureDoesNotBlock(t *testing.T) {
	store := &memPositionStore{failing: true}
	j := NewJournal(16, time.Second, testLogger())
	l := NewPositionLedger(LedgerDeps{Store: store, Journal: j}, testLogger())

	pos := openLong(t, l, "A", "100", "1", "98", "")
	j.Close()

	got, ok := l.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestLedger_ConcurrentOpenAndScan(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Open(ctx, domain.OpenPositionRequest{Venue: "A", EntryPrice: d("100"), Quantity: d("1"), StopLossPrice: d("99")})
		}()
		go func() {
			defer wg.Done()
			l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("98")})
		}()
	}
	wg.Wait()
	l.CheckTriggers(ctx, map[string]decimal.Decimal{"A": d("98")})

	sum := l.Summary()
	assert.Equal(t, 0, sum.OpenPositions)
	assert.Equal(t, 50, sum.ClosedPositions)
	assert.Equal(t, int64(50), sum.StopLosses)
	assert.True(t, sum.DailyPnL.Equal(d("-100")))
}

func TestLedger_Restore(t *testing.T) {
	l := NewPositionLedger(LedgerDeps{}, testLogger())
	l.Restore([]domain.Position{{
		ID: "p1", Venue: "A", Side: domain.SideLong, EntryPrice: d("10"), Quantity: d("3"),
		StopLossPrice: d("9"), Status: domain.PositionStatusOpen,
	}})
	assert.True(t, l.Exposure().Equal(d("30")))
	closed := l.CheckTriggers(context.Background(), map[string]decimal.Decimal{"A": d("9")})
	require.Len(t, closed, 1)
	assert.Equal(t, "p1", closed[0].Position.ID)
}
