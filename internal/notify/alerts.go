package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// Alert kinds, used as the notifier event filter.
const (
	KindTradeFilled      = "trade_filled"
	KindTradeRejected    = "trade_rejected"
	KindExecutionFailed  = "execution_failed"
	KindPartialExecution = "partial_execution"
	KindStopLoss         = "stop_loss"
	KindTakeProfit       = "take_profit"
	KindDailyLimit       = "daily_limit"
	KindCircuitOpen      = "circuit_open"
	KindRegimeChange     = "regime_change"
)

// Alert is one queued message. Broadcast alerts skip the event filter.
type Alert struct {
	Kind      string
	Title     string
	Message   string
	Broadcast bool
}

// Alerts formats domain events and delivers them from a background queue.
// Enqueue never blocks, so it is safe to call while holding a lock.
type Alerts struct {
	notifier *Notifier
	queue    chan Alert
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAlerts creates an Alerts with the given queue size. Nothing is sent
// until Run is started.
func NewAlerts(n *Notifier, size int, logger *slog.Logger) *Alerts {
	if size <= 0 {
		size = 256
	}
	return &Alerts{
		notifier: n,
		queue:    make(chan Alert, size),
		timeout:  15 * time.Second,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case al := <-a.queue:
			a.deliver(ctx, al)
		}
	}
}

func (a *Alerts) deliver(ctx context.Context, al Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var err error
	if al.Broadcast {
		err = a.notifier.NotifyAllKind(sendCtx, al.Kind, al.Title, al.Message)
	} else {
		if !a.notifier.Allowed(al.Kind) {
			metrics.AlertsTotal.WithLabelValues(al.Kind, "filtered").Inc()
			return
		}
		err = a.notifier.Notify(sendCtx, al.Kind, al.Title, al.Message)
	}
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(al.Kind, "error").Inc()
		return
	}
	metrics.AlertsTotal.WithLabelValues(al.Kind, "sent").Inc()
}

// Enqueue queues al, dropping it when the queue is full.
func (a *Alerts) Enqueue(al Alert) {
	if a == nil {
		return
	}
	select {
	case a.queue <- al:
	default:
		metrics.AlertsTotal.WithLabelValues(al.Kind, "dropped").Inc()
		a.logger.Warn("alerts: queue full, dropping alert", slog.String("kind", al.Kind))
	}
}

// ExecutionResult alerts on a terminal execution record.
func (a *Alerts) ExecutionResult(_ context.Context, exec domain.TradeExecution) {
	if a == nil {
		return
	}
	a.Enqueue(ExecutionAlert(exec))
}

// PositionClosed alerts on stop-loss and take-profit closes.
func (a *Alerts) PositionClosed(c domain.ClosedPosition) {
	if a == nil {
		return
	}
	var kind, title string
	switch c.Reason {
	case domain.CloseStopLoss:
		kind, title = KindStopLoss, "Stop loss hit"
	case domain.CloseTakeProfit:
		kind, title = KindTakeProfit, "Take profit hit"
	default:
		return
	}
	a.Enqueue(Alert{
		Kind:  kind,
		Title: title,
		Message: fmt.Sprintf("%s %s %s on %s\nentry %s exit %s qty %s\nP&L %s",
			c.Position.Side, c.Position.Symbol, c.Position.ID, c.Position.Venue,
			c.Position.EntryPrice, c.ExitPrice, c.Position.Quantity, signed(c.PnL)),
	})
}

// DailyLimit alerts when the daily loss limit halts trading.
func (a *Alerts) DailyLimit(reason string, dailyPnL decimal.Decimal) {
	if a == nil {
		return
	}
	a.Enqueue(Alert{
		Kind:      KindDailyLimit,
		Title:     "Trading halted",
		Message:   fmt.Sprintf("%s\ndaily P&L %s\nresumes after the daily reset", reason, signed(dailyPnL)),
		Broadcast: true,
	})
}

// CircuitOpen alerts when a breaker opens.
func (a *Alerts) CircuitOpen(name string, failures int, retryAfter time.Duration) {
	if a == nil {
		return
	}
	a.Enqueue(Alert{
		Kind:    KindCircuitOpen,
		Title:   "Circuit breaker open",
		Message: fmt.Sprintf("breaker %s opened after %d consecutive failures\nprobing again in %s", name, failures, retryAfter),
	})
}

// RegimeChange alerts on a regime transition.
func (a *Alerts) RegimeChange(from, to domain.Regime) {
	if a == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	a.Enqueue(Alert{
		Kind:    KindRegimeChange,
		Title:   "Regime change",
		Message: fmt.Sprintf("%s -> %s", from, to),
	})
}

// ExecutionAlert maps an execution record to its alert. One-leg fills go
// to every sender.
func ExecutionAlert(exec domain.TradeExecution) Alert {
	route := fmt.Sprintf("%s: buy %s @ %s, sell %s @ %s, qty %s",
		exec.Symbol, exec.BuyVenue, exec.BuyPrice, exec.SellVenue, exec.SellPrice, exec.Quantity)

	switch {
	case exec.Unbalanced:
		return Alert{
			Kind:      KindPartialExecution,
			Title:     "Partial execution, reconciliation required",
			Message:   fmt.Sprintf("%s\n%s\nexecution %s position %s", route, legSummary(exec.Legs), exec.ID, exec.PositionID),
			Broadcast: true,
		}
	case exec.Status == domain.ExecFilled || exec.Status == domain.ExecPartial:
		return Alert{
			Kind:  KindTradeFilled,
			Title: fmt.Sprintf("Trade %s (%s)", strings.ToLower(string(exec.Status)), exec.Mode),
			Message: fmt.Sprintf("%s\nfills %s / %s, fees %s\nnet P&L %s, latency %s",
				route, nullStr(exec.FillBuyPrice), nullStr(exec.FillSellPrice), exec.Fees,
				nullSigned(exec.NetPnL), exec.Latency.Total.Round(time.Millisecond)),
		}
	case exec.Status == domain.ExecFailed:
		return Alert{
			Kind:    KindExecutionFailed,
			Title:   "Execution failed",
			Message: fmt.Sprintf("%s\n%s", route, exec.ErrorMessage),
		}
	default:
		return Alert{
			Kind:    KindTradeRejected,
			Title:   "Trade rejected",
			Message: fmt.Sprintf("%s\n%s", route, exec.ErrorMessage),
		}
	}
}

func legSummary(legs []domain.ExecutionLeg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		s := fmt.Sprintf("%s %s %s", l.Side, l.Venue, l.Status)
		if l.Error != "" {
			s += ": " + l.Error
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func nullSigned(d decimal.NullDecimal) string {
	if !d.Valid {
		return "n/a"
	}
	return signed(d.Decimal)
}

func nullStr(d decimal.NullDecimal) string {
	if !d.Valid {
		return "n/a"
	}
	return d.Decimal.String()
}
