package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/macro"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

var (
	highRiskAt   = decimal.RequireFromString("0.9")
	mediumRiskAt = decimal.RequireFromString("0.5")
)

// RiskConfig holds the base risk parameters. Regime presets override the
// position cap, capital fraction, stop-loss and take-profit.
type RiskConfig struct {
	InitialBalance     decimal.Decimal
	MaxPositionCap     decimal.Decimal // in base units
	StopLossPct        decimal.Decimal
	TakeProfitPct      decimal.NullDecimal
	CapitalPctPerTrade decimal.Decimal
	MaxExposurePct     decimal.Decimal
	DailyLossLimitPct  decimal.Decimal
}

// DefaultRiskConfig returns the production defaults.
func DefaultRiskConfig() RiskConfig {
	dec := decimal.RequireFromString
	return RiskConfig{
		InitialBalance:     dec("10000"),
		MaxPositionCap:     dec("0.05"),
		StopLossPct:        dec("0.02"),
		CapitalPctPerTrade: dec("0.05"),
		MaxExposurePct:     dec("0.30"),
		DailyLossLimitPct:  dec("0.05"),
	}
}

// RiskDeps are the optional collaborators of a RiskEngine.
type RiskDeps struct {
	Regime       domain.RegimeProvider
	Calendar     domain.PauseChecker
	Accumulation domain.AccumulationFilter
	Audit        domain.AuditStore
	Journal      *Journal
	// OnHalt is called once when the daily loss limit halts trading.
	OnHalt func(reason string, dailyPnL decimal.Decimal)
}

// riskParams is the effective parameter set for one assessment.
type riskParams struct {
	regime           domain.Regime
	maxCap           decimal.Decimal
	capitalPct       decimal.Decimal
	stopLossPct      decimal.Decimal
	takeProfitPct    decimal.NullDecimal
	avoidNew         bool
	accumulationOnly bool
	maxDailyTrades   int
}

// RiskEngine sizes trades under portfolio limits and opens the resulting
// positions in the ledger. Assess calls are serialized so the exposure read
// and the position open are atomic.
type RiskEngine struct {
	cfg    RiskConfig
	ledger *PositionLedger
	deps   RiskDeps
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	balance     decimal.Decimal
	active      riskParams
	halted      bool
	haltReason  string
	tradesToday int
	approved    int64
	rejected    int64
	held        int64
}

// NewRiskEngine creates a RiskEngine.
func NewRiskEngine(cfg RiskConfig, ledger *PositionLedger, deps RiskDeps, logger *slog.Logger) *RiskEngine {
	e := &RiskEngine{
		cfg:     cfg,
		ledger:  ledger,
		deps:    deps,
		logger:  logger.With(slog.String("component", "risk_engine")),
		now:     time.Now,
		balance: cfg.InitialBalance,
	}
	e.active = e.baseParams()
	return e
}

func (e *RiskEngine) baseParams() riskParams {
	return riskParams{
		maxCap:        e.cfg.MaxPositionCap,
		capitalPct:    e.cfg.CapitalPctPerTrade,
		stopLossPct:   e.cfg.StopLossPct,
		takeProfitPct: e.cfg.TakeProfitPct,
	}
}

func paramsFor(base riskParams, rc domain.RegimeConfig) riskParams {
	p := base
	p.regime = rc.Regime
	if rc.MaxPositionCap.IsPositive() {
		p.maxCap = rc.MaxPositionCap
	}
	if rc.CapitalPctPerTrade.IsPositive() {
		p.capitalPct = rc.CapitalPctPerTrade
	}
	if rc.StopLossPct.IsPositive() {
		p.stopLossPct = rc.StopLossPct
	}
	if rc.TakeProfitPct.Valid {
		p.takeProfitPct = rc.TakeProfitPct
	}
	p.avoidNew = rc.AvoidNewPositions
	p.accumulationOnly = rc.AccumulationOnly
	p.maxDailyTrades = rc.MaxDailyTrades
	return p
}

// Assess runs the gates in order and returns the first verdict. An
// APPROVE or MODIFY opens a LONG position on the buy venue.
func (e *RiskEngine) Assess(ctx context.Context, signal domain.TradeSignal, currentPrice decimal.Decimal) domain.RiskDecision {
	// Collaborators may block on the network, so poll them before locking.
	params := e.baseParams()
	if e.deps.Regime != nil {
		rc, ok, err := e.deps.Regime.Current(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "risk_engine: regime poll failed", slog.String("error", err.Error()))
		}
		if ok {
			params = paramsFor(params, rc)
		}
	}
	var pause bool
	var pauseReason string
	if e.deps.Calendar != nil {
		pause, pauseReason = e.deps.Calendar.ShouldPause(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if params.regime != e.active.regime {
		e.logger.InfoContext(ctx, "risk_engine: regime parameters applied",
			slog.String("regime", string(params.regime)),
			slog.String("max_position", params.maxCap.String()),
			slog.String("stop_loss_pct", params.stopLossPct.String()),
		)
	}
	e.active = params

	dec := domain.RiskDecision{
		Symbol:          signal.Symbol,
		Venue:           signal.BuyVenue,
		EntryPrice:      currentPrice,
		MaxPosition:     params.maxCap,
		CurrentExposure: e.ledger.Exposure(),
		Regime:          params.regime,
		AssessedAt:      e.now().UTC(),
	}

	// Check 1: macro pause window.
	if pause {
		return e.reject(ctx, dec, "Macro event pause: "+pauseReason, domain.RiskLevelCritical)
	}

	// Check 2: accumulation zone.
	if params.accumulationOnly && signal.Symbol != "" && e.deps.Accumulation != nil {
		allowed, known := e.deps.Accumulation.ShouldAccumulate(signal.Symbol, currentPrice)
		if known && !allowed {
			return e.reject(ctx, dec, fmt.Sprintf("Price %s not in accumulation zone for %s",
				currentPrice.StringFixed(2), macro.BaseAsset(signal.Symbol)), domain.RiskLevelMedium)
		}
	}

	// Check 3: halted by daily loss or regime.
	if e.halted {
		return e.reject(ctx, dec, "Trading halted - "+e.haltReason, domain.RiskLevelCritical)
	}
	if params.avoidNew {
		return e.reject(ctx, dec, fmt.Sprintf("Trading halted - %s regime", params.regime), domain.RiskLevelCritical)
	}

	// Check 4: daily loss limit.
	dailyPnL := e.ledger.DailyPnL()
	if e.cfg.InitialBalance.IsPositive() {
		lossPct := dailyPnL.Abs().Div(e.cfg.InitialBalance)
		if lossPct.GreaterThanOrEqual(e.cfg.DailyLossLimitPct) {
			reason := fmt.Sprintf("Daily loss limit hit: %s%%", lossPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
			e.halted = true
			e.haltReason = "daily loss limit exceeded"
			metrics.TradingHalted.Set(1)
			e.logger.ErrorContext(ctx, "risk_engine: daily loss limit hit",
				slog.String("daily_pnl", dailyPnL.String()),
				slog.String("limit_pct", e.cfg.DailyLossLimitPct.String()),
			)
			e.audit("trading_halted", map[string]any{"reason": reason, "daily_pnl": dailyPnL.String()})
			if e.deps.OnHalt != nil {
				e.deps.OnHalt(reason, dailyPnL)
			}
			return e.reject(ctx, dec, reason, domain.RiskLevelCritical)
		}
	}

	// Check 5: no trade signal.
	if !signal.IsTrade() {
		dec.Decision = domain.RiskHold
		dec.Reason = "No trade signal from strategy engine"
		dec.RiskLevel = domain.RiskLevelLow
		e.held++
		metrics.RiskDecisionsTotal.WithLabelValues(string(dec.Decision), string(dec.RiskLevel)).Inc()
		return dec
	}

	// Check 6: regime daily trade budget.
	if params.maxDailyTrades > 0 && e.tradesToday >= params.maxDailyTrades {
		return e.reject(ctx, dec, fmt.Sprintf("Daily trade limit reached (%d/%d) for %s regime",
			e.tradesToday, params.maxDailyTrades, params.regime), domain.RiskLevelMedium)
	}

	if !currentPrice.IsPositive() {
		return e.reject(ctx, dec, "Invalid price: must be positive", domain.RiskLevelHigh)
	}

	// Check 7: sizing.
	allocation := e.balance.Mul(params.capitalPct)
	size := allocation.Div(currentPrice)
	action := domain.RiskApprove
	var modReason string
	if size.GreaterThan(params.maxCap) {
		size = params.maxCap
		action = domain.RiskModify
		modReason = fmt.Sprintf("Position reduced to max %s", params.maxCap.StringFixed(4))
	}

	// Check 8: exposure.
	maxExposure := e.balance.Mul(e.cfg.MaxExposurePct)
	if dec.CurrentExposure.Add(size.Mul(currentPrice)).GreaterThan(maxExposure) {
		headroom := maxExposure.Sub(dec.CurrentExposure)
		if !headroom.IsPositive() {
			return e.reject(ctx, dec, fmt.Sprintf("Max exposure limit reached: %s", dec.CurrentExposure.StringFixed(2)), domain.RiskLevelHigh)
		}
		size = headroom.Div(currentPrice)
		action = domain.RiskModify
		modReason = fmt.Sprintf("Reduced to fit exposure limit (%s available)", headroom.StringFixed(2))
	}

	// Check 9: protective levels and risk level.
	stopLoss := currentPrice.Mul(decimal.NewFromInt(1).Sub(params.stopLossPct))
	dec.StopLossPrice = decimal.NewNullDecimal(stopLoss)
	if params.takeProfitPct.Valid {
		dec.TakeProfitPrice = decimal.NewNullDecimal(currentPrice.Mul(decimal.NewFromInt(1).Add(params.takeProfitPct.Decimal)))
	}
	dec.RiskLevel = domain.RiskLevelLow
	if params.maxCap.IsPositive() {
		ratio := size.Div(params.maxCap)
		switch {
		case ratio.GreaterThanOrEqual(highRiskAt):
			dec.RiskLevel = domain.RiskLevelHigh
		case ratio.GreaterThanOrEqual(mediumRiskAt):
			dec.RiskLevel = domain.RiskLevelMedium
		}
	}
	dec.Decision = action
	dec.PositionSize = size
	dec.AllocationNotional = size.Mul(currentPrice)
	if action == domain.RiskModify {
		dec.Reason = modReason
	} else {
		dec.Reason = fmt.Sprintf("Trade approved: %s @ %s, stop-loss %s (%s%%)",
			size.StringFixed(6), currentPrice.StringFixed(2), stopLoss.StringFixed(2),
			params.stopLossPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}

	// Check 10: open the position.
	pos, err := e.ledger.Open(ctx, domain.OpenPositionRequest{
		Venue:           signal.BuyVenue,
		Symbol:          signal.Symbol,
		Side:            domain.SideLong,
		EntryPrice:      currentPrice,
		Quantity:        size,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: dec.TakeProfitPrice,
	})
	if err != nil {
		return e.reject(ctx, dec, "Position open failed: "+err.Error(), domain.RiskLevelHigh)
	}
	dec.PositionID = pos.ID

	e.approved++
	e.tradesToday++
	metrics.RiskDecisionsTotal.WithLabelValues(string(dec.Decision), string(dec.RiskLevel)).Inc()
	e.logger.InfoContext(ctx, "risk_engine: trade approved",
		slog.String("decision", string(dec.Decision)),
		slog.String("position_id", pos.ID),
		slog.String("size", size.String()),
		slog.String("price", currentPrice.String()),
		slog.String("risk_level", string(dec.RiskLevel)),
	)
	e.audit("risk_approved", decisionDetail(dec))
	return dec
}

// reject must be called with e.mu held.
func (e *RiskEngine) reject(ctx context.Context, dec domain.RiskDecision, reason string, level domain.RiskLevel) domain.RiskDecision {
	dec.Decision = domain.RiskReject
	dec.Reason = reason
	dec.RiskLevel = level
	dec.PositionSize = decimal.Zero
	dec.AllocationNotional = decimal.Zero
	dec.StopLossPrice = decimal.NullDecimal{}
	dec.TakeProfitPrice = decimal.NullDecimal{}
	e.rejected++
	metrics.RiskDecisionsTotal.WithLabelValues(string(dec.Decision), string(level)).Inc()
	e.logger.WarnContext(ctx, "risk_engine: trade rejected",
		slog.String("reason", reason),
		slog.String("risk_level", string(level)),
	)
	e.audit("risk_rejected", decisionDetail(dec))
	return dec
}

func (e *RiskEngine) audit(event string, detail map[string]any) {
	a := e.deps.Audit
	if a == nil || e.deps.Journal == nil {
		return
	}
	e.deps.Journal.Submit(event, func(ctx context.Context) error {
		return a.Log(ctx, event, detail)
	})
}

func decisionDetail(d domain.RiskDecision) map[string]any {
	return map[string]any{
		"decision":      string(d.Decision),
		"reason":        d.Reason,
		"symbol":        d.Symbol,
		"venue":         d.Venue,
		"position_size": d.PositionSize.String(),
		"price":         d.EntryPrice.String(),
		"exposure":      d.CurrentExposure.String(),
		"risk_level":    string(d.RiskLevel),
		"regime":        string(d.Regime),
		"position_id":   d.PositionID,
	}
}

// Halted reports whether the daily loss limit halted trading.
func (e *RiskEngine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// SetBalance replaces the balance used for sizing and exposure limits.
func (e *RiskEngine) SetBalance(balance decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance = balance
}

// ResetDaily clears the halted flag, the daily trade count and the
// ledger's daily P&L.
func (e *RiskEngine) ResetDaily(ctx context.Context) {
	e.mu.Lock()
	wasHalted := e.halted
	e.halted = false
	e.haltReason = ""
	e.tradesToday = 0
	e.ledger.ResetDaily()
	e.mu.Unlock()

	metrics.TradingHalted.Set(0)
	e.logger.InfoContext(ctx, "risk_engine: daily counters reset", slog.Bool("was_halted", wasHalted))
	e.audit("daily_reset", map[string]any{"was_halted": wasHalted})
}

// Stats returns the engine counters.
func (e *RiskEngine) Stats() domain.RiskStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.RiskStats{
		Approved:       e.approved,
		Rejected:       e.rejected,
		Held:           e.held,
		TradesToday:    e.tradesToday,
		Halted:         e.halted,
		HaltReason:     e.haltReason,
		Balance:        e.balance,
		InitialBalance: e.cfg.InitialBalance,
		DailyPnL:       e.ledger.DailyPnL(),
		Regime:         e.active.regime,
	}
}
