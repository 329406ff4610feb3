package handler

import (
	"net/http"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/resilience"
)

// RiskReporter exposes the risk engine counters.
type RiskReporter interface {
	Stats() domain.RiskStats
}

// PortfolioReporter exposes the ledger summary.
type PortfolioReporter interface {
	Summary() domain.PortfolioSummary
}

// ExecutionReporter exposes the coordinator counters and history.
type ExecutionReporter interface {
	Stats() domain.ExecutionStats
	Recent(limit int) []domain.TradeExecution
	Mode() domain.ExecMode
}

// BreakerReporter exposes the circuit breaker state.
type BreakerReporter interface {
	Snapshot() resilience.BreakerState
}

// StatsHandler serves the aggregated runtime statistics.
type StatsHandler struct {
	risk       RiskReporter
	portfolio  PortfolioReporter
	executions ExecutionReporter
	breaker    BreakerReporter
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(risk RiskReporter, portfolio PortfolioReporter, executions ExecutionReporter, breaker BreakerReporter) *StatsHandler {
	return &StatsHandler{risk: risk, portfolio: portfolio, executions: executions, breaker: breaker}
}

type statsResponse struct {
	Mode       domain.ExecMode         `json:"mode"`
	Risk       domain.RiskStats        `json:"risk"`
	Portfolio  domain.PortfolioSummary `json:"portfolio"`
	Executions domain.ExecutionStats   `json:"executions"`
	Breaker    resilience.BreakerState `json:"circuit_breaker"`
}

// GetStats returns risk, ledger, execution and breaker state in one body.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Mode:       h.executions.Mode(),
		Risk:       h.risk.Stats(),
		Portfolio:  h.portfolio.Summary(),
		Executions: h.executions.Stats(),
		Breaker:    h.breaker.Snapshot(),
	})
}

// ListExecutions returns the most recent executions, newest first.
// GET /api/executions?limit=50
func (h *StatsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	execs := h.executions.Recent(parseLimit(r))
	if execs == nil {
		execs = []domain.TradeExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}
