package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_signals_total",
		Help: "Spread evaluations by decision.",
	}, []string{"decision"})

	SpreadPct = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spreadbot_spread_pct",
		Help: "Last observed cross-venue spread as a fraction of the buy price.",
	}, []string{"symbol"})

	RiskDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_risk_decisions_total",
		Help: "Risk assessments by decision and risk level.",
	}, []string{"decision", "level"})

	TradingHalted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spreadbot_trading_halted",
		Help: "1 when the daily loss limit halted trading.",
	})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_executions_total",
		Help: "Terminal trade executions by mode and status.",
	}, []string{"mode", "status"})

	ExecutionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spreadbot_execution_latency_seconds",
		Help:    "Total signal-to-fill latency.",
		Buckets: prometheus.DefBuckets,
	})

	CircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spreadbot_circuit_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"breaker"})

	OpenExposure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spreadbot_open_exposure",
		Help: "Notional of all open positions.",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spreadbot_open_positions",
		Help: "Number of open positions.",
	})

	DailyPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spreadbot_daily_pnl",
		Help: "Realized P&L since the last daily reset.",
	})

	PositionTriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_position_closes_total",
		Help: "Position closes by reason.",
	}, []string{"reason"})

	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_alerts_total",
		Help: "Alerts by kind and delivery result.",
	}, []string{"kind", "result"})

	VenueRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_venue_requests_total",
		Help: "Venue order requests by venue and outcome.",
	}, []string{"venue", "outcome"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_http_requests_total",
		Help: "API requests by method and status code.",
	}, []string{"method", "code"})

	CycleErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadbot_cycle_errors_total",
		Help: "Trading loop errors by stage.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		SpreadPct,
		RiskDecisionsTotal,
		TradingHalted,
		ExecutionsTotal,
		ExecutionLatency,
		CircuitState,
		OpenExposure,
		OpenPositions,
		DailyPnL,
		PositionTriggersTotal,
		AlertsTotal,
		VenueRequestsTotal,
		CycleErrorsTotal,
		HTTPRequestsTotal,
	)
}
