package arbitrage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

var (
	two              = decimal.NewFromInt(2)
	hundred          = decimal.NewFromInt(100)
	highConfidenceAt = decimal.RequireFromString("0.005")
)

// CostModel holds the per-leg cost assumptions used to size the threshold.
type CostModel struct {
	FeeRate         decimal.Decimal // per leg, e.g. 0.001
	SlippageRate    decimal.Decimal // per leg, e.g. 0.0005
	MinSpreadMargin decimal.Decimal // required edge on top of costs
}

// TotalCost is the round-trip cost: two fees and two slippages.
func (c CostModel) TotalCost() decimal.Decimal {
	return c.FeeRate.Mul(two).Add(c.SlippageRate.Mul(two))
}

// Threshold is the spread a pair must strictly exceed to trade.
func (c CostModel) Threshold() decimal.Decimal {
	return c.TotalCost().Add(c.MinSpreadMargin)
}

// Evaluate picks the cheapest quote to buy and the dearest to sell and
// decides whether their spread beats the cost threshold. Quotes with a
// non-positive price are ignored. Ties go to the earliest quote. Valid quotes
// for more than one symbol never trade. It has no side effects.
func Evaluate(quotes []domain.PriceQuote, cost CostModel) domain.TradeSignal {
	threshold := cost.Threshold()

	var buy, sell *domain.PriceQuote
	valid := 0
	mixed := false
	for i := range quotes {
		q := &quotes[i]
		if !q.Price.IsPositive() {
			continue
		}
		valid++
		if buy != nil && q.Symbol != buy.Symbol {
			mixed = true
		}
		if buy == nil || q.Price.LessThan(buy.Price) {
			buy = q
		}
		if sell == nil || q.Price.GreaterThan(sell.Price) {
			sell = q
		}
	}

	if valid < 2 {
		return domain.TradeSignal{
			Decision:     domain.DecisionNoTrade,
			Reason:       domain.ErrInsufficientData.Error(),
			ThresholdPct: threshold,
			Confidence:   domain.ConfidenceLow,
		}
	}
	if mixed {
		return domain.TradeSignal{
			Decision:     domain.DecisionNoTrade,
			Reason:       domain.ErrMixedSymbols.Error(),
			ThresholdPct: threshold,
			Confidence:   domain.ConfidenceLow,
		}
	}

	spread := sell.Price.Sub(buy.Price).Div(buy.Price)
	if spread.LessThanOrEqual(threshold) {
		return domain.TradeSignal{
			Decision:     domain.DecisionNoTrade,
			Reason:       fmt.Sprintf("spread %s%% does not exceed threshold %s%%", pct(spread), pct(threshold)),
			Symbol:       buy.Symbol,
			SpreadPct:    spread,
			ThresholdPct: threshold,
			Confidence:   domain.ConfidenceLow,
		}
	}

	legCost := cost.FeeRate.Add(cost.SlippageRate)
	proceeds := sell.Price.Mul(decimal.NewFromInt(1).Sub(legCost))
	outlay := buy.Price.Mul(decimal.NewFromInt(1).Add(legCost))
	expected := proceeds.Sub(outlay).Div(buy.Price)

	confidence := domain.ConfidenceMedium
	if expected.GreaterThan(highConfidenceAt) {
		confidence = domain.ConfidenceHigh
	}

	return domain.TradeSignal{
		Decision:          domain.DecisionTrade,
		Reason:            fmt.Sprintf("spread %s%% exceeds threshold %s%%", pct(spread), pct(threshold)),
		Symbol:            buy.Symbol,
		BuyVenue:          buy.Venue,
		SellVenue:         sell.Venue,
		BuyPrice:          buy.Price,
		SellPrice:         sell.Price,
		SpreadPct:         spread,
		ThresholdPct:      threshold,
		ExpectedProfitPct: expected,
		Confidence:        confidence,
	}
}

// Evaluator stamps Evaluate results with a creation time.
type Evaluator struct {
	cost CostModel
	now  func() time.Time
}

// NewEvaluator creates an Evaluator for a fixed cost model.
func NewEvaluator(cost CostModel) *Evaluator {
	return &Evaluator{cost: cost, now: time.Now}
}

// CostModel returns the configured cost model.
func (e *Evaluator) CostModel() CostModel { return e.cost }

// Evaluate runs Evaluate and sets CreatedAt.
func (e *Evaluator) Evaluate(quotes []domain.PriceQuote) domain.TradeSignal {
	sig := Evaluate(quotes, e.cost)
	sig.CreatedAt = e.now().UTC()
	if sig.Symbol == "" && len(quotes) > 0 {
		sig.Symbol = quotes[0].Symbol
	}
	return sig
}

func pct(d decimal.Decimal) string {
	return d.Mul(hundred).StringFixed(4)
}
