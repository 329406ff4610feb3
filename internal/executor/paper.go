package executor

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// paperFiller simulates fills from a seeded source so runs are
// reproducible. Slippage always works against us: the buy fills higher and
// the sell fills lower by the same sampled fraction.
type paperFiller struct {
	feeRate     decimal.Decimal
	maxSlippage decimal.Decimal
	minLatency  time.Duration
	maxLatency  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newPaperFiller(cfg Config) *paperFiller {
	return &paperFiller{
		feeRate:     cfg.FeeRate,
		maxSlippage: cfg.PaperSlippage,
		minLatency:  cfg.PaperLatencyMin,
		maxLatency:  cfg.PaperLatencyMax,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// fill returns both legs and the simulated venue latency. It never sleeps.
func (p *paperFiller) fill(exec domain.TradeExecution) (buy, sell domain.ExecutionLeg, latency time.Duration) {
	p.mu.Lock()
	u := p.rng.Float64()*2 - 1
	l := p.rng.Float64()
	p.mu.Unlock()

	slip := p.maxSlippage.Mul(decimal.NewFromFloat(math.Abs(u)))
	one := decimal.NewFromInt(1)
	buyPrice := exec.BuyPrice.Mul(one.Add(slip))
	sellPrice := exec.SellPrice.Mul(one.Sub(slip))

	if p.maxLatency > p.minLatency {
		latency = p.minLatency + time.Duration(l*float64(p.maxLatency-p.minLatency))
	} else {
		latency = p.minLatency
	}

	buy = domain.ExecutionLeg{
		Side:          domain.OrderSideBuy,
		Venue:         exec.BuyVenue,
		OrderID:       "PAPER_BUY_" + exec.ID,
		ExpectedPrice: exec.BuyPrice,
		FilledPrice:   buyPrice,
		Quantity:      exec.Quantity,
		Fee:           buyPrice.Mul(exec.Quantity).Mul(p.feeRate),
		Status:        domain.LegFilled,
	}
	sell = domain.ExecutionLeg{
		Side:          domain.OrderSideSell,
		Venue:         exec.SellVenue,
		OrderID:       "PAPER_SELL_" + exec.ID,
		ExpectedPrice: exec.SellPrice,
		FilledPrice:   sellPrice,
		Quantity:      exec.Quantity,
		Fee:           sellPrice.Mul(exec.Quantity).Mul(p.feeRate),
		Status:        domain.LegFilled,
	}
	return buy, sell, latency
}
