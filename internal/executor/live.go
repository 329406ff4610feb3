package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// placeLegs sends the buy order, then the sell order. The sell leg is
// skipped when the buy leg fails. Each order is retried per the policy
// under a client order id that stays stable across attempts.
func (c *Coordinator) placeLegs(ctx context.Context, exec domain.TradeExecution) (buy, sell domain.ExecutionLeg, err error) {
	buy, err = c.placeLeg(ctx, exec, domain.OrderSideBuy, exec.BuyVenue, exec.BuyPrice)
	if err != nil {
		sell = domain.ExecutionLeg{
			Side:          domain.OrderSideSell,
			Venue:         exec.SellVenue,
			ExpectedPrice: exec.SellPrice,
			Quantity:      exec.Quantity,
			Status:        domain.LegSkipped,
		}
		return buy, sell, err
	}
	sell, err = c.placeLeg(ctx, exec, domain.OrderSideSell, exec.SellVenue, exec.SellPrice)
	return buy, sell, err
}

func (c *Coordinator) placeLeg(ctx context.Context, exec domain.TradeExecution, side domain.OrderSide, venue string, price decimal.Decimal) (domain.ExecutionLeg, error) {
	leg := domain.ExecutionLeg{
		Side:          side,
		Venue:         venue,
		ExpectedPrice: price,
		Quantity:      exec.Quantity,
		Status:        domain.LegFailed,
	}
	conn, ok := c.connectors[venue]
	if !ok {
		err := fmt.Errorf("executor: %w: %s", domain.ErrNoConnector, venue)
		leg.Error = err.Error()
		return leg, err
	}

	req := domain.OrderRequest{
		ClientOrderID: exec.IdempotencyKey + "-" + strings.ToLower(string(side)),
		Venue:         venue,
		Symbol:        exec.Symbol,
		Side:          side,
		Quantity:      exec.Quantity,
		LimitPrice:    price,
	}
	var fill domain.OrderFill
	err := c.retrier.Do(ctx, "place_order:"+venue, func(ctx context.Context) error {
		f, err := conn.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		fill = f
		return nil
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "executor: order leg failed",
			slog.String("execution_id", exec.ID),
			slog.String("venue", venue),
			slog.String("side", string(side)),
			slog.String("error", err.Error()),
		)
		leg.Error = err.Error()
		return leg, err
	}

	leg.OrderID = fill.OrderID
	leg.FilledPrice = fill.FilledPrice
	if !leg.FilledPrice.IsPositive() {
		leg.FilledPrice = price
	}
	if fill.FilledQty.IsPositive() {
		leg.Quantity = fill.FilledQty
	}
	leg.Fee = fill.Fee
	if !fill.Fee.IsPositive() {
		leg.Fee = leg.FilledPrice.Mul(leg.Quantity).Mul(c.cfg.FeeRate)
	}
	leg.Status = domain.LegFilled
	return leg, nil
}
