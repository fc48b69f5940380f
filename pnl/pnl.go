// Package pnl computes realized profit and loss at trade fill time. The
// calculator never propagates failures: a trade that cannot be priced simply
// records no P/L, and the fill itself still goes through.
package pnl

import (
	"context"
	"errors"
	"math"

	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
	"ledger-sync-go/symbols"
)

// Calculator realizes P/L against the ledger's position state.
type Calculator struct {
	Store  *ledger.Store
	Logger *logger.Logger
}

// Calculate returns the realized P/L for a trade, or ok=false when none
// applies. Buys only realize P/L when covering a short; sells realize
// against the position's average cost. Option and futures multipliers scale
// sell P/L after the base calculation.
func (c *Calculator) Calculate(ctx context.Context, trade ledger.Trade) (float64, bool) {
	if trade.ExecutedPrice == nil {
		c.Logger.LogError(errMissingExecutedPrice, map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
		})
		return 0, false
	}
	executed := *trade.ExecutedPrice

	pos, err := c.Store.GetPosition(ctx, trade.Broker, trade.Symbol, trade.Strategy)
	if err != nil {
		if err != ledger.ErrPositionNotFound {
			c.Logger.LogError(err, map[string]interface{}{
				"trade_id": trade.ID,
				"symbol":   trade.Symbol,
			})
		}
		return 0, false
	}
	if pos.Quantity == 0 {
		return 0, false
	}

	switch trade.Side {
	case ledger.SideBuy:
		if pos.Quantity >= 0 {
			// Opening or adding long: nothing realized.
			return 0, false
		}
		costPerUnit := math.Abs(pos.CostBasis) / math.Abs(pos.Quantity)
		return (costPerUnit - executed) * math.Abs(trade.Quantity), true
	case ledger.SideSell:
		var pl float64
		if trade.Quantity == pos.Quantity {
			pl = executed*trade.Quantity - pos.CostBasis
		} else {
			costPerUnit := pos.CostBasis / pos.Quantity
			pl = (executed - costPerUnit) * trade.Quantity
		}
		return pl * symbols.Multiplier(trade.Symbol), true
	default:
		return 0, false
	}
}

// MarkFilled transitions the trade to filled at executedPrice, computing and
// persisting realized P/L in the same step. The open-to-filled transition
// happens at most once; P/L is never rewritten afterwards.
func (c *Calculator) MarkFilled(ctx context.Context, tradeID int64, executedPrice float64) error {
	trade, err := c.Store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	trade.ExecutedPrice = &executedPrice
	var plPtr *float64
	if pl, ok := c.Calculate(ctx, trade); ok {
		plPtr = &pl
	}
	return c.Store.SetTradeFilled(ctx, tradeID, executedPrice, plPtr)
}

// MarkCancelled transitions the trade to cancelled.
func (c *Calculator) MarkCancelled(ctx context.Context, tradeID int64) error {
	return c.Store.SetTradeCancelled(ctx, tradeID)
}

var errMissingExecutedPrice = errors.New("trade has no executed price")
