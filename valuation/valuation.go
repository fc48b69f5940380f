// Package valuation refreshes the market view of every ledger position:
// latest price plus the underlying's price and trailing volatility, where
// an option's underlying is its stock and anything else underlies itself.
// Failures are isolated per position; one dead quote never blocks the rest
// of the book.
package valuation

import (
	"context"
	"database/sql"
	"time"

	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
	"ledger-sync-go/metrics"
	"ledger-sync-go/symbols"
)

// Engine revalues positions across all registered brokers in one pass.
type Engine struct {
	Store   *ledger.Store
	Logger  *logger.Logger
	Brokers *gateway.Service
	Oracle  gateway.VolatilitySource
	// RefreshCostBasis also pulls the broker's cost basis for each symbol.
	RefreshCostBasis bool
}

// Result counts one valuation pass.
type Result struct {
	Updated int
	Skipped int
}

type costBasisUpdate struct {
	id        int64
	costBasis float64
}

// Run refreshes every position in the ledger as of asOf. All successful
// updates commit together in one transaction.
func (e *Engine) Run(ctx context.Context, asOf time.Time) (Result, error) {
	positions, err := e.Store.AllPositions(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	updates := make([]ledger.ValuationUpdate, 0, len(positions))
	var costUpdates []costBasisUpdate
	perBroker := map[string]int{}
	for _, pos := range positions {
		perBroker[pos.Broker]++
		broker, err := e.Brokers.Broker(pos.Broker)
		if err != nil {
			e.logSkip(err, pos)
			res.Skipped++
			continue
		}
		upd, err := e.revalue(ctx, broker, pos, asOf)
		if err != nil {
			e.logSkip(err, pos)
			res.Skipped++
			continue
		}
		updates = append(updates, upd)
		if e.RefreshCostBasis {
			if cb, ok, err := broker.GetCostBasis(ctx, pos.Symbol); err != nil {
				e.logSkip(err, pos)
			} else if ok {
				costUpdates = append(costUpdates, costBasisUpdate{id: pos.ID, costBasis: cb})
			}
		}
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, upd := range updates {
			if err := ledger.ApplyValuation(ctx, tx, upd); err != nil {
				return err
			}
		}
		for _, cu := range costUpdates {
			if err := ledger.UpdateCostBasis(ctx, tx, cu.id, cu.costBasis); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Updated = len(updates)

	for broker, n := range perBroker {
		metrics.PositionsTracked.WithLabelValues(broker).Set(float64(n))
	}
	e.Logger.LogSync("valuation_applied", map[string]interface{}{
		"updated": res.Updated,
		"skipped": res.Skipped,
	})
	return res, nil
}

// revalue builds the refresh for one position. The underlying of an option
// is its stock; everything else is its own underlying. A failed position
// quote skips the whole position; a failed underlying quote or volatility
// estimate degrades to a price-only update that leaves the stored underlying
// view untouched.
func (e *Engine) revalue(ctx context.Context, broker gateway.Broker, pos ledger.Position, asOf time.Time) (ledger.ValuationUpdate, error) {
	price, err := broker.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil {
		return ledger.ValuationUpdate{}, err
	}
	upd := ledger.ValuationUpdate{ID: pos.ID, LatestPrice: price, AsOf: asOf}

	underlying := symbols.ExtractUnderlying(pos.Symbol)
	underPrice := price
	if underlying != pos.Symbol {
		underPrice, err = broker.GetCurrentPrice(ctx, underlying)
		if err != nil {
			e.logSkip(err, pos)
			return upd, nil
		}
	}
	vol := 0.0
	if e.Oracle != nil {
		vol, err = e.Oracle.AnnualizedVolatility(ctx, underlying)
		if err != nil {
			// Keep the last stored volatility rather than writing zero.
			e.logSkip(err, pos)
			return upd, nil
		}
	}
	upd.HasUnderlying = true
	upd.UnderlyingLatestPrice = underPrice
	upd.UnderlyingVolatility = vol
	return upd, nil
}

func (e *Engine) logSkip(err error, pos ledger.Position) {
	e.Logger.LogError(err, map[string]interface{}{
		"broker": pos.Broker,
		"symbol": pos.Symbol,
		"stage":  "valuation",
	})
}
