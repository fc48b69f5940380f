// Package balance derives per-strategy balances from the ledger and the
// broker's account valuation. Each pass appends one cash, positions and
// total row per tracked strategy, then books whatever account value is left
// unexplained into the uncategorized cash bucket.
package balance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
	"ledger-sync-go/metrics"
	"ledger-sync-go/symbols"
)

// Engine derives balances for one broker per pass.
type Engine struct {
	Store  *ledger.Store
	Logger *logger.Logger
}

// Summary reports one derivation pass.
type Summary struct {
	Strategies   int
	AccountValue float64
	// Residual is the account value not attributable to any tracked
	// strategy; it lands in the uncategorized cash row.
	Residual float64
}

type strategyBalances struct {
	strategy  string
	cash      float64
	positions float64
}

func (b strategyBalances) total() float64 { return b.cash + b.positions }

// Run derives and appends the broker's balances as of asOf. The account
// valuation is fetched first; if the broker cannot report it the pass
// writes nothing. Per-symbol quote failures fall back to the last stored
// price so one dead quote cannot zero a strategy.
func (e *Engine) Run(ctx context.Context, broker gateway.Broker, asOf time.Time) (Summary, error) {
	name := broker.Name()
	account, err := broker.GetAccountInfo(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch %s account info: %w", name, err)
	}

	strategies, err := e.Store.DistinctStrategies(ctx, name)
	if err != nil {
		return Summary{}, err
	}

	derived := make([]strategyBalances, 0, len(strategies))
	var categorized float64
	for _, strategy := range strategies {
		cash, _, err := e.Store.LatestBalance(ctx, name, strategy, ledger.BalanceCash)
		if err != nil {
			return Summary{}, err
		}
		positions, err := e.Store.PositionsByStrategy(ctx, name, strategy)
		if err != nil {
			return Summary{}, err
		}
		value := e.positionsValue(ctx, broker, positions)
		b := strategyBalances{strategy: strategy, cash: cash, positions: value}
		derived = append(derived, b)
		categorized += b.total()
	}

	residual := account.Value - categorized
	if residual < 0 {
		residual = 0
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, b := range derived {
			rows := []ledger.Balance{
				{Broker: name, Strategy: b.strategy, Type: ledger.BalanceCash, Value: b.cash, Timestamp: asOf},
				{Broker: name, Strategy: b.strategy, Type: ledger.BalancePositions, Value: b.positions, Timestamp: asOf},
				{Broker: name, Strategy: b.strategy, Type: ledger.BalanceTotal, Value: b.total(), Timestamp: asOf},
			}
			for _, row := range rows {
				if err := ledger.InsertBalance(ctx, tx, row); err != nil {
					return err
				}
			}
		}
		uncat := ledger.Balance{
			Broker: name, Strategy: ledger.Uncategorized,
			Type: ledger.BalanceCash, Value: residual, Timestamp: asOf,
		}
		if err := ledger.InsertBalance(ctx, tx, uncat); err != nil {
			return err
		}
		return ledger.UpsertAccountInfo(ctx, tx, ledger.AccountInfo{Broker: name, Value: account.Value})
	})
	if err != nil {
		return Summary{}, err
	}

	metrics.AccountValue.WithLabelValues(name).Set(account.Value)
	for _, b := range derived {
		metrics.StrategyTotal.WithLabelValues(name, b.strategy).Set(b.total())
	}
	metrics.StrategyTotal.WithLabelValues(name, ledger.Uncategorized).Set(residual)

	e.Logger.LogSync("balances_derived", map[string]interface{}{
		"broker":        name,
		"strategies":    len(derived),
		"account_value": account.Value,
		"residual":      residual,
	})
	return Summary{Strategies: len(derived), AccountValue: account.Value, Residual: residual}, nil
}

// positionsValue marks the strategy's positions to market. Option and
// futures quantities are scaled by their contract multiplier.
func (e *Engine) positionsValue(ctx context.Context, broker gateway.Broker, positions []ledger.Position) float64 {
	var total float64
	for _, pos := range positions {
		price, err := broker.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil {
			e.Logger.LogError(err, map[string]interface{}{
				"broker": pos.Broker,
				"symbol": pos.Symbol,
				"stage":  "balance_price",
			})
			price = pos.LatestPrice
		}
		total += price * pos.Quantity * symbols.Multiplier(pos.Symbol)
	}
	return total
}
