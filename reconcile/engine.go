package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
	"ledger-sync-go/metrics"
)

// Engine runs one reconciliation pass per broker: fetch both snapshots,
// compute the diff, apply it in a single transaction.
type Engine struct {
	Store  *ledger.Store
	Logger *logger.Logger
	Policy Policy
}

// Result summarizes one applied pass.
type Result struct {
	Deleted  int
	Updated  int
	Inserted int
}

// Run reconciles one broker's positions into the ledger. Broker fetch
// failures abort the pass before anything is written; per-insert price
// failures skip that insert and leave it for the next iteration.
func (e *Engine) Run(ctx context.Context, broker gateway.Broker, asOf time.Time) (Result, error) {
	name := broker.Name()
	brokerPositions, err := broker.GetPositions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s positions: %w", name, err)
	}
	ledgerPositions, err := e.Store.PositionsByBroker(ctx, name)
	if err != nil {
		return Result{}, err
	}

	diff := Snapshot(brokerPositions, ledgerPositions, e.Policy)
	for _, symbol := range diff.Discovered {
		e.Logger.LogReconcile("position_discovered", name, map[string]interface{}{
			"symbol": symbol,
		})
	}
	if diff.Empty() {
		return Result{}, nil
	}

	// Price inserts before opening the transaction: quote fetches go over
	// the network and must not hold the write lock.
	type pricedInsert struct {
		Insert
		price float64
	}
	priced := make([]pricedInsert, 0, len(diff.Inserts))
	for _, ins := range diff.Inserts {
		price, err := broker.GetCurrentPrice(ctx, ins.Symbol)
		if err != nil {
			e.Logger.LogError(err, map[string]interface{}{
				"broker": name,
				"symbol": ins.Symbol,
				"stage":  "reconcile_insert_price",
			})
			continue
		}
		priced = append(priced, pricedInsert{Insert: ins, price: price})
	}

	// Deletes are always symbol-driven (the broker no longer holds the
	// symbol), so they collapse into one statement per pass.
	staleSymbols := make([]string, 0, len(diff.Deletes))
	seen := make(map[string]bool, len(diff.Deletes))
	for _, key := range diff.Deletes {
		if !seen[key.Symbol] {
			seen[key.Symbol] = true
			staleSymbols = append(staleSymbols, key.Symbol)
		}
	}

	var res Result
	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ledger.DeletePositionsBySymbols(ctx, tx, name, staleSymbols); err != nil {
			return err
		}
		res.Deleted = len(diff.Deletes)
		for _, upd := range diff.Updates {
			if err := ledger.UpdatePositionQuantity(ctx, tx, upd.Key, upd.Quantity, asOf); err != nil {
				return err
			}
			res.Updated++
		}
		for _, ins := range priced {
			pos := ledger.Position{
				Broker:      name,
				Strategy:    ledger.Uncategorized,
				Symbol:      ins.Symbol,
				Quantity:    ins.Quantity,
				LatestPrice: ins.price,
				LastUpdated: asOf,
			}
			if err := ledger.InsertPosition(ctx, tx, pos); err != nil {
				return err
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.ReconcileChanges.WithLabelValues(name, "delete").Add(float64(res.Deleted))
	metrics.ReconcileChanges.WithLabelValues(name, "update").Add(float64(res.Updated))
	metrics.ReconcileChanges.WithLabelValues(name, "insert").Add(float64(res.Inserted))
	e.Logger.LogReconcile("reconcile_applied", name, map[string]interface{}{
		"deleted":  res.Deleted,
		"updated":  res.Updated,
		"inserted": res.Inserted,
	})
	return res, nil
}
