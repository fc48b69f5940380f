// Package reconcile merges broker-reported positions into the ledger while
// preserving user-assigned strategy tags. The merge itself is a pure
// function over both snapshots; applying the resulting diff is the only
// part that touches the store.
package reconcile

import (
	"ledger-sync-go/gateway"
	"ledger-sync-go/ledger"
)

// Policy carries the feature switches that gate the merge.
type Policy struct {
	// InsertUncategorized inserts a new uncategorized row for broker
	// positions the ledger has never seen. When off, discoveries are only
	// logged.
	InsertUncategorized bool
}

// QuantityUpdate overwrites one position's quantity.
type QuantityUpdate struct {
	Key      ledger.PositionKey
	Quantity float64
}

// Insert is a new uncategorized position; price is fetched at apply time.
type Insert struct {
	Symbol   string
	Quantity float64
}

// Diff is the explicit outcome of one reconciliation pass. Apply order is
// deletes, then updates, then inserts: inserts must observe the already
// shrunk and pruned state so stale uncategorized rows are never resurrected.
type Diff struct {
	Deletes []ledger.PositionKey
	Updates []QuantityUpdate
	Inserts []Insert
	// Discovered lists broker symbols with no ledger row when
	// InsertUncategorized is off; they are reported, not acted on.
	Discovered []string
}

// Empty reports whether the diff changes nothing.
func (d Diff) Empty() bool {
	return len(d.Deletes) == 0 && len(d.Updates) == 0 && len(d.Inserts) == 0
}

// Snapshot computes the shrink/prune/grow merge of broker positions against
// ledger positions for one broker. Quantities never go negative; the
// uncategorized bucket never reports more than the broker holds once
// categorized quantity is subtracted.
func Snapshot(brokerPositions map[string]gateway.BrokerPosition, ledgerPositions []ledger.Position, policy Policy) Diff {
	var diff Diff

	// Shrink and prune: every row whose symbol the broker no longer holds
	// is deleted, regardless of strategy. Uncategorized rows that survive
	// are clamped below so they cannot out-report the broker.
	survivors := make([]ledger.Position, 0, len(ledgerPositions))
	for _, pos := range ledgerPositions {
		if _, held := brokerPositions[pos.Symbol]; !held {
			diff.Deletes = append(diff.Deletes, pos.Key())
			continue
		}
		survivors = append(survivors, pos)
	}

	bySymbol := make(map[string][]ledger.Position, len(survivors))
	for _, pos := range survivors {
		bySymbol[pos.Symbol] = append(bySymbol[pos.Symbol], pos)
	}

	for symbol, bp := range brokerPositions {
		rows := bySymbol[symbol]
		switch {
		case len(rows) == 0:
			if policy.InsertUncategorized {
				diff.Inserts = append(diff.Inserts, Insert{Symbol: symbol, Quantity: bp.Quantity})
			} else {
				diff.Discovered = append(diff.Discovered, symbol)
			}
		case len(rows) == 1:
			// A sole row tracks broker truth exactly, whatever its strategy.
			if rows[0].Quantity != bp.Quantity {
				diff.Updates = append(diff.Updates, QuantityUpdate{Key: rows[0].Key(), Quantity: bp.Quantity})
			}
		default:
			// Symbol split across strategies: per-strategy attribution is
			// the user's, so categorized rows stay as assigned and the
			// uncategorized row absorbs broker-minus-categorized, clamped
			// at zero and never grown.
			var categorized float64
			for _, row := range rows {
				if !row.IsUncategorized() {
					categorized += row.Quantity
				}
			}
			net := bp.Quantity - categorized
			if net < 0 {
				net = 0
			}
			for _, row := range rows {
				if row.IsUncategorized() && row.Quantity > net {
					diff.Updates = append(diff.Updates, QuantityUpdate{Key: row.Key(), Quantity: net})
				}
			}
		}
	}
	return diff
}
