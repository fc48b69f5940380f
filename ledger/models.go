// Package ledger is the persisted record of positions, balances and trades
// that the sync engines reconcile toward. Balances are an append-only time
// series; "current" state is the most recent row per (broker, strategy, type).
package ledger

import (
	"errors"
	"time"
)

// Uncategorized is the sentinel strategy for broker-held quantity that has
// not been assigned to a tracked strategy. It is a catch-all bucket, not a
// real strategy.
const Uncategorized = "uncategorized"

// Balance types.
const (
	BalanceCash      = "cash"
	BalancePositions = "positions"
	BalanceTotal     = "total"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade statuses.
const (
	TradeOpen      = "open"
	TradeFilled    = "filled"
	TradeCancelled = "cancelled"
)

var (
	ErrTradeNotFound    = errors.New("trade not found")
	ErrPositionNotFound = errors.New("position not found")
)

// Position is one holding, keyed by (broker, symbol, strategy). Quantity is
// signed; negative means short.
type Position struct {
	ID                    int64
	Broker                string
	Strategy              string
	Symbol                string
	Quantity              float64
	LatestPrice           float64
	CostBasis             float64
	UnderlyingLatestPrice float64
	UnderlyingVolatility  float64
	LastUpdated           time.Time
}

// Key returns the unique (broker, symbol, strategy) key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Broker: p.Broker, Symbol: p.Symbol, Strategy: p.Strategy}
}

// IsUncategorized reports whether the position sits in the catch-all bucket.
func (p Position) IsUncategorized() bool {
	return p.Strategy == Uncategorized
}

// PositionKey identifies a position row.
type PositionKey struct {
	Broker   string
	Symbol   string
	Strategy string
}

// Balance is one append-only balance observation.
type Balance struct {
	ID        int64
	Broker    string
	Strategy  string
	Type      string
	Value     float64
	Timestamp time.Time
}

// BalanceSnapshot is the derived "current" view for one strategy: the latest
// cash/positions/total rows, with missing rows reading as zero. Total falls
// back to Cash+Positions when no total row exists yet (the uncategorized
// bucket only ever records cash).
type BalanceSnapshot struct {
	Broker    string
	Strategy  string
	Cash      float64
	Positions float64
	Total     float64
	AsOf      time.Time
}

// Trade is one order lifecycle record. ExecutedPrice and ProfitLoss are nil
// until known; ProfitLoss is written exactly once at fill time.
type Trade struct {
	ID            int64
	Broker        string
	Strategy      string
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	ExecutedPrice *float64
	OrderType     string
	Status        string
	ProfitLoss    *float64
	Timestamp     time.Time
}

// AccountInfo mirrors the broker's own account valuation, one row per broker.
type AccountInfo struct {
	Broker string
	Value  float64
}
