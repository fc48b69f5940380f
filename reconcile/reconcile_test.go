package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-sync-go/gateway"
	"ledger-sync-go/infrastructure/logger"
	"ledger-sync-go/ledger"
)

func pos(broker, strategy, symbol string, qty float64) ledger.Position {
	return ledger.Position{Broker: broker, Strategy: strategy, Symbol: symbol, Quantity: qty}
}

func TestSnapshotClampsUncategorized(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"AAPL": {Symbol: "AAPL", Quantity: 100},
	}
	rows := []ledger.Position{
		pos("tradier", "alpha", "AAPL", 60),
		pos("tradier", ledger.Uncategorized, "AAPL", 50),
	}
	diff := Snapshot(brokerPositions, rows, Policy{})
	require.Len(t, diff.Updates, 1)
	assert.Equal(t, ledger.Uncategorized, diff.Updates[0].Key.Strategy)
	assert.Equal(t, 40.0, diff.Updates[0].Quantity)
	assert.Empty(t, diff.Deletes)
}

func TestSnapshotClampFloorsAtZero(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"AAPL": {Symbol: "AAPL", Quantity: 100},
	}
	rows := []ledger.Position{
		pos("tradier", "alpha", "AAPL", 80),
		pos("tradier", "beta", "AAPL", 40),
		pos("tradier", ledger.Uncategorized, "AAPL", 10),
	}
	diff := Snapshot(brokerPositions, rows, Policy{})
	require.Len(t, diff.Updates, 1)
	assert.Equal(t, 0.0, diff.Updates[0].Quantity)
}

func TestSnapshotNeverGrowsUncategorized(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"AAPL": {Symbol: "AAPL", Quantity: 100},
	}
	rows := []ledger.Position{
		pos("tradier", "alpha", "AAPL", 20),
		pos("tradier", ledger.Uncategorized, "AAPL", 30),
	}
	// Headroom is 80 but the bucket holds 30; nothing to do.
	diff := Snapshot(brokerPositions, rows, Policy{})
	assert.True(t, diff.Empty())
}

func TestSnapshotDeletesVanishedSymbols(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{}
	rows := []ledger.Position{
		pos("tradier", ledger.Uncategorized, "AAPL", 50),
		pos("tradier", "alpha", "MSFT", 10),
	}
	diff := Snapshot(brokerPositions, rows, Policy{})
	require.Len(t, diff.Deletes, 2)
	assert.Empty(t, diff.Updates)
}

func TestSnapshotSoleRowTracksBroker(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"AAPL": {Symbol: "AAPL", Quantity: 120},
	}
	rows := []ledger.Position{pos("tradier", "alpha", "AAPL", 100)}
	diff := Snapshot(brokerPositions, rows, Policy{})
	require.Len(t, diff.Updates, 1)
	assert.Equal(t, "alpha", diff.Updates[0].Key.Strategy)
	assert.Equal(t, 120.0, diff.Updates[0].Quantity)
}

func TestSnapshotUnchangedIsEmpty(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"AAPL": {Symbol: "AAPL", Quantity: 100},
	}
	rows := []ledger.Position{pos("tradier", "alpha", "AAPL", 100)}
	diff := Snapshot(brokerPositions, rows, Policy{})
	assert.True(t, diff.Empty())
}

func TestSnapshotInsertGate(t *testing.T) {
	brokerPositions := map[string]gateway.BrokerPosition{
		"TSLA": {Symbol: "TSLA", Quantity: 10},
	}
	diff := Snapshot(brokerPositions, nil, Policy{InsertUncategorized: true})
	require.Len(t, diff.Inserts, 1)
	assert.Equal(t, "TSLA", diff.Inserts[0].Symbol)
	assert.Equal(t, 10.0, diff.Inserts[0].Quantity)

	diff = Snapshot(brokerPositions, nil, Policy{})
	assert.Empty(t, diff.Inserts)
	assert.Equal(t, []string{"TSLA"}, diff.Discovered)
}

type fakeBroker struct {
	name      string
	positions map[string]gateway.BrokerPosition
	prices    map[string]float64
	priceErr  error
}

func (f *fakeBroker) Name() string { return f.name }
func (f *fakeBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[symbol], nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) (map[string]gateway.BrokerPosition, error) {
	return f.positions, nil
}
func (f *fakeBroker) GetAccountInfo(ctx context.Context) (gateway.Account, error) {
	return gateway.Account{}, nil
}
func (f *fakeBroker) GetCostBasis(ctx context.Context, symbol string) (float64, bool, error) {
	return 0, false, nil
}

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPosition(t *testing.T, store *ledger.Store, p ledger.Position) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return ledger.InsertPosition(ctx, tx, p)
	})
	require.NoError(t, err)
}

func TestEngineAppliesDiff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, pos("tradier", "alpha", "AAPL", 60))
	seedPosition(t, store, pos("tradier", ledger.Uncategorized, "AAPL", 50))
	seedPosition(t, store, pos("tradier", ledger.Uncategorized, "GONE", 5))

	broker := &fakeBroker{
		name: "tradier",
		positions: map[string]gateway.BrokerPosition{
			"AAPL": {Symbol: "AAPL", Quantity: 100},
			"TSLA": {Symbol: "TSLA", Quantity: 10},
		},
		prices: map[string]float64{"TSLA": 250},
	}
	eng := &Engine{Store: store, Logger: logger.Nop(), Policy: Policy{InsertUncategorized: true}}

	res, err := eng.Run(ctx, broker, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 1, Updated: 1, Inserted: 1}, res)

	uncat, err := store.GetPosition(ctx, "tradier", "AAPL", ledger.Uncategorized)
	require.NoError(t, err)
	assert.Equal(t, 40.0, uncat.Quantity)

	alpha, err := store.GetPosition(ctx, "tradier", "AAPL", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 60.0, alpha.Quantity)

	_, err = store.GetPosition(ctx, "tradier", "GONE", ledger.Uncategorized)
	assert.ErrorIs(t, err, ledger.ErrPositionNotFound)

	tsla, err := store.GetPosition(ctx, "tradier", "TSLA", ledger.Uncategorized)
	require.NoError(t, err)
	assert.Equal(t, 10.0, tsla.Quantity)
	assert.Equal(t, 250.0, tsla.LatestPrice)

	// Second pass against the same broker state is a no-op.
	res, err = eng.Run(ctx, broker, now)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestEngineSkipsInsertOnPriceFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	broker := &fakeBroker{
		name: "tradier",
		positions: map[string]gateway.BrokerPosition{
			"TSLA": {Symbol: "TSLA", Quantity: 10},
		},
		priceErr: errors.New("quote backend down"),
	}
	eng := &Engine{Store: store, Logger: logger.Nop(), Policy: Policy{InsertUncategorized: true}}

	res, err := eng.Run(ctx, broker, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	_, err = store.GetPosition(ctx, "tradier", "TSLA", ledger.Uncategorized)
	assert.ErrorIs(t, err, ledger.ErrPositionNotFound)
}
