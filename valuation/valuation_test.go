package valuation

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

type fakeBroker struct {
	name      string
	prices    map[string]float64
	priceErr  map[string]error
	costBasis map[string]float64
}

func (f *fakeBroker) Name() string { return f.name }
func (f *fakeBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.priceErr[symbol]; err != nil {
		return 0, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no quote for " + symbol)
	}
	return price, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) (map[string]gateway.BrokerPosition, error) {
	return nil, nil
}
func (f *fakeBroker) GetAccountInfo(ctx context.Context) (gateway.Account, error) {
	return gateway.Account{}, nil
}
func (f *fakeBroker) GetCostBasis(ctx context.Context, symbol string) (float64, bool, error) {
	cb, ok := f.costBasis[symbol]
	return cb, ok, nil
}

type fixedVol struct {
	vol float64
	err error
}

func (f fixedVol) AnnualizedVolatility(ctx context.Context, symbol string) (float64, error) {
	return f.vol, f.err
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
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		return ledger.InsertPosition(ctx, tx, p)
	}))
}

func TestRunRefreshesEquityAndOption(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "alpha", Symbol: "AAPL",
		Quantity: 10, LatestPrice: 90, LastUpdated: now.Add(-time.Hour),
	})
	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "wheel", Symbol: "AAPL230721C00250000",
		Quantity: 2, LatestPrice: 1, LastUpdated: now.Add(-time.Hour),
	})

	broker := &fakeBroker{
		name: "tradier",
		prices: map[string]float64{
			"AAPL":                190.5,
			"AAPL230721C00250000": 3.2,
		},
	}
	eng := &Engine{
		Store:   store,
		Logger:  logger.Nop(),
		Brokers: gateway.NewService(broker),
		Oracle:  fixedVol{vol: 0.25},
	}

	res, err := eng.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 2}, res)

	// An equity underlies itself: its own price and volatility are stored.
	equity, err := store.GetPosition(ctx, "tradier", "AAPL", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 190.5, equity.LatestPrice)
	assert.Equal(t, 190.5, equity.UnderlyingLatestPrice)
	assert.Equal(t, 0.25, equity.UnderlyingVolatility)

	option, err := store.GetPosition(ctx, "tradier", "AAPL230721C00250000", "wheel")
	require.NoError(t, err)
	assert.Equal(t, 3.2, option.LatestPrice)
	assert.Equal(t, 190.5, option.UnderlyingLatestPrice)
	assert.Equal(t, 0.25, option.UnderlyingVolatility)
}

func TestRunStoresUnderlyingViewForEquities(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "alpha", Symbol: "AAPL",
		Quantity: 10, LatestPrice: 90, LastUpdated: now.Add(-time.Hour),
	})

	broker := &fakeBroker{name: "tradier", prices: map[string]float64{"AAPL": 190.5}}
	eng := &Engine{
		Store:   store,
		Logger:  logger.Nop(),
		Brokers: gateway.NewService(broker),
		Oracle:  fixedVol{vol: 0.25},
	}

	res, err := eng.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)

	pos, err := store.GetPosition(ctx, "tradier", "AAPL", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 190.5, pos.UnderlyingLatestPrice)
	assert.Equal(t, 0.25, pos.UnderlyingVolatility)
}

func TestRunIsolatesQuoteFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "alpha", Symbol: "AAPL",
		Quantity: 10, LatestPrice: 90, LastUpdated: now.Add(-time.Hour),
	})
	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "alpha", Symbol: "MSFT",
		Quantity: 5, LatestPrice: 300, LastUpdated: now.Add(-time.Hour),
	})

	broker := &fakeBroker{
		name:     "tradier",
		prices:   map[string]float64{"MSFT": 410},
		priceErr: map[string]error{"AAPL": errors.New("quote backend down")},
	}
	eng := &Engine{Store: store, Logger: logger.Nop(), Brokers: gateway.NewService(broker)}

	res, err := eng.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Skipped: 1}, res)

	aapl, err := store.GetPosition(ctx, "tradier", "AAPL", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 90.0, aapl.LatestPrice)

	msft, err := store.GetPosition(ctx, "tradier", "MSFT", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 410.0, msft.LatestPrice)
}

func TestRunDegradesToPriceOnlyWhenVolFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "wheel", Symbol: "AAPL230721C00250000",
		Quantity: 2, LatestPrice: 1,
		UnderlyingLatestPrice: 180, UnderlyingVolatility: 0.3,
		LastUpdated: now.Add(-time.Hour),
	})

	broker := &fakeBroker{
		name: "tradier",
		prices: map[string]float64{
			"AAPL":                190.5,
			"AAPL230721C00250000": 3.2,
		},
	}
	eng := &Engine{
		Store:   store,
		Logger:  logger.Nop(),
		Brokers: gateway.NewService(broker),
		Oracle:  fixedVol{err: errors.New("no history")},
	}

	_, err := eng.Run(ctx, now)
	require.NoError(t, err)

	// Price refreshed; the stored underlying view survives the vol failure.
	option, err := store.GetPosition(ctx, "tradier", "AAPL230721C00250000", "wheel")
	require.NoError(t, err)
	assert.Equal(t, 3.2, option.LatestPrice)
	assert.Equal(t, 180.0, option.UnderlyingLatestPrice)
	assert.Equal(t, 0.3, option.UnderlyingVolatility)
}

func TestRunRefreshesCostBasis(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPosition(t, store, ledger.Position{
		Broker: "tradier", Strategy: "alpha", Symbol: "AAPL",
		Quantity: 10, CostBasis: 900, LastUpdated: now.Add(-time.Hour),
	})

	broker := &fakeBroker{
		name:      "tradier",
		prices:    map[string]float64{"AAPL": 190.5},
		costBasis: map[string]float64{"AAPL": 950},
	}
	eng := &Engine{
		Store:            store,
		Logger:           logger.Nop(),
		Brokers:          gateway.NewService(broker),
		RefreshCostBasis: true,
	}

	_, err := eng.Run(ctx, now)
	require.NoError(t, err)

	pos, err := store.GetPosition(ctx, "tradier", "AAPL", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 950.0, pos.CostBasis)
}
