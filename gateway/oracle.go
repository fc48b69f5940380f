package gateway

import (
	"context"
	"fmt"
	"math"
)

// tradingDaysPerYear annualizes daily return volatility.
const tradingDaysPerYear = 252

// VolatilitySource provides a trailing annualized volatility estimate for a
// symbol. It is read-only and may fail per symbol.
type VolatilitySource interface {
	AnnualizedVolatility(ctx context.Context, symbol string) (float64, error)
}

// CandleSource returns a trailing series of daily closes for a symbol,
// oldest first.
type CandleSource interface {
	DailyCloses(ctx context.Context, symbol string, lookbackDays int) ([]float64, error)
}

// HistoricalOracle derives annualized volatility from daily close history.
type HistoricalOracle struct {
	Source       CandleSource
	LookbackDays int
}

// AnnualizedVolatility fetches the close history and returns the annualized
// standard deviation of daily returns.
func (o *HistoricalOracle) AnnualizedVolatility(ctx context.Context, symbol string) (float64, error) {
	lookback := o.LookbackDays
	if lookback <= 0 {
		lookback = 365
	}
	closes, err := o.Source.DailyCloses(ctx, symbol, lookback)
	if err != nil {
		return 0, fmt.Errorf("history for %s: %w", symbol, err)
	}
	vol := AnnualizedVolatility(closes)
	if vol == 0 {
		return 0, fmt.Errorf("not enough history for %s", symbol)
	}
	return vol, nil
}

// LatestPrice returns the most recent daily close for symbol.
func (o *HistoricalOracle) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	closes, err := o.Source.DailyCloses(ctx, symbol, 5)
	if err != nil {
		return 0, err
	}
	if len(closes) == 0 {
		return 0, fmt.Errorf("no closes for %s", symbol)
	}
	return closes[len(closes)-1], nil
}

// AnnualizedVolatility computes stddev(daily pct returns) * sqrt(252) over a
// close series. Returns 0 when the series is too short.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var varSum float64
	for _, r := range returns {
		d := r - mean
		varSum += d * d
	}
	// Sample standard deviation, matching the usual estimator for
	// historical volatility.
	sd := math.Sqrt(varSum / float64(len(returns)-1))
	return sd * math.Sqrt(tradingDaysPerYear)
}
