package gateway

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestAnnualizedVolatilityFlatSeries(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100}
	if vol := AnnualizedVolatility(closes); vol != 0 {
		t.Fatalf("flat series vol = %v, want 0", vol)
	}
}

func TestAnnualizedVolatilityKnownSeries(t *testing.T) {
	// Alternating +1%/-1% daily moves: daily stddev is close to 1%,
	// annualized about 0.01*sqrt(252) ~ 0.159.
	closes := []float64{100}
	for i := 0; i < 40; i++ {
		last := closes[len(closes)-1]
		if i%2 == 0 {
			closes = append(closes, last*1.01)
		} else {
			closes = append(closes, last*0.99)
		}
	}
	vol := AnnualizedVolatility(closes)
	if math.Abs(vol-0.01*math.Sqrt(252)) > 0.03 {
		t.Fatalf("vol = %v, want around %v", vol, 0.01*math.Sqrt(252))
	}
}

func TestAnnualizedVolatilityTooShort(t *testing.T) {
	if vol := AnnualizedVolatility([]float64{100, 101}); vol != 0 {
		t.Fatalf("short series vol = %v, want 0", vol)
	}
}

type stubCandles struct {
	closes []float64
	err    error
}

func (s stubCandles) DailyCloses(ctx context.Context, symbol string, lookbackDays int) ([]float64, error) {
	return s.closes, s.err
}

func TestHistoricalOracle(t *testing.T) {
	o := &HistoricalOracle{Source: stubCandles{closes: []float64{100, 102, 99, 103, 101, 104}}}
	vol, err := o.AnnualizedVolatility(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vol <= 0 {
		t.Fatalf("vol = %v, want > 0", vol)
	}
	price, err := o.LatestPrice(context.Background(), "AAPL")
	if err != nil || price != 104 {
		t.Fatalf("latest price = %v (%v), want 104", price, err)
	}
}

func TestHistoricalOracleSourceFailure(t *testing.T) {
	o := &HistoricalOracle{Source: stubCandles{err: errors.New("boom")}}
	if _, err := o.AnnualizedVolatility(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected error from failing source")
	}
}
