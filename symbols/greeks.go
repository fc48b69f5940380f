package symbols

import (
	"math"
	"time"
)

// riskFreeRate is the flat annual rate used for greeks.
const riskFreeRate = 0.04

// Greeks returns the Black-Scholes delta and theta for an option given the
// underlying spot price and annualized volatility. Non-option symbols and
// expired or degenerate inputs return (0, 0).
func Greeks(symbol string, spot, sigma float64, now time.Time) (delta, theta float64) {
	det, ok := ParseOptionDetails(symbol)
	if !ok {
		return 0, 0
	}
	T := det.Expiry.Sub(now).Hours() / 24 / 365
	if T <= 0 || spot <= 0 || sigma <= 0 || det.Strike <= 0 {
		return 0, 0
	}
	k := det.Strike
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(spot/k) + (riskFreeRate+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	switch det.Type {
	case "C":
		delta = normCDF(d1)
		theta = (-spot*normPDF(d1)*sigma/(2*sqrtT) - riskFreeRate*k*math.Exp(-riskFreeRate*T)*normCDF(d2)) / 365
	case "P":
		delta = -normCDF(-d1)
		theta = (-spot*normPDF(d1)*sigma/(2*sqrtT) + riskFreeRate*k*math.Exp(-riskFreeRate*T)*normCDF(-d2)) / 365
	}
	return delta, theta
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
