// Package symbols classifies instrument symbols (equity tickers, OCC option
// symbols, futures contracts) and exposes the contract multipliers used when
// valuing positions and realizing P/L.
package symbols

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OptionMultiplier is the fixed share multiplier for US equity options.
const OptionMultiplier = 100

var (
	tickerRe  = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)
	optionRe  = regexp.MustCompile(`^[A-Z]{1,5}\d{6}[CP]\d{8}$`)
	futuresRe = regexp.MustCompile(`^\./[A-Z0-9]+(\s+[A-Z0-9]+)*$`)
	leadingRe = regexp.MustCompile(`^[A-Z]+`)
	detailRe  = regexp.MustCompile(`^([A-Z]+)(\d{2})(\d{2})(\d{2})([CP])(\d{8})$`)
)

// IsTicker reports whether symbol looks like a plain stock ticker.
func IsTicker(symbol string) bool {
	return tickerRe.MatchString(symbol)
}

// IsOption reports whether symbol is an OCC-style option symbol,
// e.g. AAPL230721C00250000.
func IsOption(symbol string) bool {
	return optionRe.MatchString(symbol)
}

// IsFuturesSymbol reports whether symbol is a futures (option) symbol.
// Futures symbols start with "./" followed by alphanumeric groups.
func IsFuturesSymbol(symbol string) bool {
	return futuresRe.MatchString(symbol)
}

// ExtractUnderlying returns the underlying symbol for an option, or the
// symbol itself for anything that is not an option.
func ExtractUnderlying(symbol string) string {
	if !IsOption(symbol) {
		return symbol
	}
	return leadingRe.FindString(symbol)
}

// OptionDetails holds the parsed fields of an OCC option symbol.
type OptionDetails struct {
	Underlying string
	Expiry     time.Time
	// Type is "C" or "P".
	Type   string
	Strike float64
}

// ParseOptionDetails decodes an OCC option symbol. ok is false when the
// symbol does not parse.
func ParseOptionDetails(symbol string) (OptionDetails, bool) {
	m := detailRe.FindStringSubmatch(symbol)
	if m == nil {
		return OptionDetails{}, false
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	strikeRaw, _ := strconv.Atoi(m[6])
	return OptionDetails{
		Underlying: m[1],
		Expiry:     time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		Type:       m[5],
		Strike:     float64(strikeRaw) / 1000,
	}, true
}

// futuresContractSizes maps contract root prefixes to their contract size.
// TODO: load these from the broker's instrument metadata instead of a table.
var futuresContractSizes = map[string]int{
	"./ESU4":  50,
	"./NQU4":  20,
	"./MESU4": 5,
	"./MNQU4": 2,
	"./RTYU4": 50,
	"./M2KU4": 10,
	"./YMU4":  5,
	"./MYMU4": 2,
	"./ZBU4":  1000,
	"./ZNU4":  1000,
	"./ZTU4":  2000,
	"./ZFU4":  1000,
	"./ZCU4":  50,
	"./ZSU4":  50,
	"./ZWU4":  50,
	"./ZLU4":  50,
	"./ZMU4":  50,
	"./ZRU4":  50,
	"./ZKU4":  50,
	"./ZOU4":  50,
	"./ZVU4":  1000,
	"./HEU4":  40000, // lean hogs
	"./LEU4":  40000, // live cattle
	"./CLU4":  1000,  // crude oil
	"./GCU4":  100,   // gold
	"./SIU4":  5000,  // silver
	"./6EU4":  125000,
}

// ContractSize returns the declared contract size for a futures symbol.
// Unknown contracts fall back to 1 so a bad symbol never zeroes a balance.
func ContractSize(symbol string) int {
	for prefix, size := range futuresContractSizes {
		if strings.HasPrefix(symbol, prefix) {
			return size
		}
	}
	return 1
}

// Multiplier returns the per-unit value multiplier for any symbol: 100 for
// options, the contract size for futures, 1 for everything else.
func Multiplier(symbol string) float64 {
	switch {
	case IsOption(symbol):
		return OptionMultiplier
	case IsFuturesSymbol(symbol):
		return float64(ContractSize(symbol))
	default:
		return 1
	}
}
