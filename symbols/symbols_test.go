package symbols

import (
	"testing"
	"time"
)

func TestIsOption(t *testing.T) {
	cases := []struct {
		symbol string
		want   bool
	}{
		{"AAPL230721C00250000", true},
		{"QQQ240119P00400000", true},
		{"AAPL", false},
		{"./ESU4", false},
		{"AAPL230721X00250000", false},
	}
	for _, c := range cases {
		if got := IsOption(c.symbol); got != c.want {
			t.Fatalf("IsOption(%q) = %v, want %v", c.symbol, got, c.want)
		}
	}
}

func TestIsFuturesSymbol(t *testing.T) {
	if !IsFuturesSymbol("./ESU4") {
		t.Fatalf("expected ./ESU4 to be a futures symbol")
	}
	if IsFuturesSymbol("ESU4") || IsFuturesSymbol("AAPL") {
		t.Fatalf("plain symbols must not classify as futures")
	}
}

func TestExtractUnderlying(t *testing.T) {
	if got := ExtractUnderlying("AAPL230721C00250000"); got != "AAPL" {
		t.Fatalf("underlying = %q, want AAPL", got)
	}
	// Non-options are their own underlying.
	if got := ExtractUnderlying("MSFT"); got != "MSFT" {
		t.Fatalf("underlying = %q, want MSFT", got)
	}
	if got := ExtractUnderlying("./ESU4"); got != "./ESU4" {
		t.Fatalf("underlying = %q, want ./ESU4", got)
	}
}

func TestParseOptionDetails(t *testing.T) {
	det, ok := ParseOptionDetails("AAPL230721C00250000")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if det.Underlying != "AAPL" || det.Type != "C" {
		t.Fatalf("unexpected details: %+v", det)
	}
	if det.Strike != 250 {
		t.Fatalf("strike = %v, want 250", det.Strike)
	}
	want := time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)
	if !det.Expiry.Equal(want) {
		t.Fatalf("expiry = %v, want %v", det.Expiry, want)
	}
	if _, ok := ParseOptionDetails("not-an-option"); ok {
		t.Fatalf("expected parse failure")
	}
}

func TestContractSize(t *testing.T) {
	if got := ContractSize("./ESU4"); got != 50 {
		t.Fatalf("ES contract size = %d, want 50", got)
	}
	if got := ContractSize("./GCU4"); got != 100 {
		t.Fatalf("GC contract size = %d, want 100", got)
	}
	if got := ContractSize("./UNKNOWN"); got != 1 {
		t.Fatalf("unknown contract size = %d, want 1", got)
	}
}

func TestGreeksCallDelta(t *testing.T) {
	now := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	delta, theta := Greeks("AAPL230721C00250000", 250, 0.3, now)
	if delta <= 0.4 || delta >= 0.7 {
		t.Fatalf("at-the-money call delta = %v, want roughly 0.5-0.6", delta)
	}
	if theta >= 0 {
		t.Fatalf("call theta = %v, want negative", theta)
	}
	// Puts mirror: negative delta.
	pd, _ := Greeks("AAPL230721P00250000", 250, 0.3, now)
	if pd >= 0 {
		t.Fatalf("put delta = %v, want negative", pd)
	}
}

func TestGreeksNonOption(t *testing.T) {
	if d, th := Greeks("AAPL", 100, 0.2, time.Now()); d != 0 || th != 0 {
		t.Fatalf("non-option greeks = %v/%v, want zeros", d, th)
	}
}

func TestMarketHours(t *testing.T) {
	// Wednesday 2024-06-12 12:00 ET.
	open := time.Date(2024, 6, 12, 12, 0, 0, 0, eastern)
	if !IsMarketOpen(open) {
		t.Fatalf("expected market open midday Wednesday")
	}
	// Saturday.
	sat := time.Date(2024, 6, 15, 12, 0, 0, 0, eastern)
	if IsMarketOpen(sat) {
		t.Fatalf("expected market closed Saturday")
	}
	if IsFuturesMarketOpen(sat) {
		t.Fatalf("expected futures closed Saturday")
	}
	// Sunday evening futures session.
	sun := time.Date(2024, 6, 16, 19, 0, 0, 0, eastern)
	if !IsFuturesMarketOpen(sun) {
		t.Fatalf("expected futures open Sunday evening")
	}
	// Weekday maintenance break 17:00-18:00.
	brk := time.Date(2024, 6, 12, 17, 30, 0, 0, eastern)
	if IsFuturesMarketOpen(brk) {
		t.Fatalf("expected futures closed during maintenance break")
	}
}
