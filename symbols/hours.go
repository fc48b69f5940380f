package symbols

import "time"

var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// IsMarketOpen reports whether US equity markets are open at t
// (9:30-16:00 Eastern, Monday-Friday).
func IsMarketOpen(t time.Time) bool {
	et := t.In(eastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	return mins >= 9*60+30 && mins <= 16*60
}

// IsFuturesMarketOpen reports whether CME futures markets are open at t.
// Futures trade 18:00 Sunday through 17:00 Friday Eastern, with a daily
// 17:00-18:00 maintenance break.
func IsFuturesMarketOpen(t time.Time) bool {
	et := t.In(eastern)
	mins := et.Hour()*60 + et.Minute()
	switch et.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return mins >= 18*60
	default:
		return mins < 17*60 || mins >= 18*60
	}
}
