// Package calendar implements the monthly "last Thursday" expiry convention.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the date format used by every input table.
const DateLayout = "2006-01-02"

// daysPerYear converts calendar days into a year fraction for time-to-maturity.
const daysPerYear = 365.0

// ParseDate parses a YYYY-MM-DD date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return d, nil
}

// Truncate strips the clock from t, keeping its calendar date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LastThursday returns the last Thursday of t's month.
func LastThursday(t time.Time) time.Time {
	y, m, _ := t.Date()
	lastDay := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	back := (int(lastDay.Weekday()) - int(time.Thursday) + 7) % 7
	return lastDay.AddDate(0, 0, -back)
}

// DaysBetween returns the whole calendar days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}

// TimeToMaturity returns the year fraction from d to the last Thursday of d's month.
// After that Thursday the result is negative; no roll to the next month happens here.
func TimeToMaturity(d time.Time) float64 {
	return float64(DaysBetween(d, LastThursday(d))) / daysPerYear
}

// DaysToExpiry returns the days from d to the current monthly expiry. Dates strictly
// after this month's last Thursday count towards next month's last Thursday.
func DaysToExpiry(d time.Time) int {
	expiry := LastThursday(d)
	if Truncate(d).After(expiry) {
		y, m, _ := expiry.Date()
		expiry = LastThursday(time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC))
	}
	return DaysBetween(d, expiry)
}

// Expiry returns the expiry date DaysToExpiry counts towards.
func Expiry(d time.Time) time.Time {
	return Truncate(d).AddDate(0, 0, DaysToExpiry(d))
}
