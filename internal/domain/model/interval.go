package model

import "time"

// Interval is a billing period.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	}
	return false
}

// IntervalDisplayName returns the human label of an interval.
func IntervalDisplayName(i Interval) string {
	switch i {
	case IntervalDaily:
		return "Daily"
	case IntervalWeekly:
		return "Weekly"
	case IntervalMonthly:
		return "Monthly"
	case IntervalYearly:
		return "Yearly"
	default:
		return string(i)
	}
}

// NextBillingDate returns anchor advanced by n intervals using calendar
// arithmetic. Monthly and yearly periods keep the anchor's day of month and
// clamp it to the last day of shorter months, so an anchor of Jan 31 yields
// Feb 28 (or 29), then Mar 31.
func NextBillingDate(anchor time.Time, interval Interval, n int) time.Time {
	switch interval {
	case IntervalDaily:
		return anchor.AddDate(0, 0, n)
	case IntervalWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case IntervalMonthly:
		return addMonthsClamped(anchor, n)
	case IntervalYearly:
		return addMonthsClamped(anchor, 12*n)
	default:
		return anchor
	}
}

// AddInterval advances from by a single interval.
func AddInterval(from time.Time, interval Interval) time.Time {
	return NextBillingDate(from, interval, 1)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	idx := int(m) - 1 + months
	ty := y + idx/12
	idx %= 12
	if idx < 0 {
		idx += 12
		ty--
	}
	tm := time.Month(idx + 1)
	if last := daysIn(ty, tm, t.Location()); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// day 0 of the following month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
