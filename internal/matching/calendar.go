package matching

import (
	"time"

	"github.com/rishav/marketsim/internal/config"
)

// etOffset is the fixed Eastern Time offset used for all calendar gating.
// No DST adjustment is modeled.
const etOffset = -5 * time.Hour

// MarketSession classifies a simulated timestamp against the configured
// trading calendar.
type MarketSession int

const (
	Closed MarketSession = iota
	Premarket
	Regular
	Afterhours
)

func (s MarketSession) String() string {
	switch s {
	case Premarket:
		return "PREMARKET"
	case Regular:
		return "REGULAR"
	case Afterhours:
		return "AFTERHOURS"
	default:
		return "CLOSED"
	}
}

// etTime converts a simulated nanosecond timestamp to its Eastern Time wall
// clock representation.
func etTime(tsNs int64) time.Time {
	return time.Unix(0, tsNs).UTC().Add(etOffset)
}

// isHoliday reports whether t's calendar date matches a recurring "MM-DD"
// holiday entry; holidays repeat every year since only month and day are
// compared.
func isHoliday(t time.Time, holidays []string) bool {
	date := t.Format("01-02")
	for _, h := range holidays {
		if h == date {
			return true
		}
	}
	return false
}

// isWeekend reports whether t falls on a Saturday or Sunday.
func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MarketSessionAt classifies tsNs using the execution config's minute
// boundaries and holiday list.
func MarketSessionAt(tsNs int64, cfg config.ExecutionConfig) MarketSession {
	t := etTime(tsNs)
	if isWeekend(t) || isHoliday(t, cfg.MarketHolidays) {
		return Closed
	}
	minutes := t.Hour()*60 + t.Minute()

	switch {
	case minutes >= cfg.RegularStartMinutes && minutes < cfg.RegularEndMinutes:
		return Regular
	case minutes >= cfg.PremarketStartMinutes && minutes < cfg.RegularStartMinutes:
		return Premarket
	case minutes >= cfg.RegularEndMinutes && minutes < cfg.AfterhoursEndMinutes:
		return Afterhours
	default:
		return Closed
	}
}

// NextTradingDayBoundary walks forward one calendar day at a time from
// tsNs (ET midnight-aligned) skipping weekends and configured holidays,
// returning the nanosecond timestamp of the given minute-of-day on the
// next trading day. The session does not call it: OPG and CLS expiries are
// computed from the session's own start and end times.
func NextTradingDayBoundary(tsNs int64, minuteOfDay int, holidays []string) int64 {
	day := etTime(tsNs).Truncate(24 * time.Hour)
	for {
		day = day.AddDate(0, 0, 1)
		if isWeekend(day) {
			continue
		}
		if isHoliday(day, holidays) {
			continue
		}
		boundary := day.Add(time.Duration(minuteOfDay) * time.Minute)
		return boundary.Add(-etOffset).UnixNano()
	}
}
