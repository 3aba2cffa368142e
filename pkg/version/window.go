// ABOUTME: Named history windows resolved to a lower time bound
// ABOUTME: Calendar windows start at midnight and clamp month arithmetic to month end

package version

import (
	"fmt"
	"strings"
	"time"
)

// Window is a named look-back period.
type Window uint8

const (
	Day Window = iota
	Week
	Month
	Year
)

func (w Window) String() string {
	switch w {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Year:
		return "year"
	}
	return fmt.Sprintf("window(%d)", uint8(w))
}

// ParseWindow accepts day, week, month or year.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day":
		return Day, nil
	case "week":
		return Week, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	}
	return 0, fmt.Errorf("version: unknown window %q", s)
}

// Start returns the earliest time inside the window ending at now.
// Day is exactly 24 hours. The others start from midnight of now's day.
func (w Window) Start(now time.Time) time.Time {
	if w == Day {
		return now.Add(-24 * time.Hour)
	}
	y, m, d := now.Date()
	switch w {
	case Week:
		return time.Date(y, m, d-7, 0, 0, 0, 0, now.Location())
	case Month:
		return clampDate(y, m-1, d, now.Location())
	default:
		return clampDate(y-1, m, d, now.Location())
	}
}

// clampDate builds midnight of y-m-d, moving d back to the last day of the month when it overflows.
func clampDate(y int, m time.Month, d int, loc *time.Location) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
