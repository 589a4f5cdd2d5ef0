package fault

import (
	"fmt"
	"time"

	"github.com/lalithlochan/solarops/internal/db"
)

// Duration renders the time between start and end the way fault cards show it.
//
// Below one hour it counts minutes, below one day it counts whole hours (leftover
// minutes are dropped), and from one day on it renders "D day(s) H hour(s)" with the
// hour clause omitted when it is zero. Spans where end precedes start render as
// zero minutes. Resolved faults get a "solved in " prefix.
func Duration(start, end time.Time, resolved bool) string {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}

	minutes := int(d / time.Minute)
	hours := minutes / 60
	days := hours / 24

	var s string
	switch {
	case days > 0:
		s = plural(days, "day")
		if h := hours % 24; h > 0 {
			s += " " + plural(h, "hour")
		}
	case hours > 0:
		s = plural(hours, "hour")
	default:
		s = plural(minutes, "minute")
	}

	if resolved {
		return "solved in " + s
	}
	return s
}

// Elapsed is Duration applied to a fault record. Resolved faults are measured up to
// their completion time, everything else up to now.
func Elapsed(f *db.Fault, now time.Time) string {
	if f.Status == db.StatusResolved && f.Resolution != nil && !f.Resolution.CompletedAt.IsZero() {
		return Duration(f.CreatedAt, f.Resolution.CompletedAt, true)
	}
	return Duration(f.CreatedAt, now, false)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
