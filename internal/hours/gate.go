// Package hours implements the business hours gate: per-organization weekly
// send windows that clip or defer a candidate send instant.
package hours

import (
	"fmt"
	"time"

	"github.com/relaycrm/orchestrator/internal/domain"
)

// NextAllowedInstant returns the earliest instant >= candidate that falls
// inside the organization's business hours. It is a pure function of
// (schedule, candidate): the candidate is converted to the schedule timezone,
// checked against that weekday's window, and advanced day by day until an
// enabled window is found. The search is bounded by one full week; a schedule
// with no enabled day returns domain.ErrNoBusinessHours.
//
// When enforcement is disabled the candidate is returned unchanged.
func NextAllowedInstant(schedule *domain.WeeklySchedule, candidate time.Time) (time.Time, error) {
	if !schedule.Enforced {
		return candidate, nil
	}
	if !schedule.AnyEnabled() {
		return time.Time{}, domain.ErrNoBusinessHours
	}

	loc, err := schedule.Location()
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve timezone %q: %w", schedule.Timezone, err)
	}

	local := candidate.In(loc)
	for i := 0; i < 8; i++ {
		day := schedule.Days[int(local.Weekday())]
		if day.Enabled {
			startMin, err := day.ParseStart()
			if err != nil {
				return time.Time{}, err
			}
			endMin, err := day.ParseEnd()
			if err != nil {
				return time.Time{}, err
			}

			nowMin := local.Hour()*60 + local.Minute()
			switch {
			case i == 0 && nowMin >= startMin && nowMin < endMin:
				// Already inside the window; keep the exact instant.
				return candidate, nil
			case i == 0 && nowMin < startMin:
				return dayStart(local, startMin, loc), nil
			case i > 0:
				return dayStart(local, startMin, loc), nil
			}
			// i == 0 and past end of today's window: fall through to tomorrow.
		}
		local = nextMidnight(local, loc)
	}

	return time.Time{}, domain.ErrNoBusinessHours
}

func dayStart(local time.Time, startMin int, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), startMin/60, startMin%60, 0, 0, loc)
}

func nextMidnight(local time.Time, loc *time.Location) time.Time {
	next := local.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, loc)
}
