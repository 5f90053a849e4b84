package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DayHours is one weekday row of an organization's business hours. If the day
// is disabled, Start and End are ignored.
type DayHours struct {
	DayOfWeek int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	Enabled   bool   `json:"enabled"`
	Start     string `json:"start"` // "HH:MM", org-local
	End       string `json:"end"`   // "HH:MM", org-local, exclusive
}

// ParseStart returns the start time as minutes since midnight.
func (d DayHours) ParseStart() (int, error) { return parseClock(d.Start) }

// ParseEnd returns the end time as minutes since midnight.
func (d DayHours) ParseEnd() (int, error) { return parseClock(d.End) }

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WeeklySchedule is an organization's full business-hours configuration: one
// row per weekday and a single shared timezone. Enforced=false makes the gate
// a pass-through.
type WeeklySchedule struct {
	OrganizationID uuid.UUID   `json:"organization_id"`
	Timezone       string      `json:"timezone"`
	Enforced       bool        `json:"enforced"`
	Days           [7]DayHours `json:"days"`
}

// Location resolves the schedule timezone, defaulting to UTC.
func (w *WeeklySchedule) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(w.Timezone)
}

// AnyEnabled reports whether at least one weekday is enabled.
func (w *WeeklySchedule) AnyEnabled() bool {
	for _, d := range w.Days {
		if d.Enabled {
			return true
		}
	}
	return false
}

// OrgSettings holds per-organization orchestrator knobs that are not part of
// the weekly schedule itself.
type OrgSettings struct {
	OrganizationID   uuid.UUID `json:"organization_id"`
	DependencyTTL    int       `json:"dependency_ttl_hours"` // hours a pending execution may wait
	DefaultMaxRetry  int       `json:"default_max_retries"`
	OptimizeSendTime bool      `json:"optimize_send_time"`
}
