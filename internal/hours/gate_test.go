package hours

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

func weekdaySchedule(tz string) *domain.WeeklySchedule {
	s := &domain.WeeklySchedule{
		OrganizationID: uuid.New(),
		Timezone:       tz,
		Enforced:       true,
	}
	for day := 1; day <= 5; day++ {
		s.Days[day] = domain.DayHours{DayOfWeek: day, Enabled: true, Start: "09:00", End: "17:00"}
	}
	return s
}

func TestNextAllowedInstant_InsideWindowKeepsInstant(t *testing.T) {
	s := weekdaySchedule("UTC")

	// Wednesday 2026-01-07 14:23:45 UTC
	candidate := time.Date(2026, 1, 7, 14, 23, 45, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	if !got.Equal(candidate) {
		t.Errorf("instant inside window moved: got %v, want %v", got, candidate)
	}
}

func TestNextAllowedInstant_SaturdayDefersToMonday(t *testing.T) {
	s := weekdaySchedule("UTC")

	// Saturday 2026-01-10 10:00 UTC -> Monday 2026-01-12 09:00 UTC
	candidate := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	want := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Saturday candidate: got %v, want %v", got, want)
	}
}

func TestNextAllowedInstant_BeforeOpeningClipsToStart(t *testing.T) {
	s := weekdaySchedule("UTC")

	// Tuesday 06:30 -> Tuesday 09:00
	candidate := time.Date(2026, 1, 6, 6, 30, 0, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	want := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("early candidate: got %v, want %v", got, want)
	}
}

func TestNextAllowedInstant_AfterCloseRollsToNextDay(t *testing.T) {
	s := weekdaySchedule("UTC")

	// Friday 17:00 is exclusive -> Monday 09:00
	candidate := time.Date(2026, 1, 9, 17, 0, 0, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	want := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("end-exclusive candidate: got %v, want %v", got, want)
	}
}

func TestNextAllowedInstant_TimezoneConversion(t *testing.T) {
	s := weekdaySchedule("America/New_York")

	// Tuesday 13:00 UTC is 08:00 in New York (EST) -> clipped to 09:00 local,
	// which is 14:00 UTC.
	candidate := time.Date(2026, 1, 6, 13, 0, 0, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	want := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("timezone candidate: got %v (UTC %v), want %v", got, got.UTC(), want)
	}
}

func TestNextAllowedInstant_UnenforcedPassesThrough(t *testing.T) {
	s := weekdaySchedule("UTC")
	s.Enforced = false

	candidate := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC) // Saturday 03:00
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	if !got.Equal(candidate) {
		t.Errorf("unenforced schedule moved candidate: got %v, want %v", got, candidate)
	}
}

func TestNextAllowedInstant_NoEnabledDays(t *testing.T) {
	s := &domain.WeeklySchedule{OrganizationID: uuid.New(), Timezone: "UTC", Enforced: true}

	_, err := NextAllowedInstant(s, time.Now())
	if !errors.Is(err, domain.ErrNoBusinessHours) {
		t.Errorf("expected ErrNoBusinessHours, got %v", err)
	}
}

func TestNextAllowedInstant_SingleEnabledDay(t *testing.T) {
	s := &domain.WeeklySchedule{OrganizationID: uuid.New(), Timezone: "UTC", Enforced: true}
	s.Days[3] = domain.DayHours{DayOfWeek: 3, Enabled: true, Start: "10:00", End: "12:00"}

	// Thursday -> next Wednesday 10:00
	candidate := time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC)
	got, err := NextAllowedInstant(s, candidate)
	if err != nil {
		t.Fatalf("NextAllowedInstant() error: %v", err)
	}
	want := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("single-day schedule: got %v, want %v", got, want)
	}
}
