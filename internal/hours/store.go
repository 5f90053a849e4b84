package hours

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// Store persists weekly schedules and per-org orchestrator settings.
type Store struct {
	db *sql.DB
}

// NewStore creates a business hours store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadSchedule fetches an organization's weekly schedule. Days without a row
// default to disabled. A missing settings row yields an unenforced schedule
// in UTC, so organizations that never configured hours are not gated.
func (s *Store) LoadSchedule(ctx context.Context, orgID uuid.UUID) (*domain.WeeklySchedule, error) {
	sched := &domain.WeeklySchedule{
		OrganizationID: orgID,
		Timezone:       "UTC",
	}
	for i := range sched.Days {
		sched.Days[i].DayOfWeek = i
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT timezone, enforce_business_hours
		FROM orch_org_settings
		WHERE organization_id = $1
	`, orgID).Scan(&sched.Timezone, &sched.Enforced)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load org settings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT day_of_week, enabled, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM orch_business_hours
		WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("load business hours: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day domain.DayHours
		if err := rows.Scan(&day.DayOfWeek, &day.Enabled, &day.Start, &day.End); err != nil {
			return nil, err
		}
		if day.DayOfWeek >= 0 && day.DayOfWeek <= 6 {
			sched.Days[day.DayOfWeek] = day
		}
	}
	return sched, rows.Err()
}

// SaveSchedule upserts the full weekly schedule and the org timezone /
// enforcement flag in one transaction.
func (s *Store) SaveSchedule(ctx context.Context, sched *domain.WeeklySchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orch_org_settings (organization_id, timezone, enforce_business_hours, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			enforce_business_hours = EXCLUDED.enforce_business_hours,
			updated_at = NOW()
	`, sched.OrganizationID, sched.Timezone, sched.Enforced)
	if err != nil {
		return fmt.Errorf("save org settings: %w", err)
	}

	for _, day := range sched.Days {
		start, end := day.Start, day.End
		if start == "" {
			start = "09:00"
		}
		if end == "" {
			end = "17:00"
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orch_business_hours (organization_id, day_of_week, enabled, start_time, end_time)
			VALUES ($1, $2, $3, $4::time, $5::time)
			ON CONFLICT (organization_id, day_of_week) DO UPDATE SET
				enabled = EXCLUDED.enabled,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time
		`, sched.OrganizationID, day.DayOfWeek, day.Enabled, start, end)
		if err != nil {
			return fmt.Errorf("save day %d: %w", day.DayOfWeek, err)
		}
	}

	return tx.Commit()
}

// LoadOrgSettings fetches the orchestrator knobs for an organization,
// falling back to the given defaults when unset.
func (s *Store) LoadOrgSettings(ctx context.Context, orgID uuid.UUID, defaultTTLHours, defaultMaxRetries int) (*domain.OrgSettings, error) {
	settings := &domain.OrgSettings{
		OrganizationID:  orgID,
		DependencyTTL:   defaultTTLHours,
		DefaultMaxRetry: defaultMaxRetries,
	}
	var ttl, maxRetry sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT dependency_ttl_hours, default_max_retries, optimize_send_time
		FROM orch_org_settings
		WHERE organization_id = $1
	`, orgID).Scan(&ttl, &maxRetry, &settings.OptimizeSendTime)
	if err == sql.ErrNoRows {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load org settings: %w", err)
	}
	if ttl.Valid && ttl.Int64 > 0 {
		settings.DependencyTTL = int(ttl.Int64)
	}
	if maxRetry.Valid && maxRetry.Int64 > 0 {
		settings.DefaultMaxRetry = int(maxRetry.Int64)
	}
	return settings, nil
}
