// Package sendtime maintains per-organization engagement frequency tables and
// ranks (hour, day) send windows. Its output is advisory: callers may use it
// to choose among business-hours-valid candidates but never to bypass the
// hours gate.
package sendtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/relaycrm/orchestrator/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

// Optimizer accumulates engagement-by-hour/day statistics and produces ranked
// send windows. Buckets only ever accumulate; this is a frequency table, not
// a log.
type Optimizer struct {
	db          *sql.DB
	redisClient *redis.Client // optional; nil disables caching
	clickWeight float64
	cacheTTL    time.Duration
}

// NewOptimizer creates an optimizer. clickWeight must be >= 1; values below
// are clamped so a click never counts for less than an open.
func NewOptimizer(db *sql.DB, redisClient *redis.Client, clickWeight float64) *Optimizer {
	if clickWeight < 1 {
		clickWeight = 1
	}
	return &Optimizer{
		db:          db,
		redisClient: redisClient,
		clickWeight: clickWeight,
		cacheTTL:    defaultCacheTTL,
	}
}

// SetCacheTTL overrides the ranked-window cache TTL.
func (o *Optimizer) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		o.cacheTTL = ttl
	}
}

// RecordEngagement increments the (hour, day) bucket for an open or click and
// recomputes the bucket's score in the same statement.
//
// Score formula: open_count + clickWeight * click_count. Additive and
// monotonic in both signals; ranking ties are broken by raw opens.
func (o *Optimizer) RecordEngagement(ctx context.Context, orgID uuid.UUID, at time.Time, kind domain.EngagementKind) error {
	var openInc, clickInc int
	switch kind {
	case domain.EngagementOpen:
		openInc = 1
	case domain.EngagementClick:
		clickInc = 1
	default:
		return fmt.Errorf("unknown engagement kind %q", kind)
	}

	utc := at.UTC()
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO orch_engagement_patterns
			(organization_id, hour_of_day, day_of_week, open_count, click_count, engagement_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $4 + $6 * $5, NOW())
		ON CONFLICT (organization_id, hour_of_day, day_of_week) DO UPDATE SET
			open_count = orch_engagement_patterns.open_count + $4,
			click_count = orch_engagement_patterns.click_count + $5,
			engagement_score = (orch_engagement_patterns.open_count + $4)
				+ $6 * (orch_engagement_patterns.click_count + $5),
			updated_at = NOW()
	`, orgID, utc.Hour(), int(utc.Weekday()), openInc, clickInc, o.clickWeight)
	if err != nil {
		return fmt.Errorf("record engagement: %w", err)
	}

	o.invalidateCache(ctx, orgID)
	return nil
}

// RankedWindows returns the top-N (hour, day) buckets by score descending,
// ties broken by higher raw open count, then by (day, hour) ascending for
// deterministic output. Results are cached in Redis when available.
func (o *Optimizer) RankedWindows(ctx context.Context, orgID uuid.UUID, topN int) ([]domain.SendWindow, error) {
	if topN <= 0 {
		topN = 5
	}

	if cached, ok := o.cachedWindows(ctx, orgID, topN); ok {
		return cached, nil
	}

	rows, err := o.db.QueryContext(ctx, `
		SELECT hour_of_day, day_of_week, engagement_score, open_count
		FROM orch_engagement_patterns
		WHERE organization_id = $1
		ORDER BY engagement_score DESC, open_count DESC, day_of_week ASC, hour_of_day ASC
		LIMIT $2
	`, orgID, topN)
	if err != nil {
		return nil, fmt.Errorf("ranked windows: %w", err)
	}
	defer rows.Close()

	var windows []domain.SendWindow
	for rows.Next() {
		var w domain.SendWindow
		if err := rows.Scan(&w.HourOfDay, &w.DayOfWeek, &w.Score, &w.OpenCount); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	o.storeCache(ctx, orgID, topN, windows)
	return windows, nil
}

// BestInstantWithin picks the instant of the highest-ranked window whose next
// occurrence falls inside [from, from+horizon). Returns ok=false when no
// window occurs inside the horizon or no engagement data exists yet. Buckets
// are recorded in UTC, so occurrences are computed in UTC.
func (o *Optimizer) BestInstantWithin(ctx context.Context, orgID uuid.UUID, from time.Time, horizon time.Duration) (time.Time, bool, error) {
	windows, err := o.RankedWindows(ctx, orgID, 24*7)
	if err != nil {
		return time.Time{}, false, err
	}
	deadline := from.Add(horizon)
	for _, w := range windows {
		occ := nextOccurrence(from.UTC(), w.DayOfWeek, w.HourOfDay)
		if occ.Before(deadline) {
			return occ, true, nil
		}
	}
	return time.Time{}, false, nil
}

// nextOccurrence returns the earliest instant >= from with the given UTC
// weekday and hour. If from is already inside that hour, from is returned.
func nextOccurrence(from time.Time, day, hour int) time.Time {
	if int(from.Weekday()) == day && from.Hour() == hour {
		return from
	}
	occ := time.Date(from.Year(), from.Month(), from.Day(), hour, 0, 0, 0, time.UTC)
	daysUntil := (day - int(from.Weekday()) + 7) % 7
	occ = occ.AddDate(0, 0, daysUntil)
	if !occ.After(from) {
		occ = occ.AddDate(0, 0, 7)
	}
	return occ
}

func (o *Optimizer) cacheKey(orgID uuid.UUID, topN int) string {
	return fmt.Sprintf("sendtime:ranked:%s:%d", orgID, topN)
}

func (o *Optimizer) cachedWindows(ctx context.Context, orgID uuid.UUID, topN int) ([]domain.SendWindow, bool) {
	if o.redisClient == nil {
		return nil, false
	}
	data, err := o.redisClient.Get(ctx, o.cacheKey(orgID, topN)).Bytes()
	if err != nil {
		return nil, false
	}
	var windows []domain.SendWindow
	if err := json.Unmarshal(data, &windows); err != nil {
		return nil, false
	}
	return windows, true
}

func (o *Optimizer) storeCache(ctx context.Context, orgID uuid.UUID, topN int, windows []domain.SendWindow) {
	if o.redisClient == nil || windows == nil {
		return
	}
	data, err := json.Marshal(windows)
	if err != nil {
		return
	}
	o.redisClient.Set(ctx, o.cacheKey(orgID, topN), data, o.cacheTTL)
}

func (o *Optimizer) invalidateCache(ctx context.Context, orgID uuid.UUID) {
	if o.redisClient == nil {
		return
	}
	iter := o.redisClient.Scan(ctx, 0, fmt.Sprintf("sendtime:ranked:%s:*", orgID), 100).Iterator()
	for iter.Next(ctx) {
		o.redisClient.Del(ctx, iter.Val())
	}
}
