package domain

import (
	"time"

	"github.com/google/uuid"
)

// EngagementKind is the type of engagement event feeding the optimizer.
type EngagementKind string

const (
	EngagementOpen  EngagementKind = "open"
	EngagementClick EngagementKind = "click"
	// EngagementBounce does not feed the frequency table; it fails the
	// delivered recipient the provider message ID resolves to.
	EngagementBounce EngagementKind = "bounce"
)

// EngagementPattern is one (hour, day) bucket of an organization's historical
// engagement frequency table. Buckets accumulate forever; they are never
// deleted or decayed.
type EngagementPattern struct {
	OrganizationID  uuid.UUID `json:"organization_id"`
	HourOfDay       int       `json:"hour_of_day"` // 0-23
	DayOfWeek       int       `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	OpenCount       int64     `json:"open_count"`
	ClickCount      int64     `json:"click_count"`
	EngagementScore float64   `json:"engagement_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SendWindow is one ranked entry returned by the optimizer.
type SendWindow struct {
	HourOfDay int     `json:"hour_of_day"`
	DayOfWeek int     `json:"day_of_week"`
	Score     float64 `json:"score"`
	OpenCount int64   `json:"open_count"`
}
