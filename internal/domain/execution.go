package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus enumerates the lifecycle of a rule firing for one contact.
//
//	pending -> scheduled -> sending -> sent
//	                     \-> failed
//
// pending means required dependencies are not yet satisfied; the sweep
// promotes it once they are, or fails it when the dependency TTL expires.
// sending is the transient claimed state owned by exactly one worker.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionSending   ExecutionStatus = "sending"
	ExecutionSent      ExecutionStatus = "sent"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSent || s == ExecutionFailed
}

// Execution is one instance of a rule firing for one contact.
type Execution struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	RuleID         uuid.UUID       `json:"rule_id"`
	ContactID      uuid.UUID       `json:"contact_id"`
	TriggerType    TriggerType     `json:"trigger_type"`
	Status         ExecutionStatus `json:"status"`
	ScheduledFor   *time.Time      `json:"scheduled_for"`
	SentAt         *time.Time      `json:"sent_at"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`

	// Variant is the A/B variant tag assigned at evaluation time, empty when
	// the rule has no variants configured.
	Variant string `json:"variant,omitempty"`

	// Conversion marker, set later by an external conversion event.
	ConversionType  string   `json:"conversion_type,omitempty"`
	ConversionValue *float64 `json:"conversion_value,omitempty"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RenderedPreview is returned by a manual-test evaluation instead of an
// execution row. Nothing is persisted and nothing is sent.
type RenderedPreview struct {
	RuleID    uuid.UUID `json:"rule_id"`
	ContactID uuid.UUID `json:"contact_id"`
	Channel   Channel   `json:"channel"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

// ScheduledMessage is an individual one-off message scheduled outside any
// rule or campaign (e.g. a rep scheduling a follow-up from the CRM). The
// sweep dispatches it through the same executor as everything else.
type ScheduledMessage struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ContactID      uuid.UUID       `json:"contact_id"`
	Channel        Channel         `json:"channel"`
	Address        string          `json:"address"`
	Subject        string          `json:"subject"`
	BodyTemplate   string          `json:"body_template"`
	FromName       string          `json:"from_name"`
	FromAddress    string          `json:"from_address"`
	Status         ExecutionStatus `json:"status"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	SentAt         *time.Time      `json:"sent_at"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
