package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a bulk campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// IsTerminal reports whether the campaign is in a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignCancelled
}

// Campaign is a bulk send fanning out to many recipients. The counter
// invariant sent+failed+pending == total must hold after every recipient
// transition; the campaign store maintains it transactionally.
type Campaign struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Name           string         `json:"name"`
	Channel        Channel        `json:"channel"`
	Subject        string         `json:"subject"`
	BodyTemplate   string         `json:"body_template"`
	FromName       string         `json:"from_name"`
	FromAddress    string         `json:"from_address"`
	Status         CampaignStatus `json:"status"`
	ScheduledAt    *time.Time     `json:"scheduled_at"`

	TotalRecipients int `json:"total_recipients"`
	SentCount       int `json:"sent_count"`
	FailedCount     int `json:"failed_count"`
	PendingCount    int `json:"pending_count"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the campaign is well-formed enough to be enqueued.
func (c *Campaign) Validate() error {
	if c.OrganizationID == uuid.Nil {
		return fmt.Errorf("campaign: organization_id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("campaign: name is required")
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("campaign: unknown channel %q", c.Channel)
	}
	if c.BodyTemplate == "" {
		return fmt.Errorf("campaign: body_template is required")
	}
	return nil
}

// CheckCounters verifies the aggregate counter invariant.
func (c *Campaign) CheckCounters() error {
	if c.SentCount+c.FailedCount+c.PendingCount != c.TotalRecipients {
		return fmt.Errorf("campaign %s: counter invariant violated: sent=%d failed=%d pending=%d total=%d",
			c.ID, c.SentCount, c.FailedCount, c.PendingCount, c.TotalRecipients)
	}
	return nil
}

// RecipientStatus enumerates the per-recipient delivery state machine.
//
//	pending -> sending -> sent
//	        \-> retrying -> sending -> ...
//	                     \-> permanently_failed
//	pending|retrying -> cancelled (operator action)
//
// sent, permanently_failed and cancelled are terminal.
type RecipientStatus string

const (
	RecipientPending           RecipientStatus = "pending"
	RecipientSending           RecipientStatus = "sending"
	RecipientSent              RecipientStatus = "sent"
	RecipientFailed            RecipientStatus = "failed"
	RecipientRetrying          RecipientStatus = "retrying"
	RecipientPermanentlyFailed RecipientStatus = "permanently_failed"
	RecipientCancelled         RecipientStatus = "cancelled"
)

// IsTerminal reports whether the recipient state is final.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientPermanentlyFailed || s == RecipientCancelled
}

// CampaignRecipient is one addressable target within a campaign with its own
// retry/delivery state machine.
type CampaignRecipient struct {
	ID             uuid.UUID       `json:"id"`
	CampaignID     uuid.UUID       `json:"campaign_id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ContactID      *uuid.UUID      `json:"contact_id,omitempty"`
	Address        string          `json:"address"`
	Status         RecipientStatus `json:"status"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	ErrorMessage   string          `json:"error_message,omitempty"`

	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy         string     `json:"claimed_by,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
