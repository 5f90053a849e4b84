package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType enumerates what kind of event fires a rule.
type TriggerType string

const (
	TriggerTimeBased    TriggerType = "time_based"
	TriggerContactEvent TriggerType = "contact_event"
	TriggerWebhook      TriggerType = "webhook"
	TriggerManualTest   TriggerType = "manual_test"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTimeBased, TriggerContactEvent, TriggerWebhook, TriggerManualTest:
		return true
	}
	return false
}

// Channel is the delivery channel for a rule or campaign.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// Rule is a configured automation definition. When triggered it sends a
// message to a contact over the rule's channel. Rules are soft-disabled
// (Active=false) rather than deleted while dependencies reference them.
type Rule struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Name           string      `json:"name"`
	TriggerType    TriggerType `json:"trigger_type"`
	Channel        Channel     `json:"channel"`
	Subject        string      `json:"subject"`
	BodyTemplate   string      `json:"body_template"`
	FromName       string      `json:"from_name"`
	FromAddress    string      `json:"from_address"`
	Active         bool        `json:"active"`

	// A/B variant names. Empty means no variant testing; otherwise the
	// evaluator tags each execution with one of these deterministically.
	Variants []string `json:"variants,omitempty"`

	// Running counters, mutated by the evaluator and executor.
	TriggeredCount int64 `json:"triggered_count"`
	SentCount      int64 `json:"sent_count"`
	FailedCount    int64 `json:"failed_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the rule is well-formed enough to be stored.
func (r *Rule) Validate() error {
	if r.OrganizationID == uuid.Nil {
		return fmt.Errorf("rule: organization_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule: name is required")
	}
	if !r.TriggerType.Valid() {
		return fmt.Errorf("rule: unknown trigger type %q", r.TriggerType)
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("rule: unknown channel %q", r.Channel)
	}
	return nil
}

// DependencyType enumerates how one rule constrains another.
type DependencyType string

const (
	// DepRequired gates the dependent rule on the referenced rule having a
	// sent execution for the same contact, optionally offset by a delay.
	DepRequired DependencyType = "required"
	// DepBlocks prevents the dependent rule from firing for a contact once
	// the referenced rule has a non-failed execution for that contact.
	DepBlocks DependencyType = "blocks"
	// DepTriggers schedules the referenced rule automatically when this
	// rule's execution completes.
	DepTriggers DependencyType = "triggers"
)

// Valid reports whether d is a known dependency type.
func (d DependencyType) Valid() bool {
	return d == DepRequired || d == DepBlocks || d == DepTriggers
}

// RuleDependency is a directed edge (RuleID -> DependsOnRuleID). The edge set
// per organization must remain acyclic; inserts that would close a cycle are
// rejected before persistence.
type RuleDependency struct {
	ID              uuid.UUID      `json:"id"`
	OrganizationID  uuid.UUID      `json:"organization_id"`
	RuleID          uuid.UUID      `json:"rule_id"`
	DependsOnRuleID uuid.UUID      `json:"depends_on_rule_id"`
	Type            DependencyType `json:"type"`
	DelayMinutes    int            `json:"delay_minutes"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Delay returns the dependency delay as a duration.
func (d *RuleDependency) Delay() time.Duration {
	return time.Duration(d.DelayMinutes) * time.Minute
}
