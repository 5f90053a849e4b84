package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCampaignCheckCounters(t *testing.T) {
	c := &Campaign{
		ID:              uuid.New(),
		TotalRecipients: 10,
		SentCount:       6,
		FailedCount:     2,
		PendingCount:    2,
	}
	if err := c.CheckCounters(); err != nil {
		t.Errorf("balanced counters flagged: %v", err)
	}

	c.PendingCount = 3
	if err := c.CheckCounters(); err == nil {
		t.Error("unbalanced counters not flagged")
	}
}

func TestCampaignValidate(t *testing.T) {
	c := &Campaign{
		OrganizationID: uuid.New(),
		Name:           "Launch",
		Channel:        ChannelEmail,
		BodyTemplate:   "<p>Hi</p>",
	}
	if err := c.Validate(); err != nil {
		t.Errorf("valid campaign rejected: %v", err)
	}

	bad := *c
	bad.Channel = "fax"
	if err := bad.Validate(); err == nil {
		t.Error("unknown channel accepted")
	}

	bad = *c
	bad.BodyTemplate = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty body accepted")
	}
}

func TestStatusTerminality(t *testing.T) {
	for status, terminal := range map[CampaignStatus]bool{
		CampaignDraft:     false,
		CampaignScheduled: false,
		CampaignSending:   false,
		CampaignCompleted: true,
		CampaignFailed:    true,
		CampaignCancelled: true,
	} {
		if status.IsTerminal() != terminal {
			t.Errorf("CampaignStatus(%s).IsTerminal() = %v, want %v", status, !terminal, terminal)
		}
	}

	for status, terminal := range map[RecipientStatus]bool{
		RecipientPending:           false,
		RecipientSending:           false,
		RecipientRetrying:          false,
		RecipientSent:              true,
		RecipientPermanentlyFailed: true,
		RecipientCancelled:         true,
	} {
		if status.IsTerminal() != terminal {
			t.Errorf("RecipientStatus(%s).IsTerminal() = %v, want %v", status, !terminal, terminal)
		}
	}

	for status, terminal := range map[ExecutionStatus]bool{
		ExecutionPending:   false,
		ExecutionScheduled: false,
		ExecutionSending:   false,
		ExecutionSent:      true,
		ExecutionFailed:    true,
	} {
		if status.IsTerminal() != terminal {
			t.Errorf("ExecutionStatus(%s).IsTerminal() = %v, want %v", status, !terminal, terminal)
		}
	}
}
