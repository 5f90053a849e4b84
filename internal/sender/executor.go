package sender

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/rules"
)

// ExecutionStore is the slice of the rules store the executor needs.
type ExecutionStore interface {
	MarkExecutionSent(ctx context.Context, execID, ruleID uuid.UUID) error
	RescheduleExecution(ctx context.Context, execID uuid.UUID, at time.Time, errMsg string) error
	FailExecution(ctx context.Context, execID, ruleID uuid.UUID, errMsg string) error
}

// RecipientStore is the slice of the campaign store the executor needs.
type RecipientStore interface {
	MarkRecipientSent(ctx context.Context, recipientID uuid.UUID, providerMessageID string) error
	MarkRecipientRetrying(ctx context.Context, recipientID uuid.UUID, nextAttempt time.Time, errMsg string) error
	MarkRecipientPermanentlyFailed(ctx context.Context, recipientID uuid.UUID, errMsg string) error
}

// MessageStore is the slice of the scheduled-message store the executor needs.
type MessageStore interface {
	MarkMessageSent(ctx context.Context, msgID uuid.UUID) error
	RescheduleMessage(ctx context.Context, msgID uuid.UUID, at time.Time, errMsg string) error
	FailMessage(ctx context.Context, msgID uuid.UUID, errMsg string) error
}

// ContactSource resolves contacts for addressing and template variables.
type ContactSource interface {
	GetContact(ctx context.Context, orgID, contactID uuid.UUID) (*domain.Contact, error)
}

// Executor renders and sends claimed jobs and applies the retry state
// machine: transient failures reschedule with exponential backoff until the
// retry budget is spent, everything else fails terminally.
type Executor struct {
	registry *Registry
	renderer *Renderer
	contacts ContactSource
	execs    ExecutionStore
	recips   RecipientStore
	msgs     MessageStore

	backoffBase time.Duration
	backoffCap  time.Duration

	// OnExecutionSent, when set, runs after a rule execution is finalized as
	// sent. The scheduler wires rule chaining through it.
	OnExecutionSent func(ctx context.Context, orgID, ruleID, contactID uuid.UUID)
}

// NewExecutor creates an executor.
func NewExecutor(registry *Registry, renderer *Renderer, contacts ContactSource,
	execs ExecutionStore, recips RecipientStore, msgs MessageStore,
	backoffBase, backoffCap time.Duration) *Executor {
	return &Executor{
		registry:    registry,
		renderer:    renderer,
		contacts:    contacts,
		execs:       execs,
		recips:      recips,
		msgs:        msgs,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
	}
}

// AttemptExecution processes one claimed rule execution.
func (e *Executor) AttemptExecution(ctx context.Context, job rules.ExecutionJob) {
	exec := job.Execution

	contact, err := e.contacts.GetContact(ctx, exec.OrganizationID, exec.ContactID)
	if err != nil {
		e.failExecution(ctx, exec, "contact lookup failed: "+err.Error())
		return
	}
	if !contact.Subscribed {
		// Unsubscribed after scheduling. Terminal, not a delivery failure.
		e.failExecution(ctx, exec, domain.ErrUnsubscribed.Error())
		return
	}

	addr := contact.AddressFor(job.Channel)
	if addr == "" {
		e.failExecution(ctx, exec, "contact has no address for channel "+string(job.Channel))
		return
	}

	subject, body, err := e.renderer.RenderMessage(job.Subject, job.Body, contact.TemplateVars())
	if err != nil {
		e.failExecution(ctx, exec, "render failed: "+err.Error())
		return
	}

	msg := &Message{
		To: addr, Subject: subject, Body: body,
		FromName: job.FromName, FromAddr: job.FromAddr,
		Tags: map[string]string{
			"execution_id": exec.ID.String(),
			"rule_id":      exec.RuleID.String(),
		},
	}
	if exec.Variant != "" {
		msg.Tags["variant"] = exec.Variant
	}

	channelSender, err := e.registry.For(job.Channel)
	if err != nil {
		e.failExecution(ctx, exec, err.Error())
		return
	}

	if _, err := channelSender.Send(ctx, msg); err != nil {
		if domain.IsDeliveryError(err) && exec.RetryCount < exec.MaxRetries {
			delay := Backoff(exec.RetryCount, e.backoffBase, e.backoffCap)
			if rerr := e.execs.RescheduleExecution(ctx, exec.ID, time.Now().Add(delay), err.Error()); rerr != nil {
				log.Printf("[Executor] Reschedule execution %s: %v", exec.ID, rerr)
			}
			return
		}
		e.failExecution(ctx, exec, err.Error())
		return
	}

	if err := e.execs.MarkExecutionSent(ctx, exec.ID, exec.RuleID); err != nil {
		log.Printf("[Executor] Mark execution %s sent: %v", exec.ID, err)
		return
	}
	if e.OnExecutionSent != nil {
		e.OnExecutionSent(ctx, exec.OrganizationID, exec.RuleID, exec.ContactID)
	}
}

func (e *Executor) failExecution(ctx context.Context, exec domain.Execution, reason string) {
	if err := e.execs.FailExecution(ctx, exec.ID, exec.RuleID, reason); err != nil {
		log.Printf("[Executor] Fail execution %s: %v", exec.ID, err)
	}
}

// AttemptRecipient processes one claimed campaign recipient.
func (e *Executor) AttemptRecipient(ctx context.Context, job campaign.RecipientJob) {
	r := job.Recipient

	vars := map[string]interface{}{"address": r.Address}
	if r.ContactID != nil {
		if contact, err := e.contacts.GetContact(ctx, r.OrganizationID, *r.ContactID); err == nil {
			if !contact.Subscribed {
				e.failRecipient(ctx, r.ID, domain.ErrUnsubscribed.Error())
				return
			}
			vars = contact.TemplateVars()
		}
	}

	subject, body, err := e.renderer.RenderMessage(job.Subject, job.Body, vars)
	if err != nil {
		e.failRecipient(ctx, r.ID, "render failed: "+err.Error())
		return
	}

	msg := &Message{
		To: r.Address, Subject: subject, Body: body,
		FromName: job.FromName, FromAddr: job.FromAddr,
		Tags: map[string]string{
			"campaign_id":  r.CampaignID.String(),
			"recipient_id": r.ID.String(),
		},
	}

	channelSender, err := e.registry.For(job.Channel)
	if err != nil {
		e.failRecipient(ctx, r.ID, err.Error())
		return
	}

	result, err := channelSender.Send(ctx, msg)
	if err != nil {
		if domain.IsDeliveryError(err) && r.RetryCount < r.MaxRetries {
			delay := Backoff(r.RetryCount, e.backoffBase, e.backoffCap)
			if rerr := e.recips.MarkRecipientRetrying(ctx, r.ID, time.Now().Add(delay), err.Error()); rerr != nil {
				log.Printf("[Executor] Mark recipient %s retrying: %v", r.ID, rerr)
			}
			return
		}
		e.failRecipient(ctx, r.ID, err.Error())
		return
	}

	if err := e.recips.MarkRecipientSent(ctx, r.ID, result.ProviderMessageID); err != nil {
		log.Printf("[Executor] Mark recipient %s sent: %v", r.ID, err)
	}
}

func (e *Executor) failRecipient(ctx context.Context, recipientID uuid.UUID, reason string) {
	if err := e.recips.MarkRecipientPermanentlyFailed(ctx, recipientID, reason); err != nil {
		log.Printf("[Executor] Fail recipient %s: %v", recipientID, err)
	}
}

// AttemptScheduledMessage processes one claimed one-off scheduled message.
func (e *Executor) AttemptScheduledMessage(ctx context.Context, m domain.ScheduledMessage) {
	vars := map[string]interface{}{"address": m.Address}
	if contact, err := e.contacts.GetContact(ctx, m.OrganizationID, m.ContactID); err == nil {
		if !contact.Subscribed {
			e.failMessage(ctx, m.ID, domain.ErrUnsubscribed.Error())
			return
		}
		vars = contact.TemplateVars()
	}

	subject, body, err := e.renderer.RenderMessage(m.Subject, m.BodyTemplate, vars)
	if err != nil {
		e.failMessage(ctx, m.ID, "render failed: "+err.Error())
		return
	}

	msg := &Message{
		To: m.Address, Subject: subject, Body: body,
		FromName: m.FromName, FromAddr: m.FromAddress,
		Tags:     map[string]string{"scheduled_message_id": m.ID.String()},
	}

	channelSender, err := e.registry.For(m.Channel)
	if err != nil {
		e.failMessage(ctx, m.ID, err.Error())
		return
	}

	if _, err := channelSender.Send(ctx, msg); err != nil {
		if domain.IsDeliveryError(err) && m.RetryCount < m.MaxRetries {
			delay := Backoff(m.RetryCount, e.backoffBase, e.backoffCap)
			if rerr := e.msgs.RescheduleMessage(ctx, m.ID, time.Now().Add(delay), err.Error()); rerr != nil {
				log.Printf("[Executor] Reschedule message %s: %v", m.ID, rerr)
			}
			return
		}
		e.failMessage(ctx, m.ID, err.Error())
		return
	}

	if err := e.msgs.MarkMessageSent(ctx, m.ID); err != nil {
		log.Printf("[Executor] Mark message %s sent: %v", m.ID, err)
	}
}

func (e *Executor) failMessage(ctx context.Context, msgID uuid.UUID, reason string) {
	if err := e.msgs.FailMessage(ctx, msgID, reason); err != nil {
		log.Printf("[Executor] Fail message %s: %v", msgID, err)
	}
}
