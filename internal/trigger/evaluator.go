// Package trigger evaluates rules against contacts: dependency checks,
// duplicate suppression, business hours gating and send-time optimization
// all happen here, producing scheduled or pending executions.
package trigger

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/contacts"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/hours"
	"github.com/relaycrm/orchestrator/internal/rules"
	"github.com/relaycrm/orchestrator/internal/sender"
	"github.com/relaycrm/orchestrator/internal/sendtime"
)

// Outcome says what an evaluation did.
type Outcome string

const (
	// OutcomeScheduled means an execution was created and scheduled.
	OutcomeScheduled Outcome = "scheduled"
	// OutcomePending means an execution was created but waits on required
	// dependencies.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped means no execution was created (blocked, duplicate, or
	// rule inactive). Silent by design; the reason is informational.
	OutcomeSkipped Outcome = "skipped"
)

// Result is the outcome of one rule evaluation.
type Result struct {
	Outcome   Outcome           `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	Execution *domain.Execution `json:"execution,omitempty"`
}

// Evaluator decides whether and when a rule fires for a contact.
type Evaluator struct {
	rules    *rules.Store
	hours    *hours.Store
	contacts *contacts.Store
	opt      *sendtime.Optimizer
	renderer *sender.Renderer

	horizon           time.Duration
	defaultMaxRetries int
	defaultTTLHours   int
}

// NewEvaluator creates an evaluator.
func NewEvaluator(ruleStore *rules.Store, hourStore *hours.Store, contactStore *contacts.Store,
	opt *sendtime.Optimizer, renderer *sender.Renderer,
	horizon time.Duration, defaultMaxRetries, defaultTTLHours int) *Evaluator {
	return &Evaluator{
		rules:             ruleStore,
		hours:             hourStore,
		contacts:          contactStore,
		opt:               opt,
		renderer:          renderer,
		horizon:           horizon,
		defaultMaxRetries: defaultMaxRetries,
		defaultTTLHours:   defaultTTLHours,
	}
}

// Evaluate runs the full decision pipeline for one (rule, contact) pair:
//
//  1. unsubscribed contacts abort with domain.ErrUnsubscribed
//  2. a prior non-failed execution for the pair suppresses the trigger
//  3. a blocks dependency with a non-failed execution suppresses it silently
//  4. unmet required dependencies park the execution as pending
//  5. the candidate instant (now, or the latest required-dependency send
//     plus its delay) passes through the business hours gate
//  6. when the organization opts in, the send-time optimizer may move the
//     instant to a higher-engagement window inside the horizon, re-gated
func (e *Evaluator) Evaluate(ctx context.Context, orgID, ruleID, contactID uuid.UUID) (*Result, error) {
	rule, err := e.rules.GetRule(ctx, orgID, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return &Result{Outcome: OutcomeSkipped, Reason: "rule is inactive"}, nil
	}

	subscribed, err := e.contacts.IsSubscribed(ctx, orgID, contactID)
	if err != nil {
		return nil, err
	}
	if !subscribed {
		return nil, domain.ErrUnsubscribed
	}

	dup, err := e.rules.HasNonFailedExecution(ctx, ruleID, contactID)
	if err != nil {
		return nil, err
	}
	if dup {
		return &Result{Outcome: OutcomeSkipped, Reason: "already triggered for this contact"}, nil
	}

	deps, err := e.rules.DependenciesOf(ctx, orgID, ruleID)
	if err != nil {
		return nil, err
	}

	candidate := time.Now()
	unmet := false
	for _, dep := range deps {
		switch dep.Type {
		case domain.DepBlocks:
			blocked, err := e.rules.HasNonFailedExecution(ctx, dep.DependsOnRuleID, contactID)
			if err != nil {
				return nil, err
			}
			if blocked {
				return &Result{Outcome: OutcomeSkipped, Reason: "blocked by rule " + dep.DependsOnRuleID.String()}, nil
			}
		case domain.DepRequired:
			sentAt, err := e.rules.SentAt(ctx, dep.DependsOnRuleID, contactID)
			if err != nil {
				return nil, err
			}
			if sentAt == nil {
				unmet = true
				continue
			}
			if earliest := sentAt.Add(dep.Delay()); earliest.After(candidate) {
				candidate = earliest
			}
		}
	}

	settings, err := e.hours.LoadOrgSettings(ctx, orgID, e.defaultTTLHours, e.defaultMaxRetries)
	if err != nil {
		return nil, err
	}

	exec := &domain.Execution{
		OrganizationID: orgID,
		RuleID:         ruleID,
		ContactID:      contactID,
		TriggerType:    rule.TriggerType,
		MaxRetries:     settings.DefaultMaxRetry,
		Variant:        pickVariant(rule.Variants, ruleID, contactID),
	}

	if unmet {
		exec.Status = domain.ExecutionPending
		if err := e.rules.CreateExecution(ctx, exec); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomePending, Reason: "waiting on required dependencies", Execution: exec}, nil
	}

	at, err := e.scheduleInstant(ctx, orgID, candidate, settings.OptimizeSendTime)
	if err != nil {
		return nil, err
	}

	exec.Status = domain.ExecutionScheduled
	exec.ScheduledFor = &at
	if err := e.rules.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeScheduled, Execution: exec}, nil
}

// scheduleInstant gates the candidate through business hours and optionally
// lets the optimizer move it. The optimizer's pick is advisory and re-gated,
// so it can never escape the business hours window.
func (e *Evaluator) scheduleInstant(ctx context.Context, orgID uuid.UUID, candidate time.Time, optimize bool) (time.Time, error) {
	schedule, err := e.hours.LoadSchedule(ctx, orgID)
	if err != nil {
		return time.Time{}, err
	}
	gated, err := hours.NextAllowedInstant(schedule, candidate)
	if err != nil {
		return time.Time{}, err
	}

	if optimize && e.opt != nil {
		best, ok, err := e.opt.BestInstantWithin(ctx, orgID, gated, e.horizon)
		if err != nil {
			log.Printf("[Evaluator] Send-time lookup failed for org %s: %v", orgID, err)
		} else if ok {
			regated, err := hours.NextAllowedInstant(schedule, best)
			if err == nil && regated.Equal(best) {
				return best, nil
			}
		}
	}
	return gated, nil
}

// EvaluateEvent fans one contact event out to every active rule of that
// trigger type. Per-rule failures are logged and do not stop the fan-out;
// unsubscribed contacts stop it up front.
func (e *Evaluator) EvaluateEvent(ctx context.Context, orgID, contactID uuid.UUID, trigger domain.TriggerType) ([]Result, error) {
	subscribed, err := e.contacts.IsSubscribed(ctx, orgID, contactID)
	if err != nil {
		return nil, err
	}
	if !subscribed {
		return nil, domain.ErrUnsubscribed
	}

	matched, err := e.rules.ListActiveRulesByTrigger(ctx, orgID, trigger)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, rule := range matched {
		res, err := e.Evaluate(ctx, orgID, rule.ID, contactID)
		if err != nil {
			log.Printf("[Evaluator] Rule %s for contact %s: %v", rule.ID, contactID, err)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// Preview runs a manual-test evaluation: the message is rendered with the
// contact's real attributes but nothing is persisted and nothing is sent.
func (e *Evaluator) Preview(ctx context.Context, orgID, ruleID, contactID uuid.UUID) (*domain.RenderedPreview, error) {
	rule, err := e.rules.GetRule(ctx, orgID, ruleID)
	if err != nil {
		return nil, err
	}
	contact, err := e.contacts.GetContact(ctx, orgID, contactID)
	if err != nil {
		return nil, err
	}

	subject, body, err := e.renderer.RenderMessage(rule.Subject, rule.BodyTemplate, contact.TemplateVars())
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}

	return &domain.RenderedPreview{
		RuleID:    ruleID,
		ContactID: contactID,
		Channel:   rule.Channel,
		Subject:   subject,
		Body:      body,
	}, nil
}

// OnRuleSent chains triggers-type dependents of a completed rule: every rule
// that declared a triggers edge on it is evaluated for the same contact.
func (e *Evaluator) OnRuleSent(ctx context.Context, orgID, ruleID, contactID uuid.UUID) {
	edges, err := e.rules.TriggerEdgesFrom(ctx, orgID, ruleID)
	if err != nil {
		log.Printf("[Evaluator] Trigger edges for rule %s: %v", ruleID, err)
		return
	}
	for _, edge := range edges {
		if _, err := e.Evaluate(ctx, orgID, edge.RuleID, contactID); err != nil {
			log.Printf("[Evaluator] Chained rule %s for contact %s: %v", edge.RuleID, contactID, err)
		}
	}
}

// PromotePending re-checks pending executions and schedules the ones whose
// required dependencies are now satisfied. Returns how many were promoted.
func (e *Evaluator) PromotePending(ctx context.Context, batch int) (int, error) {
	pending, err := e.rules.ListPendingExecutions(ctx, batch)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, exec := range pending {
		deps, err := e.rules.DependenciesOf(ctx, exec.OrganizationID, exec.RuleID)
		if err != nil {
			return promoted, err
		}

		candidate := time.Now()
		satisfied := true
		for _, dep := range deps {
			if dep.Type != domain.DepRequired {
				continue
			}
			sentAt, err := e.rules.SentAt(ctx, dep.DependsOnRuleID, exec.ContactID)
			if err != nil {
				return promoted, err
			}
			if sentAt == nil {
				satisfied = false
				break
			}
			if earliest := sentAt.Add(dep.Delay()); earliest.After(candidate) {
				candidate = earliest
			}
		}
		if !satisfied {
			continue
		}

		settings, err := e.hours.LoadOrgSettings(ctx, exec.OrganizationID, e.defaultTTLHours, e.defaultMaxRetries)
		if err != nil {
			return promoted, err
		}
		at, err := e.scheduleInstant(ctx, exec.OrganizationID, candidate, settings.OptimizeSendTime)
		if err != nil {
			log.Printf("[Evaluator] Promote execution %s: %v", exec.ID, err)
			continue
		}

		ok, err := e.rules.PromoteExecution(ctx, exec.ID, at)
		if err != nil {
			return promoted, err
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}

// pickVariant deterministically assigns an A/B variant so re-evaluating the
// same pair always lands on the same variant.
func pickVariant(variants []string, ruleID, contactID uuid.UUID) string {
	if len(variants) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write(ruleID[:])
	h.Write(contactID[:])
	return variants[h.Sum32()%uint32(len(variants))]
}
