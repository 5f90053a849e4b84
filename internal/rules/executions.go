package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// ExecutionJob is a claimed due execution joined with the rule content the
// executor needs to render and send, so the hot path is a single query.
type ExecutionJob struct {
	Execution domain.Execution
	Channel   domain.Channel
	Subject   string
	Body      string
	FromName  string
	FromAddr  string
}

// CreateExecution inserts an execution row and bumps the rule's triggered
// counter. The ID is assigned when unset.
func (s *Store) CreateExecution(ctx context.Context, e *domain.Execution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_executions
			(id, organization_id, rule_id, contact_id, trigger_type, status,
			 scheduled_for, retry_count, max_retries, variant, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, e.ID, e.OrganizationID, e.RuleID, e.ContactID, e.TriggerType, e.Status,
		e.ScheduledFor, e.RetryCount, e.MaxRetries, nullIfEmpty(e.Variant))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	s.bumpRuleCounter(ctx, e.RuleID, "triggered_count")
	return nil
}

// GetExecution fetches one execution scoped to its organization.
func (s *Store) GetExecution(ctx context.Context, orgID, execID uuid.UUID) (*domain.Execution, error) {
	e := &domain.Execution{}
	var variant, errMsg, convType, claimedBy sql.NullString
	var convValue sql.NullFloat64
	var claimedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, rule_id, contact_id, trigger_type, status,
		       scheduled_for, sent_at, error_message, retry_count, max_retries,
		       variant, conversion_type, conversion_value, claimed_at, claimed_by,
		       created_at, updated_at
		FROM orch_executions
		WHERE id = $1 AND organization_id = $2
	`, execID, orgID).Scan(
		&e.ID, &e.OrganizationID, &e.RuleID, &e.ContactID, &e.TriggerType, &e.Status,
		&e.ScheduledFor, &e.SentAt, &errMsg, &e.RetryCount, &e.MaxRetries,
		&variant, &convType, &convValue, &claimedAt, &claimedBy,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	e.ErrorMessage = errMsg.String
	e.Variant = variant.String
	e.ConversionType = convType.String
	if convValue.Valid {
		v := convValue.Float64
		e.ConversionValue = &v
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		e.ClaimedAt = &t
	}
	e.ClaimedBy = claimedBy.String
	return e, nil
}

// HasNonFailedExecution reports whether the (rule, contact) pair already has
// an execution in any state other than failed. Used both for blocks-type
// dependencies and for duplicate-trigger suppression.
func (s *Store) HasNonFailedExecution(ctx context.Context, ruleID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orch_executions
			WHERE rule_id = $1 AND contact_id = $2 AND status <> 'failed'
		)
	`, ruleID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing execution: %w", err)
	}
	return exists, nil
}

// SentAt returns when the (rule, contact) pair's execution was sent, or
// (nil, nil) when no sent execution exists yet.
func (s *Store) SentAt(ctx context.Context, ruleID, contactID uuid.UUID) (*time.Time, error) {
	var sentAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM orch_executions
		WHERE rule_id = $1 AND contact_id = $2 AND status = 'sent' AND sent_at IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT 1
	`, ruleID, contactID).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sent_at: %w", err)
	}
	return &sentAt, nil
}

// ClaimDueExecutions atomically claims up to limit due executions by moving
// them scheduled -> sending, then joins the rule content the executor needs.
// FOR UPDATE SKIP LOCKED keeps overlapping sweeps from claiming the same row.
func (s *Store) ClaimDueExecutions(ctx context.Context, workerID string, limit int) ([]ExecutionJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE orch_executions
			SET status = 'sending', claimed_at = NOW(), claimed_by = $1, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM orch_executions
				WHERE status = 'scheduled' AND scheduled_for <= NOW()
				ORDER BY scheduled_for ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, organization_id, rule_id, contact_id, trigger_type,
			          scheduled_for, retry_count, max_retries, variant
		)
		SELECT c.id, c.organization_id, c.rule_id, c.contact_id, c.trigger_type,
		       c.scheduled_for, c.retry_count, c.max_retries, COALESCE(c.variant, ''),
		       r.channel, COALESCE(r.subject, ''), COALESCE(r.body_template, ''),
		       COALESCE(r.from_name, ''), COALESCE(r.from_address, '')
		FROM claimed c
		JOIN orch_rules r ON r.id = c.rule_id
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim executions: %w", err)
	}
	defer rows.Close()

	var jobs []ExecutionJob
	for rows.Next() {
		var j ExecutionJob
		if err := rows.Scan(
			&j.Execution.ID, &j.Execution.OrganizationID, &j.Execution.RuleID,
			&j.Execution.ContactID, &j.Execution.TriggerType,
			&j.Execution.ScheduledFor, &j.Execution.RetryCount, &j.Execution.MaxRetries,
			&j.Execution.Variant,
			&j.Channel, &j.Subject, &j.Body, &j.FromName, &j.FromAddr,
		); err != nil {
			return nil, err
		}
		j.Execution.Status = domain.ExecutionSending
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkExecutionSent finalizes a successful attempt and bumps the rule's sent
// counter.
func (s *Store) MarkExecutionSent(ctx context.Context, execID, ruleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions
		SET status = 'sent', sent_at = NOW(), error_message = NULL,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, execID)
	if err != nil {
		return fmt.Errorf("mark execution sent: %w", err)
	}
	s.bumpRuleCounter(ctx, ruleID, "sent_count")
	return nil
}

// RescheduleExecution returns a transiently failed attempt to the queue with
// an incremented retry count and a later scheduled_for.
func (s *Store) RescheduleExecution(ctx context.Context, execID uuid.UUID, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions
		SET status = 'scheduled', scheduled_for = $2, error_message = $3,
		    retry_count = retry_count + 1,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, execID, at, errMsg)
	if err != nil {
		return fmt.Errorf("reschedule execution: %w", err)
	}
	return nil
}

// FailExecution terminally fails an execution and bumps the rule's failed
// counter. Every terminal failure carries a human-readable message.
func (s *Store) FailExecution(ctx context.Context, execID, ruleID uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions
		SET status = 'failed', error_message = $2,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('sending', 'pending', 'scheduled')
	`, execID, errMsg)
	if err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	s.bumpRuleCounter(ctx, ruleID, "failed_count")
	return nil
}

// ListPendingExecutions returns executions still waiting on required
// dependencies, oldest first, for the sweep's promotion pass.
func (s *Store) ListPendingExecutions(ctx context.Context, limit int) ([]domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, rule_id, contact_id, trigger_type,
		       retry_count, max_retries, COALESCE(variant, ''), created_at
		FROM orch_executions
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.RuleID, &e.ContactID,
			&e.TriggerType, &e.RetryCount, &e.MaxRetries, &e.Variant, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.ExecutionPending
		out = append(out, e)
	}
	return out, rows.Err()
}

// PromoteExecution moves a pending execution to scheduled once its required
// dependencies are satisfied. Conditional on status so a concurrent expiry
// cannot be overwritten.
func (s *Store) PromoteExecution(ctx context.Context, execID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions
		SET status = 'scheduled', scheduled_for = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, execID, at)
	if err != nil {
		return false, fmt.Errorf("promote execution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpirePendingExecutions fails pending executions older than the
// organization's dependency TTL (falling back to defaultTTLHours). Returns
// how many rows were expired.
func (s *Store) ExpirePendingExecutions(ctx context.Context, defaultTTLHours int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions e
		SET status = 'failed',
		    error_message = 'dependency wait timed out',
		    updated_at = NOW()
		WHERE e.status = 'pending'
		  AND e.created_at < NOW() - make_interval(hours =>
			COALESCE((SELECT s.dependency_ttl_hours FROM orch_org_settings s
			          WHERE s.organization_id = e.organization_id), $1))
	`, defaultTTLHours)
	if err != nil {
		return 0, fmt.Errorf("expire pending executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecoverStaleExecutions requeues executions claimed longer than staleAge ago
// whose worker likely crashed, and terminally fails the ones already out of
// retries. Returns (requeued, failed).
func (s *Store) RecoverStaleExecutions(ctx context.Context, staleAge time.Duration) (int64, int64, error) {
	requeued, err := s.execRows(ctx, `
		UPDATE orch_executions
		SET status = 'scheduled', scheduled_for = NOW(),
		    retry_count = retry_count + 1,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count < max_retries
	`, staleAge.String())
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale executions: %w", err)
	}

	// Exhausted stale claims go through FailExecution so the rule's failed
	// counter stays in step with its executions.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id FROM orch_executions
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count >= max_retries
	`, staleAge.String())
	if err != nil {
		return requeued, 0, fmt.Errorf("find exhausted stale executions: %w", err)
	}
	defer rows.Close()

	type exhaustedExec struct {
		id     uuid.UUID
		ruleID uuid.UUID
	}
	var exhausted []exhaustedExec
	for rows.Next() {
		var e exhaustedExec
		if err := rows.Scan(&e.id, &e.ruleID); err != nil {
			return requeued, 0, err
		}
		exhausted = append(exhausted, e)
	}
	if err := rows.Err(); err != nil {
		return requeued, 0, err
	}

	var failed int64
	for _, e := range exhausted {
		if err := s.FailExecution(ctx, e.id, e.ruleID, "worker lost mid-attempt, retries exhausted"); err != nil {
			return requeued, failed, err
		}
		failed++
	}
	return requeued, failed, nil
}

// RecordConversion attaches an external conversion event to an execution.
func (s *Store) RecordConversion(ctx context.Context, orgID, execID uuid.UUID, convType string, value float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_executions
		SET conversion_type = $3, conversion_value = $4, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
	`, execID, orgID, convType, value)
	if err != nil {
		return fmt.Errorf("record conversion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListExecutions returns an organization's executions, optionally filtered by
// status, newest first.
func (s *Store) ListExecutions(ctx context.Context, orgID uuid.UUID, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, organization_id, rule_id, contact_id, trigger_type, status,
		       scheduled_for, sent_at, COALESCE(error_message, ''),
		       retry_count, max_retries, COALESCE(variant, ''), created_at, updated_at
		FROM orch_executions
		WHERE organization_id = $1`
	args := []interface{}{orgID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.RuleID, &e.ContactID,
			&e.TriggerType, &e.Status, &e.ScheduledFor, &e.SentAt, &e.ErrorMessage,
			&e.RetryCount, &e.MaxRetries, &e.Variant, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) execRows(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
