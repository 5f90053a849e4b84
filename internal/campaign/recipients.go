package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// RecipientJob is a claimed recipient joined with its campaign's content so
// the executor can render and send without extra lookups.
type RecipientJob struct {
	Recipient domain.CampaignRecipient
	Channel   domain.Channel
	Subject   string
	Body      string
	FromName  string
	FromAddr  string
}

// ClaimDueRecipients atomically claims up to limit recipients of sending
// campaigns: pending rows, plus retrying rows whose backoff has elapsed.
func (s *Store) ClaimDueRecipients(ctx context.Context, workerID string, limit int) ([]RecipientJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE orch_campaign_recipients
			SET status = 'sending', claimed_at = NOW(), claimed_by = $1, updated_at = NOW()
			WHERE id IN (
				SELECT r.id
				FROM orch_campaign_recipients r
				JOIN orch_campaigns c ON c.id = r.campaign_id
				WHERE c.status = 'sending'
				  AND (r.status = 'pending'
				       OR (r.status = 'retrying' AND r.next_attempt_at <= NOW()))
				ORDER BY r.created_at ASC
				LIMIT $2
				FOR UPDATE OF r SKIP LOCKED
			)
			RETURNING id, campaign_id, organization_id, contact_id, address,
			          retry_count, max_retries
		)
		SELECT cl.id, cl.campaign_id, cl.organization_id, cl.contact_id, cl.address,
		       cl.retry_count, cl.max_retries,
		       c.channel, COALESCE(c.subject, ''), COALESCE(c.body_template, ''),
		       COALESCE(c.from_name, ''), COALESCE(c.from_address, '')
		FROM claimed cl
		JOIN orch_campaigns c ON c.id = cl.campaign_id
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim recipients: %w", err)
	}
	defer rows.Close()

	var jobs []RecipientJob
	for rows.Next() {
		var j RecipientJob
		if err := rows.Scan(
			&j.Recipient.ID, &j.Recipient.CampaignID, &j.Recipient.OrganizationID,
			&j.Recipient.ContactID, &j.Recipient.Address,
			&j.Recipient.RetryCount, &j.Recipient.MaxRetries,
			&j.Channel, &j.Subject, &j.Body, &j.FromName, &j.FromAddr,
		); err != nil {
			return nil, err
		}
		j.Recipient.Status = domain.RecipientSending
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkRecipientSent finalizes a successful delivery. The transition is
// conditional on the worker still owning the claim; if the campaign was
// cancelled mid-flight the update affects nothing and the recipient stays
// cancelled.
func (s *Store) MarkRecipientSent(ctx context.Context, recipientID uuid.UUID, providerMessageID string) error {
	return s.finalizeRecipient(ctx, recipientID, func(tx *sql.Tx) (uuid.UUID, bool, error) {
		var campaignID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			UPDATE orch_campaign_recipients
			SET status = 'sent', sent_at = NOW(), provider_message_id = $2,
			    error_message = NULL, next_attempt_at = NULL,
			    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'sending'
			RETURNING campaign_id
		`, recipientID, providerMessageID).Scan(&campaignID)
		if err == sql.ErrNoRows {
			return uuid.Nil, false, nil
		}
		if err != nil {
			return uuid.Nil, false, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orch_campaigns
			SET sent_count = sent_count + 1,
			    pending_count = pending_count - 1,
			    updated_at = NOW()
			WHERE id = $1
		`, campaignID)
		return campaignID, true, err
	})
}

// MarkRecipientRetrying records a transient failure and schedules the next
// attempt. The recipient stays in the pending bucket of the aggregate.
func (s *Store) MarkRecipientRetrying(ctx context.Context, recipientID uuid.UUID, nextAttempt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_campaign_recipients
		SET status = 'retrying', retry_count = retry_count + 1,
		    next_attempt_at = $2, error_message = $3,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, recipientID, nextAttempt, errMsg)
	if err != nil {
		return fmt.Errorf("mark recipient retrying: %w", err)
	}
	return nil
}

// MarkRecipientPermanentlyFailed terminally fails a recipient, either on a
// permanent provider error or on retry exhaustion.
func (s *Store) MarkRecipientPermanentlyFailed(ctx context.Context, recipientID uuid.UUID, errMsg string) error {
	return s.finalizeRecipient(ctx, recipientID, func(tx *sql.Tx) (uuid.UUID, bool, error) {
		var campaignID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			UPDATE orch_campaign_recipients
			SET status = 'permanently_failed', error_message = $2,
			    next_attempt_at = NULL,
			    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'sending'
			RETURNING campaign_id
		`, recipientID, errMsg).Scan(&campaignID)
		if err == sql.ErrNoRows {
			return uuid.Nil, false, nil
		}
		if err != nil {
			return uuid.Nil, false, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orch_campaigns
			SET failed_count = failed_count + 1,
			    pending_count = pending_count - 1,
			    updated_at = NOW()
			WHERE id = $1
		`, campaignID)
		return campaignID, true, err
	})
}

// MarkRecipientBounced fails an already-delivered recipient after the
// provider reports an asynchronous bounce, resolved by the provider message ID
// recorded at send time. The sent and failed counters move together so the
// aggregate invariant holds; the campaign's final status is not revisited.
func (s *Store) MarkRecipientBounced(ctx context.Context, orgID uuid.UUID, providerMessageID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE orch_campaign_recipients
		SET status = 'permanently_failed', error_message = $3, updated_at = NOW()
		WHERE organization_id = $1 AND provider_message_id = $2 AND status = 'sent'
		RETURNING campaign_id
	`, orgID, providerMessageID, reason).Scan(&campaignID)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark recipient bounced: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orch_campaigns
		SET sent_count = sent_count - 1,
		    failed_count = failed_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, campaignID); err != nil {
		return fmt.Errorf("mark recipient bounced: %w", err)
	}
	return tx.Commit()
}

// CancelRecipient cancels one recipient that has not reached a terminal
// state. Idempotent: cancelling an already-cancelled recipient is a no-op.
func (s *Store) CancelRecipient(ctx context.Context, orgID, recipientID uuid.UUID) error {
	return s.finalizeRecipient(ctx, recipientID, func(tx *sql.Tx) (uuid.UUID, bool, error) {
		var current domain.RecipientStatus
		var campaignID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			SELECT status, campaign_id FROM orch_campaign_recipients
			WHERE id = $1 AND organization_id = $2
			FOR UPDATE
		`, recipientID, orgID).Scan(&current, &campaignID)
		if err == sql.ErrNoRows {
			return uuid.Nil, false, domain.ErrNotFound
		}
		if err != nil {
			return uuid.Nil, false, err
		}
		if current == domain.RecipientCancelled {
			return uuid.Nil, false, nil
		}
		if current.IsTerminal() {
			return uuid.Nil, false, fmt.Errorf("recipient %s already %s", recipientID, current)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orch_campaign_recipients
			SET status = 'cancelled', next_attempt_at = NULL,
			    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
			WHERE id = $1
		`, recipientID)
		if err != nil {
			return uuid.Nil, false, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orch_campaigns
			SET failed_count = failed_count + 1,
			    pending_count = pending_count - 1,
			    updated_at = NOW()
			WHERE id = $1
		`, campaignID)
		return campaignID, true, err
	})
}

// RecoverStaleRecipients requeues recipients whose claiming worker went away:
// back to retrying when budget remains, permanently failed otherwise.
// Returns (requeued, failed).
func (s *Store) RecoverStaleRecipients(ctx context.Context, staleAge time.Duration) (int64, int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_campaign_recipients
		SET status = 'retrying', retry_count = retry_count + 1,
		    next_attempt_at = NOW(),
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count < max_retries
	`, staleAge.String())
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale recipients: %w", err)
	}
	requeued, _ := res.RowsAffected()

	// Exhausted stale claims need the counter adjustment, so they go through
	// the transactional path one by one.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orch_campaign_recipients
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count >= max_retries
	`, staleAge.String())
	if err != nil {
		return requeued, 0, fmt.Errorf("find exhausted stale recipients: %w", err)
	}
	defer rows.Close()

	var exhausted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return requeued, 0, err
		}
		exhausted = append(exhausted, id)
	}
	if err := rows.Err(); err != nil {
		return requeued, 0, err
	}

	var failed int64
	for _, id := range exhausted {
		if err := s.MarkRecipientPermanentlyFailed(ctx, id, "worker lost mid-attempt, retries exhausted"); err != nil {
			return requeued, failed, err
		}
		failed++
	}
	return requeued, failed, nil
}

// ListRecipients returns a campaign's recipients, oldest first.
func (s *Store) ListRecipients(ctx context.Context, orgID, campaignID uuid.UUID, limit int) ([]domain.CampaignRecipient, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, organization_id, contact_id, address, status,
		       retry_count, max_retries, COALESCE(error_message, ''),
		       COALESCE(provider_message_id, ''), next_attempt_at, sent_at,
		       created_at, updated_at
		FROM orch_campaign_recipients
		WHERE campaign_id = $1 AND organization_id = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, campaignID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignRecipient
	for rows.Next() {
		var r domain.CampaignRecipient
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.OrganizationID, &r.ContactID,
			&r.Address, &r.Status, &r.RetryCount, &r.MaxRetries, &r.ErrorMessage,
			&r.ProviderMessageID, &r.NextAttemptAt, &r.SentAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// finalizeRecipient runs a recipient transition and, when it changed a
// counter, completes the campaign if no recipients remain pending.
func (s *Store) finalizeRecipient(ctx context.Context, recipientID uuid.UUID, transition func(tx *sql.Tx) (uuid.UUID, bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	campaignID, changed, err := transition(tx)
	if err != nil {
		return fmt.Errorf("recipient %s transition: %w", recipientID, err)
	}
	if changed {
		if err := completeIfDrained(ctx, tx, campaignID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// completeIfDrained moves a sending campaign with an empty pending bucket to
// its final state: failed when nothing was delivered at all, completed
// otherwise.
func completeIfDrained(ctx context.Context, tx *sql.Tx, campaignID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orch_campaigns
		SET status = CASE WHEN sent_count = 0 AND failed_count > 0 THEN 'failed' ELSE 'completed' END,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'sending' AND pending_count = 0
	`, campaignID)
	if err != nil {
		return fmt.Errorf("complete campaign %s: %w", campaignID, err)
	}
	return nil
}
