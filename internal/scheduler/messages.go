package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// MessageStore persists one-off scheduled messages.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a scheduled-message store.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// CreateMessage schedules a one-off message. The ID is assigned when unset.
func (s *MessageStore) CreateMessage(ctx context.Context, m *domain.ScheduledMessage) error {
	if m.ContactID == uuid.Nil && m.Address == "" {
		return fmt.Errorf("scheduled message needs a contact or an address")
	}
	if !m.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", m.Channel)
	}
	if m.ScheduledFor.IsZero() {
		return fmt.Errorf("scheduled_for is required")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Status = domain.ExecutionScheduled
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_scheduled_messages
			(id, organization_id, contact_id, channel, address, subject,
			 body_template, from_name, from_address, status, scheduled_for,
			 retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'scheduled', $10, 0, $11, NOW(), NOW())
	`, m.ID, m.OrganizationID, m.ContactID, m.Channel, m.Address, m.Subject,
		m.BodyTemplate, m.FromName, m.FromAddress, m.ScheduledFor, m.MaxRetries)
	if err != nil {
		return fmt.Errorf("create scheduled message: %w", err)
	}
	return nil
}

// CancelMessage drops a scheduled message before it is claimed.
func (s *MessageStore) CancelMessage(ctx context.Context, orgID, msgID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orch_scheduled_messages
		WHERE id = $1 AND organization_id = $2 AND status = 'scheduled'
	`, msgID, orgID)
	if err != nil {
		return fmt.Errorf("cancel scheduled message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimDueMessages atomically claims up to limit due messages.
func (s *MessageStore) ClaimDueMessages(ctx context.Context, workerID string, limit int) ([]domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'sending', claimed_at = NOW(), claimed_by = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM orch_scheduled_messages
			WHERE status = 'scheduled' AND scheduled_for <= NOW()
			ORDER BY scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, organization_id, contact_id, channel, COALESCE(address, ''),
		          COALESCE(subject, ''), COALESCE(body_template, ''),
		          COALESCE(from_name, ''), COALESCE(from_address, ''),
		          scheduled_for, retry_count, max_retries
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledMessage
	for rows.Next() {
		var m domain.ScheduledMessage
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.ContactID, &m.Channel, &m.Address,
			&m.Subject, &m.BodyTemplate, &m.FromName, &m.FromAddress,
			&m.ScheduledFor, &m.RetryCount, &m.MaxRetries); err != nil {
			return nil, err
		}
		m.Status = domain.ExecutionSending
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageSent finalizes a delivered message.
func (s *MessageStore) MarkMessageSent(ctx context.Context, msgID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'sent', sent_at = NOW(), error_message = NULL,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, msgID)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// RescheduleMessage requeues a transiently failed message for a later
// attempt.
func (s *MessageStore) RescheduleMessage(ctx context.Context, msgID uuid.UUID, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'scheduled', scheduled_for = $2, error_message = $3,
		    retry_count = retry_count + 1,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, msgID, at, errMsg)
	if err != nil {
		return fmt.Errorf("reschedule message: %w", err)
	}
	return nil
}

// FailMessage terminally fails a message.
func (s *MessageStore) FailMessage(ctx context.Context, msgID uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'failed', error_message = $2,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('sending', 'scheduled')
	`, msgID, errMsg)
	if err != nil {
		return fmt.Errorf("fail message: %w", err)
	}
	return nil
}

// RecoverStaleMessages requeues messages whose claiming worker went away,
// failing the ones out of retries. Returns (requeued, failed).
func (s *MessageStore) RecoverStaleMessages(ctx context.Context, staleAge time.Duration) (int64, int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'scheduled', scheduled_for = NOW(),
		    retry_count = retry_count + 1,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count < max_retries
	`, staleAge.String())
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale messages: %w", err)
	}
	requeued, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE orch_scheduled_messages
		SET status = 'failed',
		    error_message = 'worker lost mid-attempt, retries exhausted',
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE status = 'sending'
		  AND claimed_at < NOW() - $1::interval
		  AND retry_count >= max_retries
	`, staleAge.String())
	if err != nil {
		return requeued, 0, fmt.Errorf("fail stale messages: %w", err)
	}
	failed, _ := res.RowsAffected()
	return requeued, failed, nil
}
