// Package campaign persists bulk campaigns and their per-recipient delivery
// state machine. Every recipient transition updates the campaign's aggregate
// counters in the same transaction, so sent+failed+pending == total holds at
// every commit point.
package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// Store provides access to campaigns and campaign recipients.
type Store struct {
	db *sql.DB
}

// NewStore creates a campaign store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateCampaign inserts a draft campaign. The ID is assigned when unset.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = domain.CampaignDraft
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_campaigns
			(id, organization_id, name, channel, subject, body_template,
			 from_name, from_address, status, scheduled_at,
			 total_recipients, sent_count, failed_count, pending_count,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'draft', $9, 0, 0, 0, 0, NOW(), NOW())
	`, c.ID, c.OrganizationID, c.Name, c.Channel, c.Subject, c.BodyTemplate,
		c.FromName, c.FromAddress, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign fetches one campaign scoped to its organization.
func (s *Store) GetCampaign(ctx context.Context, orgID, campaignID uuid.UUID) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, channel,
		       COALESCE(subject, ''), COALESCE(body_template, ''),
		       COALESCE(from_name, ''), COALESCE(from_address, ''),
		       status, scheduled_at,
		       total_recipients, sent_count, failed_count, pending_count,
		       started_at, completed_at, created_at, updated_at
		FROM orch_campaigns
		WHERE id = $1 AND organization_id = $2
	`, campaignID, orgID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Channel,
		&c.Subject, &c.BodyTemplate, &c.FromName, &c.FromAddress,
		&c.Status, &c.ScheduledAt,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.PendingCount,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns an organization's campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, channel,
		       COALESCE(subject, ''), COALESCE(body_template, ''),
		       COALESCE(from_name, ''), COALESCE(from_address, ''),
		       status, scheduled_at,
		       total_recipients, sent_count, failed_count, pending_count,
		       started_at, completed_at, created_at, updated_at
		FROM orch_campaigns
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.Channel,
			&c.Subject, &c.BodyTemplate, &c.FromName, &c.FromAddress,
			&c.Status, &c.ScheduledAt,
			&c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.PendingCount,
			&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EnqueueRecipients adds recipients to a draft or scheduled campaign and
// bumps total/pending counters in the same transaction. Recipients start in
// pending with the given per-recipient retry budget.
func (s *Store) EnqueueRecipients(ctx context.Context, orgID, campaignID uuid.UUID, recipients []domain.CampaignRecipient, maxRetries int) error {
	if len(recipients) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status domain.CampaignStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orch_campaigns
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, campaignID, orgID).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign: %w", err)
	}
	if status != domain.CampaignDraft && status != domain.CampaignScheduled {
		return fmt.Errorf("campaign %s is %s, recipients can only be added before sending starts", campaignID, status)
	}

	for i := range recipients {
		r := &recipients[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.MaxRetries == 0 {
			r.MaxRetries = maxRetries
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orch_campaign_recipients
				(id, campaign_id, organization_id, contact_id, address, status,
				 retry_count, max_retries, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, NOW(), NOW())
		`, r.ID, campaignID, orgID, r.ContactID, r.Address, r.MaxRetries)
		if err != nil {
			return fmt.Errorf("insert recipient %s: %w", r.Address, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orch_campaigns
		SET total_recipients = total_recipients + $2,
		    pending_count = pending_count + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, campaignID, len(recipients))
	if err != nil {
		return fmt.Errorf("bump campaign counters: %w", err)
	}

	return tx.Commit()
}

// ScheduleCampaign moves a draft campaign to scheduled at the given instant.
func (s *Store) ScheduleCampaign(ctx context.Context, orgID, campaignID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_campaigns
		SET status = 'scheduled', scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status = 'draft'
	`, campaignID, orgID, at)
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s is not a schedulable draft", campaignID)
	}
	return nil
}

// ClaimDueCampaigns flips due scheduled campaigns to sending so their
// recipients become claimable. Returns the IDs that were started.
func (s *Store) ClaimDueCampaigns(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE orch_campaigns
		SET status = 'sending', started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM orch_campaigns
			WHERE status = 'scheduled' AND scheduled_at <= NOW()
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due campaigns: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CancelCampaign cancels a campaign and every recipient not yet in a terminal
// state, including in-flight sending claims: a cancelled recipient stays
// cancelled even if a worker's provider call succeeds after the fact.
// Idempotent; cancelling an already-cancelled campaign is a no-op.
func (s *Store) CancelCampaign(ctx context.Context, orgID, campaignID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status domain.CampaignStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orch_campaigns
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, campaignID, orgID).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign: %w", err)
	}
	if status == domain.CampaignCancelled {
		return tx.Commit()
	}
	if status.IsTerminal() {
		return fmt.Errorf("campaign %s already %s", campaignID, status)
	}

	// Cancelled recipients leave the pending bucket and count as failed in
	// the aggregate, keeping sent+failed+pending == total.
	res, err := tx.ExecContext(ctx, `
		UPDATE orch_campaign_recipients
		SET status = 'cancelled', claimed_at = NULL, claimed_by = NULL,
		    next_attempt_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND status IN ('pending', 'retrying', 'sending')
	`, campaignID)
	if err != nil {
		return fmt.Errorf("cancel recipients: %w", err)
	}
	cancelled, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE orch_campaigns
		SET status = 'cancelled',
		    failed_count = failed_count + $2,
		    pending_count = pending_count - $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, campaignID, cancelled)
	if err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}

	return tx.Commit()
}
