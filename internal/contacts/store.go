// Package contacts reads the CRM contact projection the orchestrator needs
// for addressing, subscription checks and template variables.
package contacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// Store reads contact rows. The orchestrator only ever writes the
// subscription flag; everything else belongs to the CRM.
type Store struct {
	db *sql.DB
}

// NewStore creates a contact store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetContact fetches one contact scoped to its organization.
func (s *Store) GetContact(ctx context.Context, orgID, contactID uuid.UUID) (*domain.Contact, error) {
	c := &domain.Contact{}
	var attrs []byte
	var unsubAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, COALESCE(email, ''), COALESCE(phone, ''),
		       COALESCE(first_name, ''), COALESCE(last_name, ''),
		       COALESCE(attributes, '{}'::jsonb), subscribed, unsubscribed_at,
		       created_at, updated_at
		FROM orch_contacts
		WHERE id = $1 AND organization_id = $2
	`, contactID, orgID).Scan(
		&c.ID, &c.OrganizationID, &c.Email, &c.Phone,
		&c.FirstName, &c.LastName, &attrs, &c.Subscribed, &unsubAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("decode contact attributes: %w", err)
		}
	}
	if unsubAt.Valid {
		t := unsubAt.Time
		c.UnsubscribedAt = &t
	}
	return c, nil
}

// UpsertContact inserts or refreshes the projection row for a contact. Used
// by the CRM sync path and by tests.
func (s *Store) UpsertContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("encode contact attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orch_contacts
			(id, organization_id, email, phone, first_name, last_name,
			 attributes, subscribed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			attributes = EXCLUDED.attributes,
			subscribed = EXCLUDED.subscribed,
			updated_at = NOW()
	`, c.ID, c.OrganizationID, c.Email, c.Phone, c.FirstName, c.LastName,
		attrs, c.Subscribed)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// SetSubscribed flips the subscription flag. Unsubscribing stamps the time;
// resubscribing clears it.
func (s *Store) SetSubscribed(ctx context.Context, orgID, contactID uuid.UUID, subscribed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_contacts
		SET subscribed = $3,
		    unsubscribed_at = CASE WHEN $3 THEN NULL ELSE NOW() END,
		    updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
	`, contactID, orgID, subscribed)
	if err != nil {
		return fmt.Errorf("set subscribed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IsSubscribed is the cheap check the evaluator runs before anything else.
func (s *Store) IsSubscribed(ctx context.Context, orgID, contactID uuid.UUID) (bool, error) {
	var subscribed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT subscribed FROM orch_contacts
		WHERE id = $1 AND organization_id = $2
	`, contactID, orgID).Scan(&subscribed)
	if err == sql.ErrNoRows {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return subscribed, nil
}
