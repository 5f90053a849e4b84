// Package rules persists automation rules, their dependency graph, and rule
// executions. Graph mutations are serialized per organization so the edge set
// stays acyclic under concurrent writers.
package rules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/relaycrm/orchestrator/internal/domain"
)

// Store provides access to rules, dependencies and executions.
type Store struct {
	db          *sql.DB
	redisClient *redis.Client // optional; nil falls back to PG advisory locks
}

// NewStore creates a rules store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetRedisClient enables Redis-backed locking for graph mutations.
func (s *Store) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

// CreateRule inserts a new rule. The ID is assigned when unset.
func (s *Store) CreateRule(ctx context.Context, r *domain.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_rules
			(id, organization_id, name, trigger_type, channel, subject, body_template,
			 from_name, from_address, active, variants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, r.ID, r.OrganizationID, r.Name, r.TriggerType, r.Channel, r.Subject,
		r.BodyTemplate, r.FromName, r.FromAddress, r.Active, pq.Array(r.Variants))
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// GetRule fetches one rule scoped to its organization.
func (s *Store) GetRule(ctx context.Context, orgID, ruleID uuid.UUID) (*domain.Rule, error) {
	r := &domain.Rule{}
	var variants pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, trigger_type, channel,
		       COALESCE(subject, ''), COALESCE(body_template, ''),
		       COALESCE(from_name, ''), COALESCE(from_address, ''),
		       active, variants, triggered_count, sent_count, failed_count,
		       created_at, updated_at
		FROM orch_rules
		WHERE id = $1 AND organization_id = $2
	`, ruleID, orgID).Scan(
		&r.ID, &r.OrganizationID, &r.Name, &r.TriggerType, &r.Channel,
		&r.Subject, &r.BodyTemplate, &r.FromName, &r.FromAddress,
		&r.Active, &variants, &r.TriggeredCount, &r.SentCount, &r.FailedCount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	r.Variants = variants
	return r, nil
}

// ListRules returns all rules for an organization, active first.
func (s *Store) ListRules(ctx context.Context, orgID uuid.UUID) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger_type, channel,
		       COALESCE(subject, ''), COALESCE(body_template, ''),
		       COALESCE(from_name, ''), COALESCE(from_address, ''),
		       active, variants, triggered_count, sent_count, failed_count,
		       created_at, updated_at
		FROM orch_rules
		WHERE organization_id = $1
		ORDER BY active DESC, created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var variants pq.StringArray
		if err := rows.Scan(
			&r.ID, &r.OrganizationID, &r.Name, &r.TriggerType, &r.Channel,
			&r.Subject, &r.BodyTemplate, &r.FromName, &r.FromAddress,
			&r.Active, &variants, &r.TriggeredCount, &r.SentCount, &r.FailedCount,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.Variants = variants
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListActiveRulesByTrigger returns the active rules of an organization that
// fire on the given trigger type.
func (s *Store) ListActiveRulesByTrigger(ctx context.Context, orgID uuid.UUID, trigger domain.TriggerType) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, trigger_type, channel,
		       COALESCE(subject, ''), COALESCE(body_template, ''),
		       COALESCE(from_name, ''), COALESCE(from_address, ''),
		       active, variants, triggered_count, sent_count, failed_count,
		       created_at, updated_at
		FROM orch_rules
		WHERE organization_id = $1 AND trigger_type = $2 AND active = true
		ORDER BY created_at ASC
	`, orgID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list rules by trigger: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var variants pq.StringArray
		if err := rows.Scan(
			&r.ID, &r.OrganizationID, &r.Name, &r.TriggerType, &r.Channel,
			&r.Subject, &r.BodyTemplate, &r.FromName, &r.FromAddress,
			&r.Active, &variants, &r.TriggeredCount, &r.SentCount, &r.FailedCount,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.Variants = variants
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRuleActive soft-enables or soft-disables a rule. Rules referenced by
// dependencies are disabled this way, never deleted.
func (s *Store) SetRuleActive(ctx context.Context, orgID, ruleID uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_rules SET active = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
	`, ruleID, orgID, active)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// bumpRuleCounter increments one of the rule's running counters. col must be
// one of the fixed counter column names; it is never caller-supplied.
func (s *Store) bumpRuleCounter(ctx context.Context, ruleID uuid.UUID, col string) {
	query := fmt.Sprintf(`UPDATE orch_rules SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, col, col)
	s.db.ExecContext(ctx, query, ruleID)
}
