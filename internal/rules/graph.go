package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/pkg/distlock"
)

// graphLockTTL bounds how long a graph mutation may hold the per-org lock.
const graphLockTTL = 10 * time.Second

// graphLockRetries is how many times AddDependency re-attempts the lock
// before giving up.
const graphLockRetries = 20

// AddDependency inserts a directed edge (rule -> dependsOn) after verifying
// the edge does not close a cycle. The check and the insert run under a
// per-organization distributed lock, so two concurrent inserts that are each
// individually cycle-free cannot jointly close a cycle. On rejection nothing
// is persisted and domain.ErrCircularDependency is returned.
func (s *Store) AddDependency(ctx context.Context, dep *domain.RuleDependency) error {
	if !dep.Type.Valid() {
		return fmt.Errorf("unknown dependency type %q", dep.Type)
	}
	if dep.DelayMinutes < 0 {
		return fmt.Errorf("delay_minutes must be >= 0")
	}
	if dep.RuleID == dep.DependsOnRuleID {
		return domain.ErrCircularDependency
	}
	if dep.ID == uuid.Nil {
		dep.ID = uuid.New()
	}

	lock := distlock.New(s.redisClient, s.db, fmt.Sprintf("rulegraph:%s", dep.OrganizationID), graphLockTTL)
	acquired := false
	for i := 0; i < graphLockRetries; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire graph lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !acquired {
		return fmt.Errorf("rule graph for org %s is busy", dep.OrganizationID)
	}
	defer lock.Release(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Reachability from dependsOn back to rule over existing edges. The edge
	// set is small per organization, so on-demand traversal of the flat edge
	// rows is fine.
	var cyclic bool
	err = tx.QueryRowContext(ctx, `
		WITH RECURSIVE reach(id) AS (
			SELECT depends_on_rule_id
			FROM orch_rule_dependencies
			WHERE organization_id = $1 AND rule_id = $2
			UNION
			SELECT d.depends_on_rule_id
			FROM orch_rule_dependencies d
			JOIN reach r ON d.rule_id = r.id
			WHERE d.organization_id = $1
		)
		SELECT EXISTS (SELECT 1 FROM reach WHERE id = $3)
	`, dep.OrganizationID, dep.DependsOnRuleID, dep.RuleID).Scan(&cyclic)
	if err != nil {
		return fmt.Errorf("cycle check: %w", err)
	}
	if cyclic {
		return domain.ErrCircularDependency
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orch_rule_dependencies
			(id, organization_id, rule_id, depends_on_rule_id, dep_type, delay_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (rule_id, depends_on_rule_id) DO UPDATE SET
			dep_type = EXCLUDED.dep_type,
			delay_minutes = EXCLUDED.delay_minutes
	`, dep.ID, dep.OrganizationID, dep.RuleID, dep.DependsOnRuleID, dep.Type, dep.DelayMinutes)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}

	return tx.Commit()
}

// RemoveDependency deletes an edge unconditionally.
func (s *Store) RemoveDependency(ctx context.Context, orgID, ruleID, dependsOnID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orch_rule_dependencies
		WHERE organization_id = $1 AND rule_id = $2 AND depends_on_rule_id = $3
	`, orgID, ruleID, dependsOnID)
	if err != nil {
		return fmt.Errorf("remove dependency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DependenciesOf returns the outgoing edges of a rule (what it depends on).
func (s *Store) DependenciesOf(ctx context.Context, orgID, ruleID uuid.UUID) ([]domain.RuleDependency, error) {
	return s.queryDeps(ctx, `
		SELECT id, organization_id, rule_id, depends_on_rule_id, dep_type, delay_minutes, created_at
		FROM orch_rule_dependencies
		WHERE organization_id = $1 AND rule_id = $2
		ORDER BY created_at ASC
	`, orgID, ruleID)
}

// DependentsOf returns the incoming edges of a rule (who depends on it).
func (s *Store) DependentsOf(ctx context.Context, orgID, ruleID uuid.UUID) ([]domain.RuleDependency, error) {
	return s.queryDeps(ctx, `
		SELECT id, organization_id, rule_id, depends_on_rule_id, dep_type, delay_minutes, created_at
		FROM orch_rule_dependencies
		WHERE organization_id = $1 AND depends_on_rule_id = $2
		ORDER BY created_at ASC
	`, orgID, ruleID)
}

// TriggerEdgesFrom returns the rules that should be evaluated automatically
// when the given rule completes: edges where some rule X declared
// (X triggers-depends-on ruleID).
func (s *Store) TriggerEdgesFrom(ctx context.Context, orgID, ruleID uuid.UUID) ([]domain.RuleDependency, error) {
	return s.queryDeps(ctx, `
		SELECT id, organization_id, rule_id, depends_on_rule_id, dep_type, delay_minutes, created_at
		FROM orch_rule_dependencies
		WHERE organization_id = $1 AND depends_on_rule_id = $2 AND dep_type = 'triggers'
		ORDER BY created_at ASC
	`, orgID, ruleID)
}

func (s *Store) queryDeps(ctx context.Context, query string, args ...interface{}) ([]domain.RuleDependency, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	var out []domain.RuleDependency
	for rows.Next() {
		var d domain.RuleDependency
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.RuleID, &d.DependsOnRuleID,
			&d.Type, &d.DelayMinutes, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
