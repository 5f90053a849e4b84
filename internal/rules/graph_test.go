package rules

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func expectAdvisoryLock(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
}

func expectAdvisoryUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestAddDependency_Success(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	dep := &domain.RuleDependency{
		OrganizationID:  uuid.New(),
		RuleID:          uuid.New(),
		DependsOnRuleID: uuid.New(),
		Type:            domain.DepRequired,
		DelayMinutes:    30,
	}

	expectAdvisoryLock(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("WITH RECURSIVE reach").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO orch_rule_dependencies").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectAdvisoryUnlock(mock)

	if err := store.AddDependency(context.Background(), dep); err != nil {
		t.Fatalf("AddDependency() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddDependency_RejectsCycle(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	dep := &domain.RuleDependency{
		OrganizationID:  uuid.New(),
		RuleID:          uuid.New(),
		DependsOnRuleID: uuid.New(),
		Type:            domain.DepRequired,
	}

	expectAdvisoryLock(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("WITH RECURSIVE reach").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	// No insert, no commit: the edge must not be persisted.
	mock.ExpectRollback()
	expectAdvisoryUnlock(mock)

	err := store.AddDependency(context.Background(), dep)
	if !errors.Is(err, domain.ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddDependency_RejectsSelfEdge(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	ruleID := uuid.New()
	dep := &domain.RuleDependency{
		OrganizationID:  uuid.New(),
		RuleID:          ruleID,
		DependsOnRuleID: ruleID,
		Type:            domain.DepBlocks,
	}

	err := store.AddDependency(context.Background(), dep)
	if !errors.Is(err, domain.ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency for self-edge, got %v", err)
	}
}

func TestAddDependency_RejectsBadInput(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)

	dep := &domain.RuleDependency{
		OrganizationID:  uuid.New(),
		RuleID:          uuid.New(),
		DependsOnRuleID: uuid.New(),
		Type:            "sometimes",
	}
	if err := store.AddDependency(context.Background(), dep); err == nil {
		t.Error("unknown dependency type should be rejected")
	}

	dep.Type = domain.DepRequired
	dep.DelayMinutes = -5
	if err := store.AddDependency(context.Background(), dep); err == nil {
		t.Error("negative delay should be rejected")
	}
}

func TestRemoveDependency_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectExec("DELETE FROM orch_rule_dependencies").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RemoveDependency(context.Background(), uuid.New(), uuid.New(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
