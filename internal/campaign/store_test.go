package campaign

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestCreateCampaign_ForcesDraft(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	c := &domain.Campaign{
		OrganizationID: uuid.New(),
		Name:           "Spring launch",
		Channel:        domain.ChannelEmail,
		Subject:        "We launched",
		BodyTemplate:   "<p>News</p>",
		Status:         domain.CampaignSending, // caller-supplied status is ignored
	}

	mock.ExpectExec("INSERT INTO orch_campaigns").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}
	if c.Status != domain.CampaignDraft {
		t.Errorf("status = %s, want draft", c.Status)
	}
	if c.ID == uuid.Nil {
		t.Error("expected an ID to be assigned")
	}
}

func TestEnqueueRecipients_RejectsStartedCampaign(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orch_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
	mock.ExpectRollback()

	recipients := []domain.CampaignRecipient{{ContactID: uuidPtr(uuid.New()), Address: "a@example.com"}}
	err := store.EnqueueRecipients(context.Background(), uuid.New(), campaignID, recipients, 3)
	if err == nil {
		t.Fatal("expected enqueue on a sending campaign to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnqueueRecipients_BumpsCounters(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orch_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectExec("INSERT INTO orch_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO orch_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recipients := []domain.CampaignRecipient{
		{ContactID: uuidPtr(uuid.New()), Address: "a@example.com"},
		{ContactID: uuidPtr(uuid.New()), Address: "b@example.com"},
	}
	if err := store.EnqueueRecipients(context.Background(), uuid.New(), campaignID, recipients, 3); err != nil {
		t.Fatalf("EnqueueRecipients() error: %v", err)
	}
	for i, r := range recipients {
		if r.MaxRetries != 3 {
			t.Errorf("recipient %d max_retries = %d, want default 3", i, r.MaxRetries)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestScheduleCampaign_NonDraftFails(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectExec("UPDATE orch_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ScheduleCampaign(context.Background(), uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected scheduling a non-draft campaign to fail")
	}
}

func TestCancelCampaign_MovesRecipientsToFailedBucket(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orch_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
	mock.ExpectExec("UPDATE orch_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CancelCampaign(context.Background(), uuid.New(), campaignID); err != nil {
		t.Fatalf("CancelCampaign() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancelCampaign_Idempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orch_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectCommit()

	if err := store.CancelCampaign(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("cancelling an already-cancelled campaign: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancelCampaign_CompletedFails(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM orch_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	if err := store.CancelCampaign(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected cancelling a completed campaign to fail")
	}
}

func TestGetCampaign_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectQuery("SELECT (.+) FROM orch_campaigns").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetCampaign(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
