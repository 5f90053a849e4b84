package campaign

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

func TestClaimDueRecipients_ReturnsJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()
	campaignID := uuid.New()
	orgID := uuid.New()
	contactID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "organization_id", "contact_id", "address",
		"retry_count", "max_retries",
		"channel", "subject", "body_template", "from_name", "from_address",
	}).AddRow(
		recipientID, campaignID, orgID, contactID, "a@example.com",
		0, 3,
		"email", "Launch", "<p>News</p>", "Relay", "hello@relay.example",
	)

	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WithArgs("worker-1", 100).
		WillReturnRows(rows)

	jobs, err := store.ClaimDueRecipients(context.Background(), "worker-1", 100)
	if err != nil {
		t.Fatalf("ClaimDueRecipients() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Recipient.Status != domain.RecipientSending {
		t.Errorf("claimed recipient status = %s, want sending", jobs[0].Recipient.Status)
	}
	if jobs[0].Recipient.Address != "a@example.com" {
		t.Errorf("address = %q", jobs[0].Recipient.Address)
	}
	if jobs[0].Channel != domain.ChannelEmail {
		t.Errorf("channel = %s, want email", jobs[0].Channel)
	}
}

func TestMarkRecipientSent_UpdatesCountersAndChecksDrain(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Drain check runs in the same transaction.
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := store.MarkRecipientSent(context.Background(), recipientID, "ses-msg-1"); err != nil {
		t.Fatalf("MarkRecipientSent() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkRecipientBounced_MovesSentToFailed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	orgID := uuid.New()
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WithArgs(orgID, "ses-msg-9", "hard bounce: mailbox does not exist").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.MarkRecipientBounced(context.Background(), orgID, "ses-msg-9", "hard bounce: mailbox does not exist")
	if err != nil {
		t.Fatalf("MarkRecipientBounced() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkRecipientBounced_UnknownMessageID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.MarkRecipientBounced(context.Background(), uuid.New(), "unknown-id", "bounce")
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkRecipientSent_CancelledClaimIsNoOp(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()

	// The recipient was cancelled while the worker's provider call was in
	// flight; the conditional update matches nothing and no counter moves.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	if err := store.MarkRecipientSent(context.Background(), recipientID, "ses-msg-2"); err != nil {
		t.Fatalf("late success after cancel should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkRecipientRetrying(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()
	next := time.Now().Add(2 * time.Minute)

	mock.ExpectExec("UPDATE orch_campaign_recipients").
		WithArgs(recipientID, next, "gateway returned 503").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkRecipientRetrying(context.Background(), recipientID, next, "gateway returned 503"); err != nil {
		t.Fatalf("MarkRecipientRetrying() error: %v", err)
	}
}

func TestMarkRecipientPermanentlyFailed_DrainsToFailed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orch_campaigns").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.MarkRecipientPermanentlyFailed(context.Background(), recipientID, "hard bounce"); err != nil {
		t.Fatalf("MarkRecipientPermanentlyFailed() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancelRecipient_Idempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	recipientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, campaign_id FROM orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"status", "campaign_id"}).
			AddRow("cancelled", uuid.New()))
	mock.ExpectCommit()

	if err := store.CancelRecipient(context.Background(), uuid.New(), recipientID); err != nil {
		t.Fatalf("cancelling an already-cancelled recipient: %v", err)
	}
}

func TestCancelRecipient_SentFails(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, campaign_id FROM orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"status", "campaign_id"}).
			AddRow("sent", uuid.New()))
	mock.ExpectRollback()

	if err := store.CancelRecipient(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected cancelling a sent recipient to fail")
	}
}

func TestRecoverStaleRecipients_ExhaustedGoThroughCounterPath(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db)
	exhaustedID := uuid.New()
	campaignID := uuid.New()

	mock.ExpectExec("UPDATE orch_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT id FROM orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(exhaustedID))

	// The exhausted claim is failed transactionally so the campaign counters
	// stay consistent.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orch_campaign_recipients").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID))
	mock.ExpectExec("UPDATE orch_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orch_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	requeued, failed, err := store.RecoverStaleRecipients(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStaleRecipients() error: %v", err)
	}
	if requeued != 2 || failed != 1 {
		t.Errorf("recovered (%d, %d), want (2, 1)", requeued, failed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
