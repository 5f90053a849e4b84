package scheduler

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

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestCreateMessage_Validation(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMessageStore(db)

	m := &domain.ScheduledMessage{
		OrganizationID: uuid.New(),
		Channel:        domain.ChannelEmail,
		ScheduledFor:   time.Now().Add(time.Hour),
	}
	if err := store.CreateMessage(context.Background(), m); err == nil {
		t.Error("message without contact or address should be rejected")
	}

	m.Address = "a@example.com"
	m.Channel = "carrier_pigeon"
	if err := store.CreateMessage(context.Background(), m); err == nil {
		t.Error("unknown channel should be rejected")
	}

	m.Channel = domain.ChannelEmail
	m.ScheduledFor = time.Time{}
	if err := store.CreateMessage(context.Background(), m); err == nil {
		t.Error("missing scheduled_for should be rejected")
	}
}

func TestCreateMessage_ForcesScheduledStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMessageStore(db)
	mock.ExpectExec("INSERT INTO orch_scheduled_messages").
		WillReturnResult(sqlmock.NewResult(1, 1))

	m := &domain.ScheduledMessage{
		OrganizationID: uuid.New(),
		ContactID:      uuid.New(),
		Channel:        domain.ChannelEmail,
		Address:        "a@example.com",
		BodyTemplate:   "<p>Hi</p>",
		Status:         domain.ExecutionSent, // caller-supplied status is ignored
		ScheduledFor:   time.Now().Add(time.Hour),
	}
	if err := store.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if m.Status != domain.ExecutionScheduled {
		t.Errorf("status = %s, want scheduled", m.Status)
	}
	if m.ID == uuid.Nil {
		t.Error("expected an ID to be assigned")
	}
}

func TestCancelMessage_OnlyWhileScheduled(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMessageStore(db)
	mock.ExpectExec("DELETE FROM orch_scheduled_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CancelMessage(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a claimed or sent message, got %v", err)
	}
}

func TestClaimDueMessages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMessageStore(db)
	msgID := uuid.New()
	orgID := uuid.New()
	contactID := uuid.New()
	scheduledFor := time.Now().Add(-time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "contact_id", "channel", "address",
		"subject", "body_template", "from_name", "from_address",
		"scheduled_for", "retry_count", "max_retries",
	}).AddRow(
		msgID, orgID, contactID, "whatsapp", "+15550001111",
		"", "Reminder: {{ first_name }}", "Relay", "",
		scheduledFor, 0, 3,
	)

	mock.ExpectQuery("UPDATE orch_scheduled_messages").
		WithArgs("worker-1", 50).
		WillReturnRows(rows)

	claimed, err := store.ClaimDueMessages(context.Background(), "worker-1", 50)
	if err != nil {
		t.Fatalf("ClaimDueMessages() error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed message, got %d", len(claimed))
	}
	if claimed[0].Status != domain.ExecutionSending {
		t.Errorf("claimed status = %s, want sending", claimed[0].Status)
	}
	if claimed[0].Channel != domain.ChannelWhatsApp {
		t.Errorf("channel = %s, want whatsapp", claimed[0].Channel)
	}
}

func TestRecoverStaleMessages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMessageStore(db)
	mock.ExpectExec("UPDATE orch_scheduled_messages").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE orch_scheduled_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))

	requeued, failed, err := store.RecoverStaleMessages(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStaleMessages() error: %v", err)
	}
	if requeued != 2 || failed != 1 {
		t.Errorf("recovered (%d, %d), want (2, 1)", requeued, failed)
	}
}
