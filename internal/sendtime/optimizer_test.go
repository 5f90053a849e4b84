package sendtime

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRecordEngagement_BucketsByUTCHourAndDay(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	opt := NewOptimizer(db, nil, 3.0)
	orgID := uuid.New()

	// Tuesday 2026-01-06 14:30 UTC -> bucket (hour 14, day 2), one click.
	at := time.Date(2026, 1, 6, 14, 30, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO orch_engagement_patterns").
		WithArgs(orgID, 14, 2, 0, 1, 3.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := opt.RecordEngagement(context.Background(), orgID, at, domain.EngagementClick); err != nil {
		t.Fatalf("RecordEngagement() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordEngagement_UnknownKind(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	opt := NewOptimizer(db, nil, 3.0)
	err := opt.RecordEngagement(context.Background(), uuid.New(), time.Now(), "forwarded")
	if err == nil {
		t.Fatal("expected unknown engagement kind to be rejected")
	}
}

func TestRankedWindows_CacheHitSkipsDatabase(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	client, cleanupRedis := setupTestRedis(t)
	defer cleanupRedis()

	opt := NewOptimizer(db, client, 3.0)
	orgID := uuid.New()

	rows := sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}).
		AddRow(10, 2, 42.0, 12).
		AddRow(15, 4, 30.0, 9)
	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(rows)

	first, err := opt.RankedWindows(context.Background(), orgID, 5)
	if err != nil {
		t.Fatalf("RankedWindows() first call error: %v", err)
	}
	if len(first) != 2 || first[0].HourOfDay != 10 || first[0].Score != 42.0 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	// No further query expectation: the second call must come from cache.
	second, err := opt.RankedWindows(context.Background(), orgID, 5)
	if err != nil {
		t.Fatalf("RankedWindows() second call error: %v", err)
	}
	if len(second) != 2 || second[0].HourOfDay != first[0].HourOfDay {
		t.Errorf("cached result differs: %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("second call hit the database: %v", err)
	}
}

func TestRecordEngagement_InvalidatesCache(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	client, cleanupRedis := setupTestRedis(t)
	defer cleanupRedis()

	opt := NewOptimizer(db, client, 3.0)
	orgID := uuid.New()

	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}).
			AddRow(10, 2, 42.0, 12))
	if _, err := opt.RankedWindows(context.Background(), orgID, 5); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	mock.ExpectExec("INSERT INTO orch_engagement_patterns").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := opt.RecordEngagement(context.Background(), orgID, time.Now(), domain.EngagementOpen); err != nil {
		t.Fatalf("RecordEngagement() error: %v", err)
	}

	// Cache was dropped, so ranking queries the database again.
	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}).
			AddRow(10, 2, 43.0, 13))
	got, err := opt.RankedWindows(context.Background(), orgID, 5)
	if err != nil {
		t.Fatalf("RankedWindows() after invalidation error: %v", err)
	}
	if got[0].Score != 43.0 {
		t.Errorf("score = %v, want refreshed 43.0", got[0].Score)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBestInstantWithin(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	opt := NewOptimizer(db, nil, 3.0)
	orgID := uuid.New()

	// Best bucket is Wednesday (day 3) at 10:00 UTC.
	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}).
			AddRow(10, 3, 50.0, 20).
			AddRow(16, 5, 12.0, 4))

	// From Tuesday 2026-01-06 12:00 UTC with a 48h horizon.
	from := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	got, ok, err := opt.BestInstantWithin(context.Background(), orgID, from, 48*time.Hour)
	if err != nil {
		t.Fatalf("BestInstantWithin() error: %v", err)
	}
	if !ok {
		t.Fatal("expected a pick inside the horizon")
	}
	want := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("picked %v, want %v", got, want)
	}
}

func TestBestInstantWithin_NoDataOrOutsideHorizon(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	opt := NewOptimizer(db, nil, 3.0)
	orgID := uuid.New()

	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}))

	_, ok, err := opt.BestInstantWithin(context.Background(), orgID, time.Now(), 48*time.Hour)
	if err != nil {
		t.Fatalf("BestInstantWithin() error: %v", err)
	}
	if ok {
		t.Error("no engagement data must yield no pick")
	}

	// A single bucket whose next occurrence is past the horizon.
	mock.ExpectQuery("SELECT hour_of_day, day_of_week").
		WillReturnRows(sqlmock.NewRows([]string{"hour_of_day", "day_of_week", "engagement_score", "open_count"}).
			AddRow(10, 3, 50.0, 20))

	// Thursday 2026-01-08 12:00 UTC: next Wednesday 10:00 is six days out.
	from := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	_, ok, err = opt.BestInstantWithin(context.Background(), orgID, from, 24*time.Hour)
	if err != nil {
		t.Fatalf("BestInstantWithin() error: %v", err)
	}
	if ok {
		t.Error("pick outside the horizon must be rejected")
	}
}

func TestNextOccurrence(t *testing.T) {
	// Tuesday 2026-01-06 12:00 UTC.
	from := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)

	// Same hour same day returns from itself.
	if got := nextOccurrence(from, 2, 12); !got.Equal(from) {
		t.Errorf("in-bucket from moved to %v", got)
	}

	// Earlier hour today wraps a full week.
	want := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)
	if got := nextOccurrence(from, 2, 9); !got.Equal(want) {
		t.Errorf("earlier-hour occurrence = %v, want %v", got, want)
	}

	// Later day this week.
	want = time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)
	if got := nextOccurrence(from, 5, 8); !got.Equal(want) {
		t.Errorf("Friday occurrence = %v, want %v", got, want)
	}
}
