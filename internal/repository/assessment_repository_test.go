package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/kyc-worker/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newMockRepository(t *testing.T) (*AssessmentRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}
	repo := NewAssessmentRepository(db, zap.NewNop())
	repo.initialBackoff = time.Millisecond
	repo.maxBackoff = 2 * time.Millisecond
	return repo, mock
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &AssessmentRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &AssessmentRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryStopsOnCancelledContext(t *testing.T) {
	repo := &AssessmentRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Second,
		maxBackoff:     time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())

	err := repo.executeWithRetry(ctx, "test.operation", "req-3", func() error {
		cancel()
		return transientTestError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSaveAssessment(t *testing.T) {
	repo, mock := newMockRepository(t)
	score := 0.91

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "assessment_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	record := &AssessmentRecord{
		RequestID:      "req-1",
		SessionID:      "sess-1",
		LivenessScore:  0.5,
		FaceMatchScore: &score,
		ReasonCodes:    []string{"prompt_failed_look_up"},
		Prompts:        []string{"look_up"},
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.SaveAssessment(context.Background(), record); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record.ID != 1 {
		t.Fatalf("expected id 1, got %d", record.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLatestBySession(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "assessment_records" WHERE session_id = $1 ORDER BY created_at DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "session_id", "liveness_score", "face_match_score", "reason_codes", "prompts", "manual_review", "delivered", "duration_ms", "created_at"}).
			AddRow(7, "req-7", "sess-1", 0.42, nil, `["low_motion"]`, `["look_left"]`, false, true, 1200, created))

	record, err := repo.FindLatestBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record.RequestID != "req-7" || record.LivenessScore != 0.42 || record.FaceMatchScore != nil {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.ReasonCodes) != 1 || record.ReasonCodes[0] != "low_motion" {
		t.Fatalf("unexpected reason codes %v", record.ReasonCodes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLatestBySessionNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "assessment_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.FindLatestBySession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkDeliveredMissingRecord(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "assessment_records" SET "delivered"=$1 WHERE request_id = $2`)).
		WithArgs(true, "req-x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.MarkDelivered(context.Background(), "req-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregateMetrics(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) AS total_count`)).
		WillReturnRows(sqlmock.NewRows([]string{"total_count", "delivered_count", "face_match_count", "average_liveness_score", "average_face_match_score", "average_duration_ms"}).
			AddRow(4, 3, 2, 0.55, 0.8, 950.5))

	agg, err := repo.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if agg.TotalCount != 4 || agg.DeliveredCount != 3 || agg.FaceMatchCount != 2 {
		t.Fatalf("unexpected counts %+v", agg)
	}
	if agg.AverageLivenessScore != 0.55 || agg.AverageFaceMatchScore != 0.8 || agg.AverageDurationMs != 950.5 {
		t.Fatalf("unexpected averages %+v", agg)
	}
}
