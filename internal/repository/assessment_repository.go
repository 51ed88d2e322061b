package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/logging"
)

// ErrNotFound is returned when no assessment exists for a lookup.
var ErrNotFound = errors.New("assessment not found")

// AssessmentRecord is a persisted session assessment.
type AssessmentRecord struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SessionID      string    `gorm:"column:session_id;index;size:128"`
	LivenessScore  float64   `gorm:"column:liveness_score"`
	FaceMatchScore *float64  `gorm:"column:face_match_score"`
	ReasonCodes    []string  `gorm:"column:reason_codes;serializer:json;type:jsonb"`
	Prompts        []string  `gorm:"column:prompts;serializer:json;type:jsonb"`
	ManualReview   bool      `gorm:"column:manual_review"`
	Delivered      bool      `gorm:"column:delivered"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AssessmentRecord) TableName() string {
	return "assessment_records"
}

// Assessment rebuilds the delivered payload from the record.
func (r *AssessmentRecord) Assessment() *assessment.Assessment {
	codes := make([]assessment.ReasonCode, len(r.ReasonCodes))
	for i, code := range r.ReasonCodes {
		codes[i] = assessment.ReasonCode(code)
	}
	return &assessment.Assessment{
		SessionID:      r.SessionID,
		LivenessScore:  r.LivenessScore,
		ReasonCodes:    codes,
		FaceMatchScore: r.FaceMatchScore,
		ManualReview:   r.ManualReview,
	}
}

// Aggregation summarizes every stored assessment.
type Aggregation struct {
	TotalCount            int64
	DeliveredCount        int64
	FaceMatchCount        int64
	AverageLivenessScore  float64
	AverageFaceMatchScore float64
	AverageDurationMs     float64
}

// AssessmentRepository persists assessments with retries on transient database errors.
type AssessmentRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAssessmentRepository creates a new repository instance.
func NewAssessmentRepository(db *gorm.DB, logger *zap.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		db:             db,
		logger:         logger.Named("assessment_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AssessmentRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AssessmentRecord{})
}

// SaveAssessment inserts a record.
func (r *AssessmentRepository) SaveAssessment(ctx context.Context, record *AssessmentRecord) error {
	return r.executeWithRetry(ctx, "repository.save_assessment", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// MarkDelivered flags the record once the KYC service accepted it.
func (r *AssessmentRepository) MarkDelivered(ctx context.Context, requestID string) error {
	return r.executeWithRetry(ctx, "repository.mark_delivered", requestID, func() error {
		res := r.db.WithContext(ctx).Model(&AssessmentRecord{}).
			Where("request_id = ?", requestID).
			Update("delivered", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FindLatestBySession returns the newest assessment for a session.
func (r *AssessmentRepository) FindLatestBySession(ctx context.Context, sessionID string) (*AssessmentRecord, error) {
	var record AssessmentRecord
	err := r.executeWithRetry(ctx, "repository.find_latest_by_session", "", func() error {
		err := r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("created_at DESC").
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics computes summary statistics over all assessments.
func (r *AssessmentRepository) AggregateMetrics(ctx context.Context) (*Aggregation, error) {
	var row struct {
		TotalCount            int64
		DeliveredCount        int64
		FaceMatchCount        int64
		AverageLivenessScore  float64
		AverageFaceMatchScore float64
		AverageDurationMs     float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&AssessmentRecord{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN delivered THEN 1 ELSE 0 END), 0) AS delivered_count, " +
				"COUNT(face_match_score) AS face_match_count, " +
				"COALESCE(AVG(liveness_score), 0) AS average_liveness_score, " +
				"COALESCE(AVG(face_match_score), 0) AS average_face_match_score, " +
				"COALESCE(AVG(duration_ms), 0) AS average_duration_ms",
		).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	agg := Aggregation(row)
	return &agg, nil
}

func (r *AssessmentRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
