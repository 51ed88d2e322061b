package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/logging"
	"github.com/example/kyc-worker/internal/media"
	"github.com/example/kyc-worker/internal/repository"
)

// ErrAssessmentPending is returned while a session is still being processed.
var ErrAssessmentPending = errors.New("assessment in progress")

// AssessmentRepository defines the persistence operations needed by the use case.
type AssessmentRepository interface {
	SaveAssessment(ctx context.Context, record *repository.AssessmentRecord) error
	MarkDelivered(ctx context.Context, requestID string) error
	FindLatestBySession(ctx context.Context, sessionID string) (*repository.AssessmentRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.Aggregation, error)
}

// Assessor computes an assessment for a resolved session.
type Assessor interface {
	Assess(ctx context.Context, session assessment.Session) (*assessment.Assessment, error)
}

// SessionResolver locates the media of a session.
type SessionResolver interface {
	Session(sessionID string, prompts []assessment.Prompt) (assessment.Session, error)
}

// ResultDeliverer hands a finished assessment to the KYC service.
type ResultDeliverer interface {
	Complete(ctx context.Context, result *assessment.Assessment) error
}

// Enqueuer schedules a session for asynchronous processing.
type Enqueuer interface {
	EnqueueSession(ctx context.Context, sessionID string, prompts []string) (string, error)
}

// MetricsRecorder observes processed sessions.
type MetricsRecorder interface {
	ObserveAssessment(result *assessment.Assessment, duration time.Duration)
	ObserveFailure(operation string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAssessment(*assessment.Assessment, time.Duration) {}

func (nopRecorder) ObserveFailure(string) {}

// AssessmentUseCase runs session assessments and serves their results.
type AssessmentUseCase struct {
	repo      AssessmentRepository
	cache     Cache
	engine    Assessor
	resolver  SessionResolver
	deliverer ResultDeliverer
	enqueuer  Enqueuer
	metrics   MetricsRecorder
	logger    *zap.Logger

	assessmentTimeout time.Duration
	processingTTL     time.Duration
	retryAttempts     int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
}

// Option customizes an AssessmentUseCase.
type Option func(*AssessmentUseCase)

// WithEnqueuer enables RequestAssessment.
func WithEnqueuer(enqueuer Enqueuer) Option {
	return func(uc *AssessmentUseCase) { uc.enqueuer = enqueuer }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(uc *AssessmentUseCase) {
		if recorder != nil {
			uc.metrics = recorder
		}
	}
}

// WithAssessmentTimeout bounds the wall-clock time of one engine pass.
func WithAssessmentTimeout(timeout time.Duration) Option {
	return func(uc *AssessmentUseCase) {
		if timeout > 0 {
			uc.assessmentTimeout = timeout
		}
	}
}

// NewAssessmentUseCase constructs a new use case instance.
func NewAssessmentUseCase(repo AssessmentRepository, cache Cache, engine Assessor, resolver SessionResolver, deliverer ResultDeliverer, logger *zap.Logger, opts ...Option) *AssessmentUseCase {
	uc := &AssessmentUseCase{
		repo:              repo,
		cache:             cache,
		engine:            engine,
		resolver:          resolver,
		deliverer:         deliverer,
		metrics:           nopRecorder{},
		logger:            logger.Named("assessment_usecase"),
		assessmentTimeout: 2 * time.Minute,
		retryAttempts:     3,
		initialBackoff:    50 * time.Millisecond,
		maxBackoff:        time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	uc.processingTTL = uc.assessmentTimeout + processingSlack
	return uc
}

// ProcessSession assesses a session, persists and caches the result and
// delivers it to the KYC service.
func (uc *AssessmentUseCase) ProcessSession(ctx context.Context, sessionID string, prompts []string) (*assessment.Assessment, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(uc.logger, "usecase.process_session", requestID, sessionID)

	session, err := uc.resolver.Session(sessionID, assessment.ParsePrompts(prompts))
	if err != nil {
		return nil, uc.fail(opLogger, "usecase.resolve_session", requestID, err)
	}

	cacheKey := resultCacheKey(sessionID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, uc.processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		uc.metrics.ObserveFailure("cache.set.processing")
		return nil, err
	}

	started := time.Now()
	assessCtx, cancel := context.WithTimeout(ctx, uc.assessmentTimeout)
	result, err := uc.engine.Assess(assessCtx, session)
	cancel()
	if err != nil {
		uc.clearProcessing(ctx, opLogger, requestID, cacheKey)
		return nil, uc.fail(opLogger, "usecase.assess", requestID, err)
	}
	duration := time.Since(started)

	record := newRecord(requestID, session, result, duration)
	if err := uc.repo.SaveAssessment(ctx, record); err != nil {
		uc.clearProcessing(ctx, opLogger, requestID, cacheKey)
		return nil, uc.fail(opLogger, "usecase.save_assessment", requestID, err)
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		uc.clearProcessing(ctx, opLogger, requestID, cacheKey)
		return nil, uc.fail(opLogger, "usecase.serialize_assessment", requestID, err)
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache assessment", zap.Error(err))
		uc.clearProcessing(ctx, opLogger, requestID, cacheKey)
		uc.metrics.ObserveFailure("cache.set.result")
		return nil, err
	}

	if err := uc.deliverer.Complete(ctx, result); err != nil {
		return nil, uc.fail(opLogger, "usecase.deliver_result", requestID, err)
	}
	if err := uc.repo.MarkDelivered(ctx, requestID); err != nil {
		opLogger.Warn("failed to mark assessment delivered", zap.Error(err))
	}

	uc.metrics.ObserveAssessment(result, duration)
	opLogger.Info("assessment delivered",
		zap.Float64("liveness_score", result.LivenessScore),
		zap.Int("reason_count", len(result.ReasonCodes)),
		zap.Bool("face_matched", result.FaceMatchScore != nil),
		zap.Duration("duration", duration),
	)
	return result, nil
}

// clearProcessing drops the processing flag of a failed run so lookups fall
// back to the last persisted assessment.
func (uc *AssessmentUseCase) clearProcessing(ctx context.Context, opLogger *zap.Logger, requestID, cacheKey string) {
	if err := uc.withRedisRetry(ctx, requestID, "cache.delete.processing", func() error {
		return uc.cache.Delete(ctx, cacheKey)
	}); err != nil {
		opLogger.Warn("failed to clear processing flag", zap.Error(err))
	}
}

func (uc *AssessmentUseCase) fail(opLogger *zap.Logger, operation, requestID string, err error) error {
	wrapped := logging.NewOperationError(operation, requestID, err)
	opLogger.Error("session processing failed", zap.Error(wrapped))
	uc.metrics.ObserveFailure(operation)
	return wrapped
}

// RequestAssessment schedules a session for processing and returns the task id.
func (uc *AssessmentUseCase) RequestAssessment(ctx context.Context, sessionID string, prompts []string) (string, error) {
	if err := media.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if uc.enqueuer == nil {
		return "", errors.New("assessment queue not configured")
	}
	taskID, err := uc.enqueuer.EnqueueSession(ctx, sessionID, prompts)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.enqueue_session", "", err)
		uc.logger.Error("failed to enqueue session", zap.Error(wrapped), zap.String("session_id", sessionID))
		return "", wrapped
	}
	return taskID, nil
}

// GetResult returns the cached assessment of a session or the latest persisted one.
func (uc *AssessmentUseCase) GetResult(ctx context.Context, sessionID string) (*assessment.Assessment, error) {
	cacheKey := resultCacheKey(sessionID)
	opLogger := logging.WithSession(uc.logger, "usecase.get_result", "", sessionID)

	if cached, err := uc.withRedisGet(ctx, "", "cache.get.result", cacheKey); err == nil {
		if cached == processingMarker {
			return nil, ErrAssessmentPending
		}
		var result assessment.Assessment
		if err := json.Unmarshal([]byte(cached), &result); err != nil {
			opLogger.Warn("failed to decode cached assessment", zap.Error(err))
		} else {
			return &result, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindLatestBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return record.Assessment(), nil
}

func newRecord(requestID string, session assessment.Session, result *assessment.Assessment, duration time.Duration) *repository.AssessmentRecord {
	reasons := make([]string, len(result.ReasonCodes))
	for i, code := range result.ReasonCodes {
		reasons[i] = string(code)
	}
	prompts := make([]string, len(session.Prompts))
	for i, p := range session.Prompts {
		prompts[i] = string(p)
	}
	return &repository.AssessmentRecord{
		RequestID:      requestID,
		SessionID:      result.SessionID,
		LivenessScore:  result.LivenessScore,
		FaceMatchScore: result.FaceMatchScore,
		ReasonCodes:    reasons,
		Prompts:        prompts,
		ManualReview:   result.ManualReview,
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
}

func (uc *AssessmentUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AssessmentUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
