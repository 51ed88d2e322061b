package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/media"
)

// SessionProcessor runs the assessment pipeline for one session.
type SessionProcessor interface {
	ProcessSession(ctx context.Context, sessionID string, prompts []string) (*assessment.Assessment, error)
}

// Handler consumes process-session tasks.
type Handler struct {
	processor SessionProcessor
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandler builds a task handler around processor.
func NewHandler(processor SessionProcessor, logger *zap.Logger) *Handler {
	return &Handler{
		processor: processor,
		validate:  validator.New(),
		logger:    logger.Named("queue_handler"),
	}
}

// ProcessTask implements asynq.Handler. Malformed payloads are archived
// without retry, payloads without a session id are dropped, and processing
// errors are returned for asynq to retry.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	logger := h.logger.With(zap.String("task_type", task.Type()))
	if id, ok := asynq.GetTaskID(ctx); ok {
		logger = logger.With(zap.String("task_id", id))
	}

	var payload ProcessSessionPayload
	if body := task.Payload(); len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			logger.Error("malformed task payload", zap.Error(err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.SessionID == "" {
		logger.Warn("dropping task without session id")
		return nil
	}
	if err := h.validate.Struct(payload); err != nil {
		logger.Error("invalid task payload", zap.Error(err), zap.String("session_id", payload.SessionID))
		return fmt.Errorf("validate payload: %v: %w", err, asynq.SkipRetry)
	}

	logger = logger.With(zap.String("session_id", payload.SessionID))
	if _, err := h.processor.ProcessSession(ctx, payload.SessionID, payload.Prompts); err != nil {
		if errors.Is(err, media.ErrInvalidSessionID) {
			logger.Error("rejecting session", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Debug("task processed")
	return nil
}
