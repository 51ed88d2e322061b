package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeProcessSession is the task type consumed by the worker.
const TypeProcessSession = "kyc:process_session"

// ProcessSessionPayload is the message body of a processing request.
type ProcessSessionPayload struct {
	SessionID string   `json:"sessionId" validate:"required"`
	Prompts   []string `json:"prompts,omitempty" validate:"omitempty,dive,required"`
}

// NewProcessSessionTask encodes a processing request.
func NewProcessSessionTask(sessionID string, prompts []string, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessSessionPayload{SessionID: sessionID, Prompts: prompts})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return asynq.NewTask(TypeProcessSession, payload, opts...), nil
}
