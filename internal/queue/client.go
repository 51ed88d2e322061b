package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer publishes process-session tasks.
type Enqueuer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewEnqueuer builds a producer for queueName. timeout bounds one processing
// attempt including delivery.
func NewEnqueuer(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Enqueuer {
	return &Enqueuer{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// EnqueueSession schedules a session and returns the task id.
func (e *Enqueuer) EnqueueSession(ctx context.Context, sessionID string, prompts []string) (string, error) {
	task, err := NewProcessSessionTask(sessionID, prompts)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
		asynq.Timeout(e.timeout),
	)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases the Redis connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
