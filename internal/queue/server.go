package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/logging"
)

// Server consumes the processing queue one task at a time.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer wires handler to queueName on the given Redis.
func NewServer(redisOpt asynq.RedisClientOpt, queueName string, handler *Handler, logger *zap.Logger) *Server {
	logger = logger.Named("queue_server")
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				zap.String("task_type", task.Type()),
				zap.String("operation", logging.OperationOf(err)),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
		ShutdownTimeout: 30 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeProcessSession, handler)
	return &Server{srv: srv, mux: mux}
}

// Start begins consuming in background goroutines.
func (s *Server) Start() error {
	return s.srv.Start(s.mux)
}

// Shutdown waits for the in-flight task and stops the server.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// Ping checks the broker connection.
func (s *Server) Ping() error {
	return s.srv.Ping()
}
