package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server exposes grpc.health.v1 for the worker.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer builds a health server that starts out NOT_SERVING.
func NewServer(logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.Named("health"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// SetServing flips the overall status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Monitor runs checks every interval until ctx ends and reports SERVING only
// while all of them pass.
func (s *Server) Monitor(ctx context.Context, interval time.Duration, checks ...Check) {
	s.SetServing(s.runChecks(ctx, checks))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SetServing(s.runChecks(ctx, checks))
		}
	}
}

func (s *Server) runChecks(ctx context.Context, checks []Check) bool {
	healthy := true
	for _, check := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Probe(probeCtx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			healthy = false
		}
	}
	return healthy
}

// Stop marks the service NOT_SERVING and drains connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
