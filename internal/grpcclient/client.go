package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/kyc-worker/internal/logging"
)

// HealthProbe queries a grpc.health.v1 endpoint.
type HealthProbe struct {
	client healthpb.HealthClient
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialHealth connects to the health service at addr.
func DialHealth(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*HealthProbe, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_health", "", err)
		logger.Error("failed to dial health service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &HealthProbe{client: healthpb.NewHealthClient(conn), conn: conn, logger: logger}, nil
}

// Check returns an error unless the service reports SERVING.
func (p *HealthProbe) Check(ctx context.Context, service string) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.check_health", "", err)
		p.logger.Error("health check call failed", zap.Error(wrapped))
		return wrapped
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (p *HealthProbe) Close() error {
	return p.conn.Close()
}
