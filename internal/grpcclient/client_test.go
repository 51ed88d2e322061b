package grpcclient

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/kyc-worker/internal/health"
)

func TestHealthProbe(t *testing.T) {
	server := health.NewServer(zap.NewNop())
	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	probe, err := DialHealth(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer probe.Close()

	if err := probe.Check(context.Background(), ""); err == nil {
		t.Fatal("expected NOT_SERVING to fail the probe")
	}
	server.SetServing(true)
	if err := probe.Check(context.Background(), ""); err != nil {
		t.Fatalf("expected SERVING, got %v", err)
	}
}
