package gateway

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-sync/internal/adapter/handler/pb"
	"github.com/rl1809/stock-sync/internal/core/domain"
)

// GRPCGateway submits batches to a remote SyncService and probes it through
// the standard gRPC health service.
type GRPCGateway struct {
	conn   *grpc.ClientConn
	client pb.SyncServiceClient
	health healthpb.HealthClient
}

// DialGRPC creates a lazy client connection; nothing is sent until the first
// call. Without options the connection is plaintext.
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCGateway, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &GRPCGateway{
		conn:   conn,
		client: pb.NewSyncServiceClient(conn),
		health: healthpb.NewHealthClient(conn),
	}, nil
}

func (g *GRPCGateway) Close() error {
	return g.conn.Close()
}

func (g *GRPCGateway) SubmitBatch(ctx context.Context, batch domain.SyncBatch) (domain.BatchResult, error) {
	req, err := pb.NewSubmitBatchRequest(batch)
	if err != nil {
		return domain.BatchResult{}, err
	}

	resp, err := g.client.SubmitBatch(ctx, req)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("submit batch: %w", err)
	}
	return domain.BatchResult{Outcomes: resp.Outcomes()}, nil
}

func (g *GRPCGateway) Probe(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: pb.SyncServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("sync service is %s", resp.GetStatus())
	}
	return nil
}
