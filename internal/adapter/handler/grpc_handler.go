package handler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-sync/internal/adapter/handler/pb"
	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/core/service"
)

type GRPCHandler struct {
	pb.UnimplementedSyncServiceServer
	engine *service.ReconciliationEngine
	logger zerolog.Logger
}

func NewGRPCHandler(engine *service.ReconciliationEngine, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		engine: engine,
		logger: logger.With().Str("component", "grpc").Logger(),
	}
}

// Register adds the sync service and a health service reporting it as
// serving. Call Shutdown on the returned health server before stopping.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) *health.Server {
	pb.RegisterSyncServiceServer(s, h)

	hs := health.NewServer()
	hs.SetServingStatus(pb.SyncServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// SubmitBatch replays one device batch. Per-action rejections are part of a
// successful response; only a malformed request fails the call.
func (h *GRPCHandler) SubmitBatch(ctx context.Context, req *pb.SubmitBatchRequest) (*pb.SubmitBatchResponse, error) {
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, status.Error(codes.InvalidArgument, "actor_id is required")
	}

	outcomes := replay(ctx, h.engine, req)
	resp := pb.NewSubmitBatchResponse(outcomes)

	h.logger.Info().
		Str("device_id", req.DeviceID).
		Int("succeeded", resp.Succeeded).
		Int("failed", resp.Failed).
		Msg("batch replayed")

	return resp, nil
}

// replay applies the decodable actions and returns their outcomes after the
// rejections for actions that could not be decoded.
func replay(ctx context.Context, engine *service.ReconciliationEngine, req *pb.SubmitBatchRequest) []domain.Outcome {
	actions, rejected := req.Decode()
	return append(rejected, engine.ApplyBatch(ctx, actions, req.ActorID)...)
}

// UnaryLogger logs every unary call with its duration and status code.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("grpc call")

		return resp, err
	}
}
