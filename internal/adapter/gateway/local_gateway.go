package gateway

import (
	"context"

	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/core/service"
)

// LocalGateway replays batches in-process. It serves single-node setups where
// the device writes straight to the product database.
type LocalGateway struct {
	engine *service.ReconciliationEngine
	ping   func(ctx context.Context) error
}

func NewLocalGateway(engine *service.ReconciliationEngine, ping func(ctx context.Context) error) *LocalGateway {
	return &LocalGateway{engine: engine, ping: ping}
}

func (g *LocalGateway) SubmitBatch(ctx context.Context, batch domain.SyncBatch) (domain.BatchResult, error) {
	return domain.BatchResult{Outcomes: g.engine.ApplyBatch(ctx, batch.Actions, batch.ActorID)}, nil
}

func (g *LocalGateway) Probe(ctx context.Context) error {
	if g.ping == nil {
		return nil
	}
	return g.ping(ctx)
}
