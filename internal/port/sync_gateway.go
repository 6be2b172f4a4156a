package port

import (
	"context"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

// SyncGateway carries a batch of queued actions to the reconciliation engine.
type SyncGateway interface {
	SubmitBatch(ctx context.Context, batch domain.SyncBatch) (domain.BatchResult, error)
}

// Prober checks whether the server can be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

// Connectivity is the current reachability as seen by the device.
type Connectivity interface {
	Online() bool
}
