package port

import (
	"context"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

type ReplayGuard interface {
	// Claim marks an action as being applied. It reports ClaimApplied if an
	// earlier replay already committed it, ClaimInProgress if another replay
	// holds the claim.
	Claim(ctx context.Context, actionID string) (domain.ClaimResult, error)

	// Confirm records that the action was committed
	Confirm(ctx context.Context, actionID string) error

	// Release drops the claim so the action can be replayed again
	Release(ctx context.Context, actionID string) error
}
