package port

import (
	"context"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

type ProductStore interface {
	// FindByID returns nil, nil when the product does not exist
	FindByID(ctx context.Context, id string) (*domain.Product, error)

	// Update locks the product row, hands its current state to fn and persists
	// the resulting change and audit record in one transaction.
	// Returns domain.ErrNotFound when the product does not exist.
	Update(ctx context.Context, id string, fn domain.ChangeFunc) (*domain.Product, error)

	// ListLowStock returns products whose quantity is at or below their safety stock
	ListLowStock(ctx context.Context) ([]domain.Product, error)
}

type HistoryStore interface {
	ListAdjustments(ctx context.Context, productID string) ([]domain.InventoryAdjustment, error)
	ListLocationHistory(ctx context.Context, productID string) ([]domain.LocationHistory, error)
}

type Notifier interface {
	NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error
}
