package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

// LogNotifier writes low-stock alerts to the log. It is used when no broker
// is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error {
	n.logger.Warn().
		Str("product_id", alert.ProductID).
		Str("name", alert.Name).
		Str("sku", alert.SKU).
		Int("quantity", alert.Quantity).
		Int("safety_stock", alert.SafetyStock).
		Msg("low stock")
	return nil
}
