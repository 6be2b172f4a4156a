package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds stock levels and the size of a single adjustment.
const MaxQuantity = math.MaxInt32

type Product struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	SKU         string          `json:"sku" db:"sku"`
	Category    string          `json:"category" db:"category"`
	Brand       string          `json:"brand" db:"brand"`
	Location    string          `json:"location" db:"location"`
	Quantity    int             `json:"quantity" db:"quantity"`
	SafetyStock int             `json:"safety_stock" db:"safety_stock"`
	Price       decimal.Decimal `json:"price" db:"price"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// LowStock reports whether the product sits at or below its own safety threshold.
func (p Product) LowStock() bool {
	return p.Quantity <= p.SafetyStock
}

// InventoryAdjustment is the append-only audit entry for a stock delta.
// CreatedAt carries the enqueue time of the action that produced it.
type InventoryAdjustment struct {
	ID        string    `json:"id" db:"id"`
	ProductID string    `json:"product_id" db:"product_id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Memo      string    `json:"memo,omitempty" db:"memo"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LocationHistory struct {
	ID           string    `json:"id" db:"id"`
	ProductID    string    `json:"product_id" db:"product_id"`
	ActorID      string    `json:"actor_id" db:"actor_id"`
	FromLocation string    `json:"from_location" db:"from_location"`
	ToLocation   string    `json:"to_location" db:"to_location"`
	MovedAt      time.Time `json:"moved_at" db:"moved_at"`
}

// Change is what a replayed action does to one product: the new field values
// and the audit record that must be written in the same transaction.
type Change struct {
	Quantity   *int
	Location   *string
	Adjustment *InventoryAdjustment
	Move       *LocationHistory
}

// ChangeFunc computes a Change from the product state read under lock.
type ChangeFunc func(current Product) (Change, error)

type LowStockAlert struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	SafetyStock int    `json:"safety_stock"`
}
