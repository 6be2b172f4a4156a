package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const productColumns = `id, name, sku, category, brand, location, quantity, safety_stock, price, created_at, updated_at`

// SQLStore is the authoritative product store. It runs on MySQL in
// production, Postgres as an alternative and SQLite for single-node setups.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, driver: db.DriverName()}
}

// OpenSQLStore connects with the given driver. MySQL DSNs need parseTime=true.
func OpenSQLStore(ctx context.Context, driver, dsn string, maxOpenConns int) (*SQLStore, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(ctx, dsn)
	case DriverMySQL, DriverPostgres:
		db, err = sqlx.ConnectContext(ctx, driver, dsn)
		if err == nil && maxOpenConns > 0 {
			db.SetMaxOpenConns(maxOpenConns)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return NewSQLStore(db), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables for the store's dialect if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("load %s schema: %w", s.driver, err)
	}
	return execScript(ctx, s.db, string(schema))
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn domain.ChangeFunc) (*domain.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current domain.Product
	err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`+s.lockClause()), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock product: %w", err)
	}

	change, err := fn(current)
	if err != nil {
		return nil, err
	}

	updated := current
	if change.Quantity != nil {
		updated.Quantity = *change.Quantity
	}
	if change.Location != nil {
		updated.Location = *change.Location
	}
	updated.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE products
		SET quantity = ?, location = ?, updated_at = ?
		WHERE id = ?`),
		updated.Quantity, updated.Location, updated.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	if a := change.Adjustment; a != nil {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO inventory_adjustments (id, product_id, actor_id, quantity, memo, created_at)
			VALUES (:id, :product_id, :actor_id, :quantity, :memo, :created_at)`, a)
		if err != nil {
			return nil, fmt.Errorf("insert adjustment: %w", err)
		}
	}
	if m := change.Move; m != nil {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO location_history (id, product_id, actor_id, from_location, to_location, moved_at)
			VALUES (:id, :product_id, :actor_id, :from_location, :to_location, :moved_at)`, m)
		if err != nil {
			return nil, fmt.Errorf("insert location history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &updated, nil
}

func (s *SQLStore) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	products := []domain.Product{}
	err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE quantity <= safety_stock
		ORDER BY quantity, sku`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	return products, nil
}

func (s *SQLStore) ListAdjustments(ctx context.Context, productID string) ([]domain.InventoryAdjustment, error) {
	records := []domain.InventoryAdjustment{}
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`
		SELECT id, product_id, actor_id, quantity, memo, created_at
		FROM inventory_adjustments
		WHERE product_id = ?
		ORDER BY created_at, id`), productID)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	return records, nil
}

func (s *SQLStore) ListLocationHistory(ctx context.Context, productID string) ([]domain.LocationHistory, error) {
	records := []domain.LocationHistory{}
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`
		SELECT id, product_id, actor_id, from_location, to_location, moved_at
		FROM location_history
		WHERE product_id = ?
		ORDER BY moved_at, id`), productID)
	if err != nil {
		return nil, fmt.Errorf("query location history: %w", err)
	}
	return records, nil
}

// UpsertProduct inserts p or overwrites the product with the same id.
func (s *SQLStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES (:id, :name, :sku, :category, :brand, :location, :quantity, :safety_stock, :price, :created_at, :updated_at)`
	if s.driver == DriverMySQL {
		query += `
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), sku = VALUES(sku), category = VALUES(category), brand = VALUES(brand),
			location = VALUES(location), quantity = VALUES(quantity), safety_stock = VALUES(safety_stock),
			price = VALUES(price), updated_at = VALUES(updated_at)`
	} else {
		query += `
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, sku = excluded.sku, category = excluded.category, brand = excluded.brand,
			location = excluded.location, quantity = excluded.quantity, safety_stock = excluded.safety_stock,
			price = excluded.price, updated_at = excluded.updated_at`
	}

	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// lockClause returns the row lock suffix. SQLite has none; its single
// connection already serializes transactions.
func (s *SQLStore) lockClause() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func execScript(ctx context.Context, db *sqlx.DB, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}
