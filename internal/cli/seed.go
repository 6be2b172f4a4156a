package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/stock-sync/internal/adapter/storage"
	"github.com/rl1809/stock-sync/internal/core/domain"
)

// seedFile is the fixture format read by the seed command.
type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	SKU         string `yaml:"sku"`
	Category    string `yaml:"category"`
	Brand       string `yaml:"brand"`
	Location    string `yaml:"location"`
	Quantity    int    `yaml:"quantity"`
	SafetyStock int    `yaml:"safety_stock"`
	Price       string `yaml:"price"`
}

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or overwrite products from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := loadSeed(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "load seed file", err)
			}

			n, err := seedProducts(cmd.Context(), opts, products)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Print(map[string]int{"seeded": n}, func(w io.Writer) {
				fmt.Fprintf(w, "seeded %d products\n", n)
			})
		},
	}
}

func loadSeed(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	products := make([]domain.Product, 0, len(file.Products))
	seen := make(map[string]bool, len(file.Products))
	for i, sp := range file.Products {
		if strings.TrimSpace(sp.ID) == "" || strings.TrimSpace(sp.SKU) == "" {
			return nil, fmt.Errorf("product %d: id and sku are required", i)
		}
		if seen[sp.ID] {
			return nil, fmt.Errorf("product %d: duplicate id %q", i, sp.ID)
		}
		seen[sp.ID] = true
		if sp.Quantity < 0 {
			return nil, fmt.Errorf("product %s: quantity must not be negative", sp.ID)
		}

		price := decimal.Zero
		if sp.Price != "" {
			if price, err = decimal.NewFromString(sp.Price); err != nil {
				return nil, fmt.Errorf("product %s: price: %w", sp.ID, err)
			}
		}

		products = append(products, domain.Product{
			ID:          sp.ID,
			Name:        sp.Name,
			SKU:         sp.SKU,
			Category:    sp.Category,
			Brand:       sp.Brand,
			Location:    sp.Location,
			Quantity:    sp.Quantity,
			SafetyStock: sp.SafetyStock,
			Price:       price,
		})
	}
	return products, nil
}

func seedProducts(ctx context.Context, opts *RootOptions, products []domain.Product) (int, error) {
	db := opts.Config.Database
	store, err := storage.OpenSQLStore(ctx, db.Driver, db.DSN, db.MaxOpenConns)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return 0, err
	}
	for _, p := range products {
		if err := store.UpsertProduct(ctx, p); err != nil {
			return 0, err
		}
		opts.Logger.Debug().Str("product_id", p.ID).Str("sku", p.SKU).Msg("product seeded")
	}
	return len(products), nil
}
