package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/stock-sync/internal/adapter/gateway"
	"github.com/rl1809/stock-sync/internal/adapter/storage"
	"github.com/rl1809/stock-sync/internal/config"
	"github.com/rl1809/stock-sync/internal/core/domain"
)

const productID = "stress-item"

type options struct {
	configPath   string
	initialStock int
	devices      int
}

// Many devices come back online at once and each replays one unit sale of
// the same product. Exactly initialStock of them may succeed.
func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "stress_test",
		Short:        "Replay concurrent device batches against a running sync server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file")
	cmd.Flags().IntVar(&opts.initialStock, "stock", 20, "initial quantity")
	cmd.Flags().IntVar(&opts.devices, "devices", 50, "concurrent devices")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	store, err := storage.OpenSQLStore(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.UpsertProduct(ctx, domain.Product{
		ID:       productID,
		Name:     "Stress Item",
		SKU:      "STRESS-001",
		Location: "A-1",
		Quantity: opts.initialStock,
	}); err != nil {
		return err
	}

	gw, err := gateway.DialGRPC(cfg.Client.ServerAddr)
	if err != nil {
		return err
	}
	defer gw.Close()
	if err := gw.Probe(ctx); err != nil {
		return fmt.Errorf("server not reachable at %s: %w", cfg.Client.ServerAddr, err)
	}

	var (
		successCount atomic.Int32
		failCount    atomic.Int32
		errorCount   atomic.Int32
		wg           sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < opts.devices; i++ {
		wg.Add(1)
		go func(device int) {
			defer wg.Done()

			result, err := gw.SubmitBatch(ctx, domain.SyncBatch{
				DeviceID: fmt.Sprintf("device-%d", device),
				ActorID:  fmt.Sprintf("clerk-%d", device),
				Actions: []domain.QueuedAction{{
					ID:         uuid.Must(uuid.NewV7()).String(),
					Payload:    domain.AdjustInventory{ProductID: productID, QuantityDelta: -1},
					EnqueuedAt: time.Now().UTC(),
				}},
			})
			if err != nil {
				errorCount.Add(1)
				return
			}
			succeeded, failed := result.Counts()
			successCount.Add(int32(succeeded))
			failCount.Add(int32(failed))
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success, fail := int(successCount.Load()), int(failCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", opts.initialStock)
	fmt.Printf("Devices:          %d\n", opts.devices)
	fmt.Printf("Applied:          %d\n", success)
	fmt.Printf("Rejected:         %d\n", fail)
	fmt.Printf("Transport Errors: %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	want := min(opts.initialStock, opts.devices)
	if success == want && fail == opts.devices-want {
		fmt.Printf("PASS: exactly %d adjustments applied\n", want)
	} else {
		fmt.Printf("FAIL: expected %d applied/%d rejected, got %d/%d\n", want, opts.devices-want, success, fail)
	}

	p, err := store.FindByID(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("product %s disappeared", productID)
	}
	fmt.Printf("Final Stock: %d\n", p.Quantity)
	if p.Quantity == opts.initialStock-want {
		fmt.Println("PASS: stock never went negative")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", opts.initialStock-want, p.Quantity)
	}
	return nil
}
