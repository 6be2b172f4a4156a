package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rl1809/stock-sync/internal/adapter/gateway"
	"github.com/rl1809/stock-sync/internal/adapter/storage"
	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/core/service"
	"github.com/rl1809/stock-sync/internal/port"
)

// syncGateway is what a device needs from the server side.
type syncGateway interface {
	port.SyncGateway
	port.Prober
}

type actionView struct {
	ID         string    `json:"id" yaml:"id"`
	Kind       string    `json:"kind" yaml:"kind"`
	ProductID  string    `json:"product_id" yaml:"product_id"`
	Detail     string    `json:"detail" yaml:"detail"`
	EnqueuedAt time.Time `json:"enqueued_at" yaml:"enqueued_at"`
	Attempts   int       `json:"attempts" yaml:"attempts"`
	LastError  string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

type failureView struct {
	ActionID  string `json:"action_id" yaml:"action_id"`
	ProductID string `json:"product_id" yaml:"product_id"`
	Reason    string `json:"reason" yaml:"reason"`
	Message   string `json:"message" yaml:"message"`
	Retryable bool   `json:"retryable" yaml:"retryable"`
	Dropped   bool   `json:"dropped" yaml:"dropped"`
}

type reportView struct {
	Online    bool          `json:"online" yaml:"online"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Dropped   int           `json:"dropped" yaml:"dropped"`
	Failures  []failureView `json:"failures,omitempty" yaml:"failures,omitempty"`
}

type enqueueView struct {
	ID        string      `json:"id" yaml:"id"`
	Kind      string      `json:"kind" yaml:"kind"`
	ProductID string      `json:"product_id" yaml:"product_id"`
	Sync      *reportView `json:"sync,omitempty" yaml:"sync,omitempty"`
}

func NewClientCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Record actions on this device and sync them",
	}

	cmd.AddCommand(newAdjustCommand(opts))
	cmd.AddCommand(newMoveCommand(opts))
	cmd.AddCommand(newPendingCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newDiscardCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func newAdjustCommand(opts *RootOptions) *cobra.Command {
	var (
		delta   int
		memo    string
		syncNow bool
	)
	cmd := &cobra.Command{
		Use:   "adjust <product-id> --delta N",
		Short: "Queue a stock adjustment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, opts, domain.AdjustInventory{
				ProductID:     args[0],
				QuantityDelta: delta,
				Memo:          memo,
			}, syncNow)
		},
	}
	cmd.Flags().IntVarP(&delta, "delta", "d", 0, "signed quantity change")
	cmd.Flags().StringVarP(&memo, "memo", "m", "", "note stored with the adjustment")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to sync right after queueing")
	cmd.MarkFlagRequired("delta")
	return cmd
}

func newMoveCommand(opts *RootOptions) *cobra.Command {
	var syncNow bool
	cmd := &cobra.Command{
		Use:   "move <product-id> <location>",
		Short: "Queue a location move",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, opts, domain.MoveLocation{
				ProductID:  args[0],
				ToLocation: args[1],
			}, syncNow)
		},
	}
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to sync right after queueing")
	return cmd
}

func newPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting to be synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			queue, closeQueue, err := openQueue(ctx, opts)
			if err != nil {
				return err
			}
			defer closeQueue()

			pending, err := queue.ListPending(ctx)
			if err != nil {
				return err
			}
			views := make([]actionView, 0, len(pending))
			for _, a := range pending {
				views = append(views, newActionView(a))
			}

			return opts.formatter(cmd).Print(views, func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "no pending actions")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tPRODUCT\tDETAIL\tQUEUED\tATTEMPTS\tLAST ERROR")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						v.ID, v.Kind, v.ProductID, v.Detail, v.EnqueuedAt.Local().Format(time.DateTime), v.Attempts, v.LastError)
				}
				tw.Flush()
			})
		},
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending actions to the server once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			queue, closeQueue, err := openQueue(ctx, opts)
			if err != nil {
				return err
			}
			defer closeQueue()

			view, syncErr := syncOnce(ctx, opts, queue)
			var exitErr *ExitError
			if errors.As(syncErr, &exitErr) {
				return syncErr
			}
			if err := opts.formatter(cmd).Print(view, func(w io.Writer) { writeReport(w, view) }); err != nil {
				return err
			}
			if syncErr != nil {
				return WrapExitError(ExitFailure, "sync", syncErr)
			}
			if !view.Online {
				return NewExitError(ExitFailure, "server unreachable, actions stay queued")
			}
			return nil
		},
	}
}

func newDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <action-id>",
		Short: "Drop a queued action without syncing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			queue, closeQueue, err := openQueue(ctx, opts)
			if err != nil {
				return err
			}
			defer closeQueue()

			if err := queue.Discard(ctx, args[0]); err != nil {
				if errors.Is(err, domain.ErrActionNotFound) {
					return WrapExitError(ExitCommandError, "discard", err)
				}
				return err
			}
			return opts.formatter(cmd).Print(map[string]string{"discarded": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "discarded %s\n", args[0])
			})
		},
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Probe the server and sync whenever it comes back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), opts)
		},
	}
}

func watch(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config.Client
	if err := requireActor(opts); err != nil {
		return err
	}

	queue, closeQueue, err := openQueue(ctx, opts)
	if err != nil {
		return err
	}
	defer closeQueue()

	gw, closeGateway, err := openGateway(ctx, opts)
	if err != nil {
		return err
	}
	defer closeGateway()

	monitor := service.NewConnectivityMonitor(gw, cfg.ProbeInterval, cfg.ProbeStable, opts.Logger)
	coordinator := newCoordinator(opts, queue, gw, monitor)

	opts.Logger.Info().Dur("interval", cfg.ProbeInterval).Msg("watching connectivity")

	return runUntilFirstError(ctx,
		monitor.Run,
		func(ctx context.Context) error { return coordinator.Run(ctx, monitor.Events()) },
	)
}

// runUntilFirstError runs every loop until ctx is done or one of them
// returns, then stops the rest. It reports the first error that is not a
// cancellation.
func runUntilFirstError(ctx context.Context, loops ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(loops))
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			errCh <- loop(ctx)
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func enqueue(cmd *cobra.Command, opts *RootOptions, payload domain.Payload, syncNow bool) error {
	ctx := cmd.Context()
	queue, closeQueue, err := openQueue(ctx, opts)
	if err != nil {
		return err
	}
	defer closeQueue()

	id, err := queue.Enqueue(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAction) || errors.Is(err, domain.ErrUnknownKind) {
			return WrapExitError(ExitCommandError, "enqueue", err)
		}
		return err
	}

	view := enqueueView{ID: id, Kind: string(payload.Kind()), ProductID: payload.Target()}
	if syncNow {
		report, err := syncOnce(ctx, opts, queue)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("action_id", id).Msg("sync failed, action stays queued")
		}
		view.Sync = &report
	}

	return opts.formatter(cmd).Print(view, func(w io.Writer) {
		fmt.Fprintf(w, "queued %s %s for %s\n", view.Kind, view.ID, view.ProductID)
		if view.Sync != nil {
			writeReport(w, *view.Sync)
		}
	})
}

// syncOnce probes the server a single time and, if it answers, pushes the
// pending queue.
func syncOnce(ctx context.Context, opts *RootOptions, queue *localQueue) (reportView, error) {
	if err := requireActor(opts); err != nil {
		return reportView{}, err
	}
	gw, closeGateway, err := openGateway(ctx, opts)
	if err != nil {
		return reportView{}, err
	}
	defer closeGateway()

	monitor := service.NewConnectivityMonitor(gw, opts.Config.Client.ProbeInterval, 1, opts.Logger)
	coordinator := newCoordinator(opts, queue, gw, monitor)

	if !monitor.Check(ctx) {
		return reportView{}, nil
	}
	report, err := coordinator.Sync(ctx)
	view := newReportView(report)
	view.Online = true
	return view, err
}

// localQueue is the device queue plus the sync lease stored alongside it,
// shared by every process that opens the same queue file.
type localQueue struct {
	*service.ActionQueue
	lease port.SyncLease
}

func openQueue(ctx context.Context, opts *RootOptions) (*localQueue, func(), error) {
	store, err := storage.OpenSQLiteActionStore(ctx, opts.Config.Client.QueuePath)
	if err != nil {
		return nil, nil, err
	}
	q := &localQueue{ActionQueue: service.NewActionQueue(store), lease: store}
	return q, func() { store.Close() }, nil
}

// openGateway dials client.server_addr, or replays in-process against the
// configured database when no server address is set.
func openGateway(ctx context.Context, opts *RootOptions) (syncGateway, func(), error) {
	if addr := opts.Config.Client.ServerAddr; addr != "" {
		gw, err := gateway.DialGRPC(addr)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() { gw.Close() }, nil
	}

	b, err := openBackend(ctx, opts.Config, opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	return gateway.NewLocalGateway(b.engine, b.store.Ping), b.Close, nil
}

// requireActor fails before any connection is made.
func requireActor(opts *RootOptions) error {
	if strings.TrimSpace(opts.Config.Client.ActorID) == "" {
		return NewExitError(ExitCommandError, "client.actor_id is required to sync")
	}
	return nil
}

func newCoordinator(opts *RootOptions, queue *localQueue, gw port.SyncGateway, conn port.Connectivity) *service.SyncCoordinator {
	cfg := opts.Config.Client
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, _ = os.Hostname()
	}

	return service.NewSyncCoordinator(queue.ActionQueue, gw, conn, service.CoordinatorConfig{
		DeviceID:     deviceID,
		ActorID:      cfg.ActorID,
		BatchTimeout: cfg.BatchTimeout,
		DropRejected: cfg.DropRejected,
		MaxAttempts:  cfg.MaxAttempts,
	}, opts.Logger).WithLease(queue.lease)
}

func newActionView(a domain.QueuedAction) actionView {
	v := actionView{
		ID:         a.ID,
		Kind:       string(a.Kind()),
		EnqueuedAt: a.EnqueuedAt,
		Attempts:   a.Attempts,
		LastError:  a.LastError,
	}
	switch p := a.Payload.(type) {
	case domain.AdjustInventory:
		v.ProductID = p.ProductID
		v.Detail = fmt.Sprintf("%+d", p.QuantityDelta)
		if p.Memo != "" {
			v.Detail += " (" + p.Memo + ")"
		}
	case domain.MoveLocation:
		v.ProductID = p.ProductID
		v.Detail = "to " + p.ToLocation
	}
	return v
}

func newReportView(r domain.SyncReport) reportView {
	v := reportView{Succeeded: r.Succeeded, Failed: r.Failed, Dropped: r.Dropped}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, failureView{
			ActionID:  f.Action.ID,
			ProductID: f.Action.Payload.Target(),
			Reason:    string(f.Reason),
			Message:   f.Message,
			Retryable: f.Retryable,
			Dropped:   f.Dropped,
		})
	}
	return v
}

func writeReport(w io.Writer, v reportView) {
	if !v.Online {
		fmt.Fprintln(w, "offline: actions stay queued")
		return
	}
	fmt.Fprintf(w, "synced %d, failed %d, dropped %d\n", v.Succeeded, v.Failed, v.Dropped)
	for _, f := range v.Failures {
		state := "kept"
		if f.Dropped {
			state = "dropped"
		}
		fmt.Fprintf(w, "  %s %s: %s (%s, %s)\n", f.ActionID, f.ProductID, f.Message, f.Reason, state)
	}
}
