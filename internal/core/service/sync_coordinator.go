package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/port"
)

const defaultBatchTimeout = 30 * time.Second

type CoordinatorConfig struct {
	DeviceID     string
	ActorID      string
	BatchTimeout time.Duration

	// DropRejected removes non-retryable rejections from the queue right away.
	DropRejected bool
	// MaxAttempts removes a non-retryable rejection once it has failed this
	// many times. Zero keeps it until the user discards it.
	MaxAttempts int
}

// SyncCoordinator pushes the pending queue to the server and records what
// the server did with each entry.
type SyncCoordinator struct {
	queue   *ActionQueue
	gateway port.SyncGateway
	conn    port.Connectivity
	cfg     CoordinatorConfig
	running atomic.Bool
	lease   port.SyncLease
	owner   string
	logger  zerolog.Logger
}

func NewSyncCoordinator(queue *ActionQueue, gateway port.SyncGateway, conn port.Connectivity, cfg CoordinatorConfig, logger zerolog.Logger) *SyncCoordinator {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	return &SyncCoordinator{
		queue:   queue,
		gateway: gateway,
		conn:    conn,
		cfg:     cfg,
		owner:   uuid.NewString(),
		logger:  logger.With().Str("component", "sync").Logger(),
	}
}

// WithLease extends the one-sync-at-a-time rule to every coordinator that
// shares lease, across processes.
func (c *SyncCoordinator) WithLease(lease port.SyncLease) *SyncCoordinator {
	c.lease = lease
	return c
}

// Sync submits the current pending snapshot. A call made while another sync
// is running, here or under the same lease, returns an empty report. Once the
// batch is submitted, canceling ctx does not interrupt it; only the batch
// timeout does.
func (c *SyncCoordinator) Sync(ctx context.Context) (domain.SyncReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("sync already in flight")
		return domain.SyncReport{}, nil
	}
	defer c.running.Store(false)

	if !c.conn.Online() {
		c.logger.Debug().Msg("offline, sync skipped")
		return domain.SyncReport{}, nil
	}

	if c.lease != nil {
		// the lease outlives the batch timeout so settling stays covered
		acquired, err := c.lease.AcquireLease(ctx, c.owner, 2*c.cfg.BatchTimeout)
		if err != nil {
			return domain.SyncReport{}, fmt.Errorf("%w: acquire sync lease: %v", domain.ErrTransientIO, err)
		}
		if !acquired {
			c.logger.Debug().Msg("sync in flight in another process")
			return domain.SyncReport{}, nil
		}
		defer func() {
			if err := c.lease.ReleaseLease(context.WithoutCancel(ctx), c.owner); err != nil {
				c.logger.Warn().Err(err).Msg("failed to release sync lease")
			}
		}()
	}

	pending, err := c.queue.ListPending(ctx)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("list pending actions: %w", err)
	}
	if len(pending) == 0 {
		return domain.SyncReport{}, nil
	}

	work := context.WithoutCancel(ctx)
	batchCtx, cancel := context.WithTimeout(work, c.cfg.BatchTimeout)
	defer cancel()

	result, err := c.gateway.SubmitBatch(batchCtx, domain.SyncBatch{
		DeviceID: c.cfg.DeviceID,
		ActorID:  c.cfg.ActorID,
		Actions:  pending,
	})
	if err != nil {
		c.logger.Warn().Err(err).Int("pending", len(pending)).Msg("batch submission failed, entries stay pending")
		return unconfirmedReport(pending, err), fmt.Errorf("%w: submit batch: %v", domain.ErrTransientIO, err)
	}

	report, err := c.settle(work, pending, result)

	c.logger.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("dropped", report.Dropped).
		Msg("sync finished")

	return report, err
}

// Run triggers one sync per offline to online transition until ctx is done
// or the channel is closed.
func (c *SyncCoordinator) Run(ctx context.Context, transitions <-chan domain.Transition) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if !t.Online {
				c.logger.Info().Msg("connection lost, queueing locally")
				continue
			}
			if _, err := c.Sync(ctx); err != nil {
				c.logger.Error().Err(err).Msg("sync after reconnect failed")
			}
		}
	}
}

func (c *SyncCoordinator) settle(ctx context.Context, pending []domain.QueuedAction, result domain.BatchResult) (domain.SyncReport, error) {
	byID := make(map[string]domain.Outcome, len(result.Outcomes))
	for _, o := range result.Outcomes {
		byID[o.ActionID] = o
	}

	var (
		report domain.SyncReport
		errs   []error
	)
	for _, action := range pending {
		outcome, ok := byID[action.ID]
		if !ok {
			outcome = domain.Rejected(action, fmt.Errorf("%w: server returned no outcome", domain.ErrTransientIO))
		}

		if outcome.Applied() {
			report.Succeeded++
			if err := c.queue.MarkSynced(ctx, action.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		failure := domain.Failure{
			Action:    action,
			Reason:    outcome.Reason,
			Message:   outcome.Message,
			Retryable: outcome.Reason.Retryable(),
		}
		if !failure.Retryable && c.shouldDrop(action.Attempts+1) {
			failure.Dropped = true
			report.Dropped++
			if err := c.queue.MarkSynced(ctx, action.ID); err != nil {
				errs = append(errs, err)
			}
		} else if err := c.queue.RecordFailure(ctx, action.ID, outcome.Message); err != nil {
			errs = append(errs, err)
		}

		report.Failed++
		report.Failures = append(report.Failures, failure)
	}

	if _, err := c.queue.PurgeSynced(ctx); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (c *SyncCoordinator) shouldDrop(attempts int) bool {
	if c.cfg.DropRejected {
		return true
	}
	return c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts
}

func unconfirmedReport(pending []domain.QueuedAction, err error) domain.SyncReport {
	report := domain.SyncReport{Failed: len(pending)}
	for _, a := range pending {
		report.Failures = append(report.Failures, domain.Failure{
			Action:    a,
			Reason:    domain.ReasonTransientIO,
			Message:   err.Error(),
			Retryable: true,
		})
	}
	return report
}
