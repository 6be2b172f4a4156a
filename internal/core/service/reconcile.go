package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/port"
)

const (
	defaultNotifyTimeout = 5 * time.Second
	defaultApplyTimeout  = 30 * time.Second
)

// ReconciliationEngine replays queued actions against the current product
// state. It owns no state of its own.
type ReconciliationEngine struct {
	products      port.ProductStore
	notifier      port.Notifier
	guard         port.ReplayGuard
	notifyTimeout time.Duration
	applyTimeout  time.Duration
	now           func() time.Time
	newID         func() string
	logger        zerolog.Logger
}

func NewReconciliationEngine(products port.ProductStore, notifier port.Notifier, logger zerolog.Logger) *ReconciliationEngine {
	return &ReconciliationEngine{
		products:      products,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
		applyTimeout:  defaultApplyTimeout,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
		logger:        logger.With().Str("component", "reconcile").Logger(),
	}
}

// WithReplayGuard enables per-action deduplication across retried batches.
func (e *ReconciliationEngine) WithReplayGuard(guard port.ReplayGuard) *ReconciliationEngine {
	e.guard = guard
	return e
}

// WithApplyTimeout bounds how long a claimed action may take to apply. Keep it
// below the guard's claim TTL so a claim cannot expire mid-apply.
func (e *ReconciliationEngine) WithApplyTimeout(d time.Duration) *ReconciliationEngine {
	if d > 0 {
		e.applyTimeout = d
	}
	return e
}

func (e *ReconciliationEngine) WithNotifyTimeout(d time.Duration) *ReconciliationEngine {
	if d > 0 {
		e.notifyTimeout = d
	}
	return e
}

// ApplyBatch applies actions one at a time in enqueue order. A rejected
// action never stops the ones after it. Outcomes come back in replay order.
func (e *ReconciliationEngine) ApplyBatch(ctx context.Context, actions []domain.QueuedAction, actorID string) []domain.Outcome {
	ordered := make([]domain.QueuedAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EnqueuedAt.Before(ordered[j].EnqueuedAt)
	})

	outcomes := make([]domain.Outcome, 0, len(ordered))
	for _, action := range ordered {
		outcome := e.apply(ctx, action, actorID)
		if !outcome.Applied() {
			e.logger.Warn().
				Str("action_id", action.ID).
				Str("kind", string(outcome.Kind)).
				Str("reason", string(outcome.Reason)).
				Msg(outcome.Message)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *ReconciliationEngine) apply(ctx context.Context, action domain.QueuedAction, actorID string) domain.Outcome {
	if action.Payload == nil {
		return domain.Rejected(action, fmt.Errorf("%w: missing payload", domain.ErrInvalidAction))
	}
	if err := action.Payload.Validate(); err != nil {
		return domain.Rejected(action, err)
	}
	if e.guard == nil {
		return e.dispatch(ctx, action, actorID)
	}

	claim, err := e.guard.Claim(ctx, action.ID)
	if err != nil {
		return domain.Rejected(action, fmt.Errorf("%w: claim action: %v", domain.ErrTransientIO, err))
	}
	switch claim {
	case domain.ClaimApplied:
		return domain.Outcome{
			ActionID:  action.ID,
			Kind:      action.Kind(),
			Status:    domain.OutcomeApplied,
			Duplicate: true,
		}
	case domain.ClaimInProgress:
		return domain.Rejected(action, fmt.Errorf("%w: action is being replayed elsewhere", domain.ErrTransientIO))
	}

	applyCtx, cancel := context.WithTimeout(ctx, e.applyTimeout)
	outcome := e.dispatch(applyCtx, action, actorID)
	cancel()
	if outcome.Applied() {
		if err := e.guard.Confirm(ctx, action.ID); err != nil {
			e.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to confirm replay claim")
		}
	} else if err := e.guard.Release(ctx, action.ID); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to release replay claim")
	}
	return outcome
}

func (e *ReconciliationEngine) dispatch(ctx context.Context, action domain.QueuedAction, actorID string) domain.Outcome {
	switch p := action.Payload.(type) {
	case domain.AdjustInventory:
		return e.adjustInventory(ctx, action, p, actorID)
	case domain.MoveLocation:
		return e.moveLocation(ctx, action, p, actorID)
	default:
		return domain.Rejected(action, fmt.Errorf("%w: %T", domain.ErrUnknownKind, p))
	}
}

func (e *ReconciliationEngine) adjustInventory(ctx context.Context, action domain.QueuedAction, p domain.AdjustInventory, actorID string) domain.Outcome {
	at := e.stamp(action)

	var change domain.Change
	product, err := e.products.Update(ctx, p.ProductID, func(current domain.Product) (domain.Change, error) {
		var err error
		change, err = planAdjustment(current, p, actorID, e.newID(), at)
		return change, err
	})
	if err != nil {
		return domain.Rejected(action, storeError(err))
	}

	if product.LowStock() {
		e.notifyLowStock(ctx, *product)
	}

	return domain.Outcome{
		ActionID:   action.ID,
		Kind:       action.Kind(),
		Status:     domain.OutcomeApplied,
		Product:    product,
		Adjustment: change.Adjustment,
	}
}

func (e *ReconciliationEngine) moveLocation(ctx context.Context, action domain.QueuedAction, p domain.MoveLocation, actorID string) domain.Outcome {
	at := e.stamp(action)

	var change domain.Change
	product, err := e.products.Update(ctx, p.ProductID, func(current domain.Product) (domain.Change, error) {
		var err error
		change, err = planMove(current, p, actorID, e.newID(), at)
		return change, err
	})
	if err != nil {
		return domain.Rejected(action, storeError(err))
	}

	return domain.Outcome{
		ActionID: action.ID,
		Kind:     action.Kind(),
		Status:   domain.OutcomeApplied,
		Product:  product,
		Move:     change.Move,
	}
}

// notifyLowStock never fails the adjustment that triggered it.
func (e *ReconciliationEngine) notifyLowStock(ctx context.Context, product domain.Product) {
	if e.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()

	alert := domain.LowStockAlert{
		ProductID:   product.ID,
		Name:        product.Name,
		SKU:         product.SKU,
		Quantity:    product.Quantity,
		SafetyStock: product.SafetyStock,
	}
	if err := e.notifier.NotifyLowStock(ctx, alert); err != nil {
		e.logger.Error().Err(err).Str("product_id", product.ID).Msg("low stock notification failed")
	}
}

func (e *ReconciliationEngine) stamp(action domain.QueuedAction) time.Time {
	if action.EnqueuedAt.IsZero() {
		return e.now().UTC()
	}
	return action.EnqueuedAt
}

func planAdjustment(current domain.Product, p domain.AdjustInventory, actorID, recordID string, at time.Time) (domain.Change, error) {
	if p.QuantityDelta > 0 && current.Quantity > domain.MaxQuantity-p.QuantityDelta {
		return domain.Change{}, fmt.Errorf("%w: %s has %d, adjustment %d exceeds %d",
			domain.ErrInvalidAction, current.SKU, current.Quantity, p.QuantityDelta, domain.MaxQuantity)
	}
	newQty := current.Quantity + p.QuantityDelta
	if newQty < 0 {
		return domain.Change{}, fmt.Errorf("%w: %s has %d, adjustment %d",
			domain.ErrInsufficientStock, current.SKU, current.Quantity, p.QuantityDelta)
	}

	return domain.Change{
		Quantity: &newQty,
		Adjustment: &domain.InventoryAdjustment{
			ID:        recordID,
			ProductID: current.ID,
			ActorID:   actorID,
			Quantity:  p.QuantityDelta,
			Memo:      p.Memo,
			CreatedAt: at,
		},
	}, nil
}

func planMove(current domain.Product, p domain.MoveLocation, actorID, recordID string, at time.Time) (domain.Change, error) {
	if current.Location == p.ToLocation {
		return domain.Change{}, fmt.Errorf("%w: %s", domain.ErrNoOpMove, p.ToLocation)
	}

	to := p.ToLocation
	return domain.Change{
		Location: &to,
		Move: &domain.LocationHistory{
			ID:           recordID,
			ProductID:    current.ID,
			ActorID:      actorID,
			FromLocation: current.Location,
			ToLocation:   to,
			MovedAt:      at,
		},
	}, nil
}

// storeError keeps business rejections as they are and marks everything
// else as transient.
func storeError(err error) error {
	if domain.ReasonOf(err) != domain.ReasonTransientIO || errors.Is(err, domain.ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
}
