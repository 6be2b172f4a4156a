package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/port"
)

// ActionQueue is the device-local list of mutations that have not reached
// the server yet. Enqueue never touches the network.
type ActionQueue struct {
	store port.ActionStore
	now   func() time.Time
	newID func() string
}

func NewActionQueue(store port.ActionStore) *ActionQueue {
	return &ActionQueue{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func (q *ActionQueue) Enqueue(ctx context.Context, payload domain.Payload) (string, error) {
	if _, _, err := domain.EncodePayload(payload); err != nil {
		return "", err
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	action := domain.QueuedAction{
		ID:         q.newID(),
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.store.Put(ctx, action); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", payload.Kind(), err)
	}
	return action.ID, nil
}

func (q *ActionQueue) ListPending(ctx context.Context) ([]domain.QueuedAction, error) {
	return q.store.ListBySynced(ctx, false)
}

func (q *ActionQueue) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	return q.store.Get(ctx, id)
}

// MarkSynced is a no-op for unknown ids and for entries already synced.
func (q *ActionQueue) MarkSynced(ctx context.Context, id string) error {
	return q.store.MarkSynced(ctx, id)
}

// RecordFailure keeps the entry pending and remembers why it was rejected.
func (q *ActionQueue) RecordFailure(ctx context.Context, id, message string) error {
	return q.store.RecordFailure(ctx, id, message)
}

// PurgeSynced deletes every synced entry. New entries are never synced, so
// this cannot race with Enqueue.
func (q *ActionQueue) PurgeSynced(ctx context.Context) (int, error) {
	synced, err := q.store.ListBySynced(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list synced actions: %w", err)
	}

	for i, a := range synced {
		if err := q.store.Delete(ctx, a.ID); err != nil {
			return i, fmt.Errorf("delete action %s: %w", a.ID, err)
		}
	}
	return len(synced), nil
}

// Discard removes an entry the user chose to give up on.
func (q *ActionQueue) Discard(ctx context.Context, id string) error {
	a, err := q.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load action %s: %w", id, err)
	}
	if a == nil {
		return fmt.Errorf("%w: %s", domain.ErrActionNotFound, id)
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return nil
}
