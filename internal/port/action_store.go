package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

// ActionStore is the durable device-local store behind the action queue.
type ActionStore interface {
	// Put inserts or replaces an entry keyed by its id
	Put(ctx context.Context, action domain.QueuedAction) error

	// Get returns nil, nil when the id is unknown
	Get(ctx context.Context, id string) (*domain.QueuedAction, error)

	// ListBySynced returns entries with the given flag in insertion order
	ListBySynced(ctx context.Context, synced bool) ([]domain.QueuedAction, error)

	// MarkSynced and RecordFailure update the entry in place and do nothing
	// when it no longer exists.
	MarkSynced(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, message string) error

	Delete(ctx context.Context, id string) error
}

// SyncLease is a named exclusive lease shared by every process that opens
// the same queue. An expired lease can be taken over.
type SyncLease interface {
	// AcquireLease reports false when another owner holds an unexpired lease
	AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseLease is a no-op unless owner holds the lease
	ReleaseLease(ctx context.Context, owner string) error
}
