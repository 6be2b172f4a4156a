package domain

import "errors"

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNoOpMove          = errors.New("product is already at target location")
	ErrTransientIO       = errors.New("transient i/o failure")
	ErrUnknownKind       = errors.New("unknown action kind")
	ErrInvalidAction     = errors.New("invalid action")
	ErrActionNotFound    = errors.New("queued action not found")
)

// RejectReason is the wire-stable code of a rejected action.
type RejectReason string

const (
	ReasonNotFound          RejectReason = "not_found"
	ReasonInsufficientStock RejectReason = "insufficient_stock"
	ReasonNoOpMove          RejectReason = "noop_move"
	ReasonTransientIO       RejectReason = "transient_io"
	ReasonInvalidAction     RejectReason = "invalid_action"
)

// Retryable reports whether replaying the same action later can succeed
// without someone changing it first.
func (r RejectReason) Retryable() bool {
	return r == ReasonTransientIO
}

// ReasonOf classifies err. Anything that is not a known business rejection
// is treated as transient.
func ReasonOf(err error) RejectReason {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ErrNoOpMove):
		return ReasonNoOpMove
	case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrInvalidAction):
		return ReasonInvalidAction
	default:
		return ReasonTransientIO
	}
}

// Err returns the sentinel error matching r.
func (r RejectReason) Err() error {
	switch r {
	case ReasonNotFound:
		return ErrNotFound
	case ReasonInsufficientStock:
		return ErrInsufficientStock
	case ReasonNoOpMove:
		return ErrNoOpMove
	case ReasonInvalidAction:
		return ErrInvalidAction
	default:
		return ErrTransientIO
	}
}
