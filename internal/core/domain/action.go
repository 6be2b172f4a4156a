package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ActionKind string

const (
	KindAdjustInventory ActionKind = "ADJUST_INVENTORY"
	KindMoveLocation    ActionKind = "MOVE_LOCATION"
)

// Payload is the kind-specific body of a queued action. The set of
// implementations is closed; adding a kind means adding a type here and a
// handler in the reconciliation engine.
type Payload interface {
	Kind() ActionKind
	Target() string
	Validate() error
	isPayload()
}

type AdjustInventory struct {
	ProductID     string `json:"product_id"`
	QuantityDelta int    `json:"quantity_delta"`
	Memo          string `json:"memo,omitempty"`
}

func (AdjustInventory) Kind() ActionKind { return KindAdjustInventory }
func (p AdjustInventory) Target() string { return p.ProductID }
func (AdjustInventory) isPayload()       {}

func (p AdjustInventory) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidAction)
	}
	if p.QuantityDelta == 0 {
		return fmt.Errorf("%w: quantity delta must not be zero", ErrInvalidAction)
	}
	if p.QuantityDelta > MaxQuantity || p.QuantityDelta < -MaxQuantity {
		return fmt.Errorf("%w: quantity delta %d out of range", ErrInvalidAction, p.QuantityDelta)
	}
	return nil
}

type MoveLocation struct {
	ProductID  string `json:"product_id"`
	ToLocation string `json:"to_location"`
}

func (MoveLocation) Kind() ActionKind { return KindMoveLocation }
func (p MoveLocation) Target() string { return p.ProductID }
func (MoveLocation) isPayload()       {}

func (p MoveLocation) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidAction)
	}
	if strings.TrimSpace(p.ToLocation) == "" {
		return fmt.Errorf("%w: target location is required", ErrInvalidAction)
	}
	return nil
}

// QueuedAction is a mutation recorded on a device while it could not reach
// the server.
type QueuedAction struct {
	ID         string
	Payload    Payload
	EnqueuedAt time.Time
	Synced     bool
	Attempts   int
	LastError  string
}

func (a QueuedAction) Kind() ActionKind {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Kind()
}

// EncodePayload returns the kind tag and JSON body used by both the local
// queue and the sync wire format.
func EncodePayload(p Payload) (ActionKind, json.RawMessage, error) {
	if p == nil {
		return "", nil, fmt.Errorf("%w: nil payload", ErrInvalidAction)
	}
	switch p.(type) {
	case AdjustInventory, MoveLocation:
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownKind, p)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), raw, nil
}

func DecodePayload(kind ActionKind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindAdjustInventory:
		var p AdjustInventory
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidAction, kind, err)
		}
		return p, nil
	case KindMoveLocation:
		var p MoveLocation
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidAction, kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
