// Package pb holds the SyncService wire contract. Messages travel as JSON
// over gRPC using the codec registered in codec.go.
package pb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

type Action struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type SubmitBatchRequest struct {
	DeviceID string    `json:"device_id"`
	ActorID  string    `json:"actor_id"`
	Actions  []*Action `json:"actions"`
}

type ActionResult struct {
	ActionID        string                      `json:"action_id"`
	Kind            string                      `json:"kind"`
	Product         *domain.Product             `json:"product,omitempty"`
	Adjustment      *domain.InventoryAdjustment `json:"adjustment,omitempty"`
	LocationHistory *domain.LocationHistory     `json:"location_history,omitempty"`
	Duplicate       bool                        `json:"duplicate,omitempty"`
}

type ActionError struct {
	ActionID  string `json:"action_id"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type SubmitBatchResponse struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []*ActionResult `json:"results"`
	Errors    []*ActionError  `json:"errors"`
}

func NewSubmitBatchRequest(batch domain.SyncBatch) (*SubmitBatchRequest, error) {
	req := &SubmitBatchRequest{
		DeviceID: batch.DeviceID,
		ActorID:  batch.ActorID,
		Actions:  make([]*Action, 0, len(batch.Actions)),
	}
	for _, a := range batch.Actions {
		kind, payload, err := domain.EncodePayload(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode action %s: %w", a.ID, err)
		}
		req.Actions = append(req.Actions, &Action{
			ID:         a.ID,
			Kind:       string(kind),
			Payload:    payload,
			EnqueuedAt: a.EnqueuedAt,
		})
	}
	return req, nil
}

// Decode splits the request into actions ready for replay and outcomes for
// actions that could not be decoded.
func (r *SubmitBatchRequest) Decode() ([]domain.QueuedAction, []domain.Outcome) {
	var (
		actions  []domain.QueuedAction
		rejected []domain.Outcome
	)
	for _, a := range r.Actions {
		if a == nil {
			continue
		}
		payload, err := domain.DecodePayload(domain.ActionKind(a.Kind), a.Payload)
		if err != nil {
			rejected = append(rejected, domain.Outcome{
				ActionID: a.ID,
				Kind:     domain.ActionKind(a.Kind),
				Status:   domain.OutcomeRejected,
				Reason:   domain.ReasonOf(err),
				Message:  err.Error(),
			})
			continue
		}
		actions = append(actions, domain.QueuedAction{
			ID:         a.ID,
			Payload:    payload,
			EnqueuedAt: a.EnqueuedAt,
		})
	}
	return actions, rejected
}

func NewSubmitBatchResponse(outcomes []domain.Outcome) *SubmitBatchResponse {
	resp := &SubmitBatchResponse{
		Results: []*ActionResult{},
		Errors:  []*ActionError{},
	}
	for _, o := range outcomes {
		if o.Applied() {
			resp.Succeeded++
			resp.Results = append(resp.Results, &ActionResult{
				ActionID:        o.ActionID,
				Kind:            string(o.Kind),
				Product:         o.Product,
				Adjustment:      o.Adjustment,
				LocationHistory: o.Move,
				Duplicate:       o.Duplicate,
			})
			continue
		}
		resp.Failed++
		resp.Errors = append(resp.Errors, &ActionError{
			ActionID:  o.ActionID,
			Kind:      string(o.Kind),
			Reason:    string(o.Reason),
			Message:   o.Message,
			Retryable: o.Reason.Retryable(),
		})
	}
	return resp
}

// Outcomes converts the response back to per-action outcomes. Reasons this
// build does not know are treated as transient.
func (r *SubmitBatchResponse) Outcomes() []domain.Outcome {
	outcomes := make([]domain.Outcome, 0, len(r.Results)+len(r.Errors))
	for _, res := range r.Results {
		if res == nil {
			continue
		}
		outcomes = append(outcomes, domain.Outcome{
			ActionID:   res.ActionID,
			Kind:       domain.ActionKind(res.Kind),
			Status:     domain.OutcomeApplied,
			Product:    res.Product,
			Adjustment: res.Adjustment,
			Move:       res.LocationHistory,
			Duplicate:  res.Duplicate,
		})
	}
	for _, e := range r.Errors {
		if e == nil {
			continue
		}
		outcomes = append(outcomes, domain.Outcome{
			ActionID: e.ActionID,
			Kind:     domain.ActionKind(e.Kind),
			Status:   domain.OutcomeRejected,
			Reason:   parseReason(e.Reason),
			Message:  e.Message,
		})
	}
	return outcomes
}

func parseReason(s string) domain.RejectReason {
	switch r := domain.RejectReason(s); r {
	case domain.ReasonNotFound, domain.ReasonInsufficientStock, domain.ReasonNoOpMove, domain.ReasonInvalidAction:
		return r
	default:
		return domain.ReasonTransientIO
	}
}
