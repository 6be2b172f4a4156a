package domain

import "time"

type OutcomeStatus string

const (
	OutcomeApplied  OutcomeStatus = "applied"
	OutcomeRejected OutcomeStatus = "rejected"
)

// Outcome is the result of replaying one queued action.
type Outcome struct {
	ActionID   string
	Kind       ActionKind
	Status     OutcomeStatus
	Product    *Product
	Adjustment *InventoryAdjustment
	Move       *LocationHistory
	Duplicate  bool // already applied by an earlier replay of the same action
	Reason     RejectReason
	Message    string
}

func (o Outcome) Applied() bool {
	return o.Status == OutcomeApplied
}

func Rejected(a QueuedAction, err error) Outcome {
	return Outcome{
		ActionID: a.ID,
		Kind:     a.Kind(),
		Status:   OutcomeRejected,
		Reason:   ReasonOf(err),
		Message:  err.Error(),
	}
}

// SyncBatch is what a device submits to the server in one round trip.
type SyncBatch struct {
	DeviceID string
	ActorID  string
	Actions  []QueuedAction
}

type BatchResult struct {
	Outcomes []Outcome
}

func (r BatchResult) Counts() (succeeded, failed int) {
	for _, o := range r.Outcomes {
		if o.Applied() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

type Failure struct {
	Action    QueuedAction
	Reason    RejectReason
	Message   string
	Retryable bool
	Dropped   bool
}

type SyncReport struct {
	Succeeded int
	Failed    int
	Dropped   int
	Failures  []Failure
}

// Transition is a change of reachability observed by the connectivity monitor.
type Transition struct {
	Online bool
	At     time.Time
}

// ClaimResult is the replay guard's answer for an action id.
type ClaimResult int

const (
	ClaimAcquired ClaimResult = iota + 1
	ClaimApplied
	ClaimInProgress
)
