package ledger

import (
	"errors"
	"time"

	"quizcast/internal/bulk"
)

var (
	ErrUnknownJob = errors.New("ledger: unknown job")
	ErrNotPending = errors.New("ledger: job is not pending")
	ErrNotRunning = errors.New("ledger: job is not running")
)

// Status is the job lifecycle state. Transitions are strict:
// PENDING → RUNNING → {COMPLETED, ABORTED}; terminal states are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Outcome is the per-item delivery result.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult records one send attempt series for (destination, action).
type ItemResult struct {
	Destination int64
	ActionIndex int
	Outcome     Outcome
	Attempts    int
	Err         string
}

// Job is one confirmed send request. Actions and Destinations keep the
// order they were supplied in; Results are append-only while RUNNING and
// frozen once the job reaches a terminal status.
type Job struct {
	ID           int64
	CreatedBy    int64
	Actions      []bulk.Action
	Destinations []int64
	Status       Status
	Results      []ItemResult
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Delivered counts successfully delivered items.
func (j Job) Delivered() int {
	n := 0
	for _, r := range j.Results {
		if r.Outcome == OutcomeDelivered {
			n++
		}
	}
	return n
}

// Failed counts failed items.
func (j Job) Failed() int {
	n := 0
	for _, r := range j.Results {
		if r.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
