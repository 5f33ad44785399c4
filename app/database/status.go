package database

import "fmt"

// FetchStatus tracks full-text extraction progress of an article.
type FetchStatus string

const (
	FetchStatusNone      FetchStatus = "none"
	FetchStatusScheduled FetchStatus = "scheduled"
	FetchStatusComplete  FetchStatus = "complete"
	FetchStatusFailed    FetchStatus = "failed"
)

// A failed article may be rescheduled; complete is terminal.
var fetchStatusTransitions = map[FetchStatus][]FetchStatus{
	FetchStatusNone:      {FetchStatusScheduled},
	FetchStatusScheduled: {FetchStatusComplete, FetchStatusFailed},
	FetchStatusFailed:    {FetchStatusScheduled},
}

func (s FetchStatus) CanTransition(to FetchStatus) bool {
	for _, next := range fetchStatusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PendingStatus tracks an add-feed request through resolution.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusCompleted PendingStatus = "completed"
	PendingStatusFailed    PendingStatus = "failed"
	PendingStatusAmbiguous PendingStatus = "ambiguous"
)

// An ambiguous request re-enters the flow when the user chooses a
// candidate, so it may still resolve either way.
var pendingStatusTransitions = map[PendingStatus][]PendingStatus{
	PendingStatusPending:   {PendingStatusCompleted, PendingStatusFailed, PendingStatusAmbiguous},
	PendingStatusAmbiguous: {PendingStatusCompleted, PendingStatusFailed, PendingStatusAmbiguous},
}

func (s PendingStatus) CanTransition(to PendingStatus) bool {
	for _, next := range pendingStatusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// JobStatus tracks a job instance through the engine.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// running -> queued is the retry path.
var jobStatusTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusQueued},
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobStatusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned by repository status updates when the
// requested transition is not in the legal set for the current state.
type ErrIllegalTransition struct {
	Entity string
	From   string
	To     string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal %s status transition: %s -> %s", e.Entity, e.From, e.To)
}
