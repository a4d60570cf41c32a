package engine

import (
	"errors"
	"fmt"
)

// Domain outcomes returned by the lifecycle operations. These are expected
// results, not faults; the HTTP layer maps each to a stable code. Lookups of
// absent records return repo.ErrNotFound unchanged.
var (
	// ErrNotAuthorized covers every rights failure with one message so a
	// non-owner cannot distinguish "not yours" from "doesn't exist".
	ErrNotAuthorized = errors.New("not authorized")

	// ErrSelfApplication rejects a client proposing on their own job.
	ErrSelfApplication = errors.New("cannot apply to your own job")

	// ErrDuplicatePending rejects a second pending proposal for the same
	// (job, applicant) pair.
	ErrDuplicatePending = errors.New("a pending proposal for this job already exists")

	// ErrJobUnavailable is the losing side of the assignment race: the job
	// was no longer open when the conditional update reached the store.
	ErrJobUnavailable = errors.New("job no longer available")

	// ErrPendingLimit rejects a submit once the applicant holds the
	// configured number of pending proposals.
	ErrPendingLimit = errors.New("pending proposal limit reached")
)

// AlreadyTerminalError reports an accept/reject against a proposal that
// already reached accepted or rejected.
type AlreadyTerminalError struct {
	Status string
}

func (e AlreadyTerminalError) Error() string {
	return fmt.Sprintf("proposal already %s", e.Status)
}

// InvalidTransitionError reports a job status transition the state machine
// does not allow.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition %s -> %s", e.From, e.To)
}

// PartialAssignmentError reports that the job committed to in_progress but
// the follow-up proposal/order writes failed. The job is assigned without a
// matching order; reconciliation is out of band and the same accept may be
// replayed safely.
type PartialAssignmentError struct {
	JobID      string
	ProposalID string
	Err        error
}

func (e *PartialAssignmentError) Error() string {
	return fmt.Sprintf("job %s assigned but acceptance of proposal %s did not complete: %v", e.JobID, e.ProposalID, e.Err)
}

func (e *PartialAssignmentError) Unwrap() error { return e.Err }
