// Package posting defines the job posting model and its lifecycle state
// machine.
//
// Valid state graph:
//
//	DISCOVERED ──► SCORED ──┬──► READY_TO_SUBMIT ──► SUBMITTING ──► SUBMITTED
//	                        │            ▲               │
//	                        ├──► PENDING_APPROVAL        ├──► FAILED_RETRYABLE ──► SUBMITTING
//	                        │      │     │    │          │           │
//	                        │      │     └────┴► EXPIRED ├──► NEEDS_REVIEW
//	                        │      ▼                     │           │
//	                        └──► REJECTED                └───────────┴──► FAILED_PERMANENT
//
// SUBMITTED, REJECTED, EXPIRED, FAILED_PERMANENT and NEEDS_REVIEW are
// terminal states. SUBMITTED in particular is write-once: no transition
// ever leaves it, which is what makes a second submission impossible.
package posting

import "fmt"

// State values mirror the postings.state column.
type State string

const (
	StateDiscovered      State = "DISCOVERED"
	StateScored          State = "SCORED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateReadyToSubmit   State = "READY_TO_SUBMIT"
	StateSubmitting      State = "SUBMITTING"
	StateSubmitted       State = "SUBMITTED"
	StateFailedRetryable State = "FAILED_RETRYABLE"
	StateFailedPermanent State = "FAILED_PERMANENT"
	StateNeedsReview     State = "NEEDS_REVIEW"
	StateRejected        State = "REJECTED"
	StateExpired         State = "EXPIRED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateDiscovered:      {StateScored},
	StateScored:          {StateRejected, StatePendingApproval, StateReadyToSubmit},
	StatePendingApproval: {StateReadyToSubmit, StateRejected, StateExpired},
	StateReadyToSubmit:   {StateSubmitting},
	StateSubmitting:      {StateSubmitted, StateFailedRetryable, StateFailedPermanent, StateNeedsReview},
	StateFailedRetryable: {StateSubmitting, StateFailedPermanent},
	// SUBMITTED, REJECTED, EXPIRED, FAILED_PERMANENT and NEEDS_REVIEW are
	// terminal and have no outgoing transitions.
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateDiscovered, StateScored, StatePendingApproval, StateReadyToSubmit,
		StateSubmitting, StateSubmitted, StateFailedRetryable, StateFailedPermanent,
		StateNeedsReview, StateRejected, StateExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown posting state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal returns true when the state has no outgoing transitions.
func (s State) Terminal() bool {
	_, ok := validTransitions[s]
	return !ok
}
