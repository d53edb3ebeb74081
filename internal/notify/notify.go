// Package notify delivers approval requests and run reports to the operator.
package notify

import (
	"context"

	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/store"
)

// Decision is the operator's answer to an approval request.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionApproved
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Notifier is the transport for the human in the loop. PollDecision must be
// non-blocking: it reports the answer received so far, or DecisionPending.
type Notifier interface {
	// SendApprovalRequest asks the operator to approve a posting and returns
	// the transport's request id for later polling.
	SendApprovalRequest(ctx context.Context, p *posting.Posting) (string, error)
	PollDecision(ctx context.Context, req store.ApprovalRequest) (Decision, error)
	SendRunSummary(ctx context.Context, stats *store.RunStats) error
	SendOutcome(ctx context.Context, p *posting.Posting, note string) error
}
