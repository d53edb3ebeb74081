// Package submit drives the browser agent that files applications.
package submit

import (
	"context"

	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/profile"
	"github.com/jobhound/jobhound/internal/tailor"
)

// Outcome is the agent's verdict for one submission attempt.
type Outcome int

const (
	// OutcomeSubmitted means the application was filed and confirmed.
	OutcomeSubmitted Outcome = iota
	// OutcomeRetryable covers transient failures worth another attempt.
	OutcomeRetryable
	// OutcomePermanent covers failures no retry can fix, such as a closed
	// posting or a form that rejects the candidate outright.
	OutcomePermanent
	// OutcomeNeedsReview means the agent cannot tell what happened; a human
	// has to look before anything else touches this posting.
	OutcomeNeedsReview
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "review"
	}
}

// Result is what one submission attempt produced. EvidenceRef points at the
// agent's proof artifact when it captured one during the attempt.
type Result struct {
	Outcome     Outcome
	EvidenceRef string
	Detail      string
}

// Executor performs the irreversible part of the pipeline.
type Executor interface {
	// CaptureEvidence snapshots the posting page before anything is touched.
	CaptureEvidence(ctx context.Context, p *posting.Posting) (string, error)
	Submit(ctx context.Context, p *posting.Posting, materials *tailor.Materials, info *profile.UserInfo) (*Result, error)
}
