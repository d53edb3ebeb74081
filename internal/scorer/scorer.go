// Package scorer rates how well a posting matches the candidate's resume.
package scorer

import (
	"context"

	"github.com/jobhound/jobhound/internal/posting"
)

// Assessment is the scorer's verdict for a single posting. Score is always
// within [0, 1]; Raw keeps the unparsed model output for debugging.
type Assessment struct {
	Score  float64
	Reason string
	Raw    string
}

// Scorer rates a posting against the candidate's resume. Implementations
// must return an error, never a zero score, when no rating can be produced.
type Scorer interface {
	Score(ctx context.Context, resume string, p *posting.Posting) (*Assessment, error)
}
