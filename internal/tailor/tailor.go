// Package tailor produces per-posting application materials.
package tailor

import (
	"context"

	"github.com/jobhound/jobhound/internal/posting"
)

// Materials is everything the submission needs for one posting. ResumePath
// is filled in by the caller from the candidate profile, not by the model.
type Materials struct {
	CoverLetter string
	Summary     string
	Skills      []string
	ResumePath  string
}

// Tailor writes application materials for a posting from the candidate's
// resume.
type Tailor interface {
	Tailor(ctx context.Context, resume string, p *posting.Posting) (*Materials, error)
}
