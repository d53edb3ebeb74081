package posting

import "time"

// Posting is the durable record of one discovered job posting. Identity is
// the fingerprint; everything else is descriptive. Score stays nil until the
// posting has been scored exactly once.
type Posting struct {
	Fingerprint  string
	Source       string
	Title        string
	Company      string
	Location     string
	Description  string
	URL          string
	Salary       string
	Score        *float64
	ScoreReason  string
	State        State
	EvidenceRef  string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Transition is one row of a posting's append-only history. From is empty
// for the initial DISCOVERED record.
type Transition struct {
	Seq         int64
	Fingerprint string
	From        State
	To          State
	Note        string
	At          time.Time
}

// Seed is what a source hands to the pipeline: a raw posting before it has
// an identity or a state.
type Seed struct {
	Source      string
	ExternalID  string
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
	Salary      string
}

// ScoreValue returns the score or 0 when the posting is unscored. Use
// Score == nil to tell the two apart.
func (p *Posting) ScoreValue() float64 {
	if p.Score == nil {
		return 0
	}
	return *p.Score
}
