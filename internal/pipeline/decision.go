package pipeline

import "fmt"

// decision routes a scored posting.
type decision int

const (
	decisionReject decision = iota
	decisionNeedsApproval
	decisionAutoSubmit
)

func (d decision) String() string {
	switch d {
	case decisionReject:
		return "reject"
	case decisionNeedsApproval:
		return "needs-approval"
	default:
		return "auto-submit"
	}
}

// decisionConfig is the frozen snapshot of the knobs one pass decides with.
// Taking it once per pass keeps a mid-pass configuration change from
// retroactively affecting postings already decided.
type decisionConfig struct {
	Threshold  float64
	DailyCap   int
	AutoApply  bool
	RetryBound int
}

// decide maps a score to a routing decision and the note recorded with the
// transition. A qualifying posting hitting the daily cap is demoted to
// needs-approval instead of being dropped, so it stays alive for a human or
// for tomorrow.
func decide(score float64, submittedToday int, cfg decisionConfig) (decision, string) {
	if score < cfg.Threshold {
		return decisionReject, fmt.Sprintf("score %.2f below threshold %.2f", score, cfg.Threshold)
	}

	if !cfg.AutoApply {
		return decisionNeedsApproval, fmt.Sprintf("score %.2f meets threshold %.2f, awaiting approval", score, cfg.Threshold)
	}

	if submittedToday >= cfg.DailyCap {
		return decisionNeedsApproval, fmt.Sprintf("daily cap %d reached, deferred to approval", cfg.DailyCap)
	}

	return decisionAutoSubmit, fmt.Sprintf("score %.2f meets threshold %.2f", score, cfg.Threshold)
}
