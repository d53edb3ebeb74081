package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/store"
)

// Console logs what a chat transport would send. Decisions stay pending;
// the review command resolves them interactively.
type Console struct {
	logger *zap.Logger
}

func NewConsole(logger *zap.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) SendApprovalRequest(_ context.Context, p *posting.Posting) (string, error) {
	c.logger.Info("approval requested, resolve it with the review command",
		zap.String("fingerprint", p.Fingerprint),
		zap.String("title", p.Title),
		zap.String("company", p.Company),
		zap.Float64("score", p.ScoreValue()),
	)

	return "console", nil
}

func (c *Console) PollDecision(_ context.Context, _ store.ApprovalRequest) (Decision, error) {
	return DecisionPending, nil
}

func (c *Console) SendRunSummary(_ context.Context, stats *store.RunStats) error {
	c.logger.Info("pass finished",
		zap.String("run_id", stats.ID),
		zap.Bool("dry_run", stats.DryRun),
		zap.Int("discovered", stats.Discovered),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("screened_out", stats.ScreenedOut),
		zap.Int("scored", stats.Scored),
		zap.Int("rejected", stats.Rejected),
		zap.Int("pending_approval", stats.PendingApproval),
		zap.Int("ready", stats.Ready),
		zap.Int("submitted", stats.Submitted),
		zap.Int("failed", stats.Failed),
		zap.Int("errors", stats.Errors),
	)

	return nil
}

func (c *Console) SendOutcome(_ context.Context, p *posting.Posting, note string) error {
	c.logger.Info("posting outcome",
		zap.String("fingerprint", p.Fingerprint),
		zap.String("title", p.Title),
		zap.String("company", p.Company),
		zap.String("state", string(p.State)),
		zap.String("note", note),
	)

	return nil
}
