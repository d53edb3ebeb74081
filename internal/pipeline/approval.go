package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/notify"
	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/store"
)

// Gate owns the PENDING_APPROVAL semantics: at most one open request per
// posting, resumable across restarts, with decisions applied through the
// same transition authority as the rest of the pipeline. The review command
// uses Approve and Reject directly.
type Gate struct {
	store    store.Store
	notifier notify.Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewGate(st store.Store, notifier notify.Notifier, timeout time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		store:    st,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

type gateResult struct {
	approved int
	rejected int
	expired  int
}

// Resolve walks every pending posting: requests past the timeout expire,
// answered ones move on, unanswered ones stay pending. With send false (dry
// run) no new approval requests are opened.
func (g *Gate) Resolve(ctx context.Context, send bool) (gateResult, error) {
	pending, err := g.store.ListByState(ctx, posting.StatePendingApproval)
	if err != nil {
		return gateResult{}, err
	}

	var res gateResult
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := g.resolveOne(ctx, p, send, &res); err != nil {
			g.logger.Warn("approval gate failed for posting",
				zap.String("fingerprint", p.Fingerprint),
				zap.Error(err),
			)
		}
	}

	if len(pending) > 0 {
		g.logger.Info("approval gate resolved",
			zap.Int("pending", len(pending)),
			zap.Int("approved", res.approved),
			zap.Int("rejected", res.rejected),
			zap.Int("expired", res.expired),
		)
	}

	return res, nil
}

func (g *Gate) resolveOne(ctx context.Context, p *posting.Posting, send bool, res *gateResult) error {
	req, err := g.store.GetApprovalRequest(ctx, p.Fingerprint)
	if err != nil {
		return err
	}

	// A pending posting without an open request means the original send
	// failed or happened in a dry run. Open one now.
	if req == nil {
		if send {
			g.openRequest(ctx, p)
		}
		return nil
	}

	if g.timeout > 0 && now().Sub(req.RequestedAt) >= g.timeout {
		note := fmt.Sprintf("approval request expired after %s", g.timeout)
		if err := g.store.Transition(ctx, p.Fingerprint, posting.StatePendingApproval, posting.StateExpired, note); err != nil {
			return err
		}
		if err := g.store.CloseApprovalRequest(ctx, p.Fingerprint); err != nil {
			return err
		}
		res.expired++
		p.State = posting.StateExpired
		g.notifyOutcome(ctx, p, note)
		return nil
	}

	decision, err := g.notifier.PollDecision(ctx, *req)
	if err != nil {
		return err
	}

	switch decision {
	case notify.DecisionApproved:
		if err := g.Approve(ctx, p.Fingerprint); err != nil {
			return err
		}
		res.approved++
	case notify.DecisionRejected:
		if err := g.Reject(ctx, p.Fingerprint); err != nil {
			return err
		}
		res.rejected++
		p.State = posting.StateRejected
		g.notifyOutcome(ctx, p, "rejected by operator")
	}

	return nil
}

// openRequest sends the approval prompt and persists it. A failure leaves
// the posting PENDING_APPROVAL without a request; the next pass retries.
func (g *Gate) openRequest(ctx context.Context, p *posting.Posting) {
	requestID, err := g.notifier.SendApprovalRequest(ctx, p)
	if err != nil {
		g.logger.Warn("approval request send failed",
			zap.String("fingerprint", p.Fingerprint),
			zap.Error(err),
		)
		return
	}

	if err := g.store.OpenApprovalRequest(ctx, p.Fingerprint, requestID); err != nil {
		g.logger.Warn("approval request record failed",
			zap.String("fingerprint", p.Fingerprint),
			zap.Error(err),
		)
	}
}

// Approve moves a pending posting to READY_TO_SUBMIT and closes its request.
func (g *Gate) Approve(ctx context.Context, fingerprint string) error {
	if err := g.store.Transition(ctx, fingerprint, posting.StatePendingApproval, posting.StateReadyToSubmit, "approved by operator"); err != nil {
		return err
	}
	return g.store.CloseApprovalRequest(ctx, fingerprint)
}

// Reject moves a pending posting to REJECTED and closes its request.
func (g *Gate) Reject(ctx context.Context, fingerprint string) error {
	if err := g.store.Transition(ctx, fingerprint, posting.StatePendingApproval, posting.StateRejected, "rejected by operator"); err != nil {
		return err
	}
	return g.store.CloseApprovalRequest(ctx, fingerprint)
}

func (g *Gate) notifyOutcome(ctx context.Context, p *posting.Posting, note string) {
	if err := g.notifier.SendOutcome(ctx, p, note); err != nil {
		g.logger.Warn("outcome notification failed",
			zap.String("fingerprint", p.Fingerprint),
			zap.Error(err),
		)
	}
}
