// Package pipeline drives discovered postings through the application
// lifecycle: dedup, scoring, threshold decision, approval gate, tailoring
// and browser-agent submission. Every state change is recorded durably
// before the pass moves on, so a crash or restart never loses an in-flight
// posting and never submits one twice.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/config"
	"github.com/jobhound/jobhound/internal/notify"
	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/profile"
	"github.com/jobhound/jobhound/internal/scorer"
	"github.com/jobhound/jobhound/internal/source"
	"github.com/jobhound/jobhound/internal/store"
	"github.com/jobhound/jobhound/internal/submit"
	"github.com/jobhound/jobhound/internal/tailor"
)

// Pipeline runs one full pass over discovered postings. It is the only
// writer to the posting store.
type Pipeline struct {
	store    store.Store
	sources  *source.Registry
	scorer   scorer.Scorer
	tailor   tailor.Tailor
	executor submit.Executor
	notifier notify.Notifier
	gate     *Gate
	profile  *profile.Profile
	match    config.MatchConfig
	screen   config.ScreenConfig
	location *time.Location
	logger   *zap.Logger
}

// Params collects the pipeline's collaborators. Sources may be nil; a pass
// without sources still works the stored backlog.
type Params struct {
	Store    store.Store
	Sources  *source.Registry
	Scorer   scorer.Scorer
	Tailor   tailor.Tailor
	Executor submit.Executor
	Notifier notify.Notifier
	Profile  *profile.Profile
	Match    config.MatchConfig
	Screen   config.ScreenConfig
	Approval config.ApprovalConfig
	Location *time.Location
	Logger   *zap.Logger
}

func New(p Params) *Pipeline {
	location := p.Location
	if location == nil {
		location = time.UTC
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		store:    p.Store,
		sources:  p.Sources,
		scorer:   p.Scorer,
		tailor:   p.Tailor,
		executor: p.Executor,
		notifier: p.Notifier,
		gate:     NewGate(p.Store, p.Notifier, p.Approval.Timeout, logger),
		profile:  p.Profile,
		match:    p.Match,
		screen:   p.Screen,
		location: location,
		logger:   logger,
	}
}

// Run executes one pass and records it. A cancelled context stops the pass
// between postings; the partial run is still recorded. Dry runs stop after
// routing: no approval requests, no tailoring, no submissions.
func (pl *Pipeline) Run(ctx context.Context, dryRun bool) (*store.RunStats, error) {
	stats := &store.RunStats{
		ID:        uuid.NewString(),
		StartedAt: now(),
		DryRun:    dryRun,
	}

	// The knobs are frozen here; a mid-pass configuration change cannot
	// retroactively affect postings already decided.
	cfg := decisionConfig{
		Threshold:  pl.match.Threshold,
		DailyCap:   pl.match.DailyCap,
		AutoApply:  pl.match.AutoApply,
		RetryBound: pl.match.RetryBound,
	}

	pl.logger.Info("pass started",
		zap.String("run_id", stats.ID),
		zap.Bool("dry_run", dryRun),
		zap.Float64("threshold", cfg.Threshold),
		zap.Int("daily_cap", cfg.DailyCap),
		zap.Bool("auto_apply", cfg.AutoApply),
	)

	runErr := pl.runStages(ctx, stats, cfg, dryRun)
	stats.FinishedAt = now()

	// Record the pass even when it was interrupted.
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pl.store.RecordRun(recordCtx, *stats); err != nil {
		pl.logger.Error("record run failed", zap.String("run_id", stats.ID), zap.Error(err))
	}

	pl.logger.Info("pass finished",
		zap.String("run_id", stats.ID),
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

	if !dryRun {
		if err := pl.notifier.SendRunSummary(recordCtx, stats); err != nil {
			pl.logger.Warn("run summary notification failed", zap.Error(err))
		}
	}

	return stats, runErr
}

func (pl *Pipeline) runStages(ctx context.Context, stats *store.RunStats, cfg decisionConfig, dryRun bool) error {
	if err := pl.reconcile(ctx, stats); err != nil {
		return err
	}

	gres, err := pl.gate.Resolve(ctx, !dryRun)
	stats.Ready += gres.approved
	stats.Rejected += gres.rejected
	if err != nil {
		return err
	}

	if err := pl.intake(ctx, stats, cfg, dryRun); err != nil {
		return err
	}

	if dryRun {
		return nil
	}

	return pl.submitEligible(ctx, stats, cfg)
}

// reconcile resolves postings stranded in SUBMITTING by a crash. The
// attempt's real outcome is unknown, so they go to NEEDS_REVIEW for manual
// reconciliation against the captured evidence.
func (pl *Pipeline) reconcile(ctx context.Context, stats *store.RunStats) error {
	stranded, err := pl.store.ListByState(ctx, posting.StateSubmitting)
	if err != nil {
		return eris.Wrap(err, "pipeline: list interrupted submissions")
	}

	for _, p := range stranded {
		if err := ctx.Err(); err != nil {
			return err
		}

		note := "found in SUBMITTING at pass start, outcome unknown"
		if p.EvidenceRef != "" {
			note += ", evidence " + p.EvidenceRef
		}

		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateNeedsReview, note); err != nil {
			stats.Errors++
			pl.logger.Warn("reconcile failed", zap.String("fingerprint", p.Fingerprint), zap.Error(err))
			continue
		}

		stats.Failed++
		p.State = posting.StateNeedsReview
		pl.logger.Warn("interrupted submission needs review",
			zap.String("fingerprint", p.Fingerprint),
			zap.String("evidence", p.EvidenceRef),
		)
		pl.notifyOutcome(ctx, p, note)
	}

	return nil
}

// intake fetches, screens and dedups raw postings, then scores and routes
// everything still DISCOVERED, including leftovers from failed passes.
func (pl *Pipeline) intake(ctx context.Context, stats *store.RunStats, cfg decisionConfig, dryRun bool) error {
	var seeds []posting.Seed
	if pl.sources != nil {
		var failures int
		seeds, failures = pl.sources.FetchAll(ctx)
		stats.Errors += failures
	}
	stats.Discovered = len(seeds)

	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}

		if reason := screenReason(seed, pl.screen.RedFlags, pl.screen.ExcludeCompanies); reason != "" {
			stats.ScreenedOut++
			pl.logger.Debug("screened out",
				zap.String("source", seed.Source),
				zap.String("title", seed.Title),
				zap.String("company", seed.Company),
				zap.String("reason", reason),
			)
			continue
		}

		p, created, err := pl.store.LookupOrCreate(ctx, seed)
		if err != nil {
			stats.Errors++
			pl.logger.Warn("intake failed",
				zap.String("source", seed.Source),
				zap.String("title", seed.Title),
				zap.Error(err),
			)
			continue
		}
		if !created {
			stats.Duplicates++
			pl.logger.Debug("duplicate posting",
				zap.String("fingerprint", p.Fingerprint),
				zap.String("state", string(p.State)),
			)
		}
	}

	pl.logger.Info("intake done",
		zap.Int("discovered", stats.Discovered),
		zap.Int("screened_out", stats.ScreenedOut),
		zap.Int("duplicates", stats.Duplicates),
	)

	return pl.scoreDiscovered(ctx, stats, cfg, dryRun)
}

func (pl *Pipeline) scoreDiscovered(ctx context.Context, stats *store.RunStats, cfg decisionConfig, dryRun bool) error {
	discovered, err := pl.store.ListByState(ctx, posting.StateDiscovered)
	if err != nil {
		return eris.Wrap(err, "pipeline: list discovered")
	}
	if len(discovered) == 0 {
		return nil
	}

	submittedToday, err := pl.submittedToday(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: count submitted today")
	}

	pl.logger.Info("scoring postings",
		zap.Int("count", len(discovered)),
		zap.Int("submitted_today", submittedToday),
	)

	for _, p := range discovered {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := pl.scoreOne(ctx, p, submittedToday, cfg, stats, dryRun); err != nil {
			stats.Errors++
			pl.logger.Warn("scoring failed, posting stays discovered",
				zap.String("fingerprint", p.Fingerprint),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (pl *Pipeline) scoreOne(ctx context.Context, p *posting.Posting, submittedToday int, cfg decisionConfig, stats *store.RunStats, dryRun bool) error {
	assessment, err := pl.scorer.Score(ctx, pl.profile.Resume, p)
	if err != nil {
		// A scoring failure is never a score; the posting stays DISCOVERED.
		return err
	}

	if err := pl.store.SetScore(ctx, p.Fingerprint, assessment.Score, assessment.Reason); err != nil {
		return err
	}
	score := assessment.Score
	p.Score = &score
	p.ScoreReason = assessment.Reason
	p.State = posting.StateScored
	stats.Scored++

	verdict, note := decide(score, submittedToday, cfg)
	pl.logger.Debug("decision",
		zap.String("fingerprint", p.Fingerprint),
		zap.Float64("score", score),
		zap.String("decision", verdict.String()),
	)

	switch verdict {
	case decisionReject:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StateRejected, note); err != nil {
			return err
		}
		p.State = posting.StateRejected
		stats.Rejected++
		pl.notifyOutcome(ctx, p, note)

	case decisionNeedsApproval:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StatePendingApproval, note); err != nil {
			return err
		}
		p.State = posting.StatePendingApproval
		stats.PendingApproval++
		if !dryRun {
			pl.gate.openRequest(ctx, p)
		}

	case decisionAutoSubmit:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StateReadyToSubmit, note); err != nil {
			return err
		}
		p.State = posting.StateReadyToSubmit
		stats.Ready++
	}

	return nil
}

// submitEligible works every READY_TO_SUBMIT posting plus FAILED_RETRYABLE
// ones with retry budget left.
func (pl *Pipeline) submitEligible(ctx context.Context, stats *store.RunStats, cfg decisionConfig) error {
	candidates, err := pl.store.ListByState(ctx, posting.StateReadyToSubmit, posting.StateFailedRetryable)
	if err != nil {
		return eris.Wrap(err, "pipeline: list submission candidates")
	}
	if len(candidates) == 0 {
		return nil
	}

	pl.logger.Info("submission stage", zap.Int("candidates", len(candidates)))

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := pl.submitOne(ctx, p, stats, cfg); err != nil {
			stats.Errors++
			pl.logger.Warn("submission stage failed for posting",
				zap.String("fingerprint", p.Fingerprint),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (pl *Pipeline) submitOne(ctx context.Context, p *posting.Posting, stats *store.RunStats, cfg decisionConfig) error {
	// Retry re-entries burn budget before anything else happens.
	if p.State == posting.StateFailedRetryable {
		retries, err := pl.store.CountRetries(ctx, p.Fingerprint)
		if err != nil {
			return err
		}
		if retries >= cfg.RetryBound {
			return pl.exhaustRetries(ctx, p, stats, retries, cfg.RetryBound)
		}
	}

	// The cap is re-checked immediately before committing SUBMITTING. The
	// check-then-act pair is not atomic, which bounds overshoot to at most
	// one submission per concurrent race; the cap is a soft operational
	// guard, not a safety property.
	submittedToday, err := pl.submittedToday(ctx)
	if err != nil {
		return err
	}
	if submittedToday >= cfg.DailyCap {
		pl.logger.Info("daily cap reached, posting stays queued",
			zap.String("fingerprint", p.Fingerprint),
			zap.Int("cap", cfg.DailyCap),
		)
		return nil
	}

	// Materials and evidence come before the SUBMITTING commit: a failure
	// here leaves the posting where it was for the next pass.
	materials, err := pl.tailor.Tailor(ctx, pl.profile.Resume, p)
	if err != nil {
		return fmt.Errorf("tailor materials: %w", err)
	}
	if pl.profile.UserInfo != nil {
		materials.ResumePath = pl.profile.UserInfo.ResumePDF
	}

	evidenceRef, err := pl.executor.CaptureEvidence(ctx, p)
	if err != nil {
		return fmt.Errorf("capture evidence: %w", err)
	}
	if err := pl.store.SetEvidence(ctx, p.Fingerprint, evidenceRef); err != nil {
		return err
	}
	p.EvidenceRef = evidenceRef

	note := "submission attempt, evidence " + evidenceRef
	if err := pl.store.Transition(ctx, p.Fingerprint, p.State, posting.StateSubmitting, note); err != nil {
		return err
	}
	p.State = posting.StateSubmitting

	result, err := pl.executor.Submit(ctx, p, materials, pl.profile.UserInfo)
	if err != nil {
		// The attempt may or may not have gone through. Exactly-once
		// forbids a blind retry, so a human reconciles it.
		note := fmt.Sprintf("submit call failed, outcome unknown: %v", err)
		if terr := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateNeedsReview, note); terr != nil {
			return terr
		}
		p.State = posting.StateNeedsReview
		stats.Failed++
		pl.notifyOutcome(ctx, p, note)
		return nil
	}

	if result.EvidenceRef != "" && result.EvidenceRef != evidenceRef {
		if err := pl.store.SetEvidence(ctx, p.Fingerprint, result.EvidenceRef); err != nil {
			pl.logger.Warn("record submission evidence failed",
				zap.String("fingerprint", p.Fingerprint),
				zap.Error(err),
			)
		} else {
			p.EvidenceRef = result.EvidenceRef
		}
	}

	return pl.applyOutcome(ctx, p, result, stats, cfg)
}

func (pl *Pipeline) applyOutcome(ctx context.Context, p *posting.Posting, result *submit.Result, stats *store.RunStats, cfg decisionConfig) error {
	note := result.Detail
	if note == "" {
		note = result.Outcome.String()
	}

	switch result.Outcome {
	case submit.OutcomeSubmitted:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateSubmitted, note); err != nil {
			return err
		}
		p.State = posting.StateSubmitted
		stats.Submitted++
		pl.notifyOutcome(ctx, p, note)

	case submit.OutcomePermanent:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateFailedPermanent, note); err != nil {
			return err
		}
		p.State = posting.StateFailedPermanent
		stats.Failed++
		pl.notifyOutcome(ctx, p, note)

	case submit.OutcomeNeedsReview:
		if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateNeedsReview, note); err != nil {
			return err
		}
		p.State = posting.StateNeedsReview
		stats.Failed++
		pl.notifyOutcome(ctx, p, note)

	case submit.OutcomeRetryable:
		retries, err := pl.store.CountRetries(ctx, p.Fingerprint)
		if err != nil {
			return err
		}
		if retries >= cfg.RetryBound {
			note = fmt.Sprintf("%s, retry budget exhausted (%d of %d used)", note, retries, cfg.RetryBound)
			if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateFailedPermanent, note); err != nil {
				return err
			}
			p.State = posting.StateFailedPermanent
		} else {
			if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateFailedRetryable, note); err != nil {
				return err
			}
			p.State = posting.StateFailedRetryable
		}
		stats.Failed++
		pl.notifyOutcome(ctx, p, note)
	}

	return nil
}

func (pl *Pipeline) exhaustRetries(ctx context.Context, p *posting.Posting, stats *store.RunStats, used, bound int) error {
	note := fmt.Sprintf("retry budget exhausted (%d of %d used)", used, bound)
	if err := pl.store.Transition(ctx, p.Fingerprint, posting.StateFailedRetryable, posting.StateFailedPermanent, note); err != nil {
		return err
	}
	p.State = posting.StateFailedPermanent
	stats.Failed++
	pl.notifyOutcome(ctx, p, note)
	return nil
}

func (pl *Pipeline) submittedToday(ctx context.Context) (int, error) {
	from, to := DayWindow(now(), pl.location)
	return pl.store.CountSubmittedBetween(ctx, from, to)
}

func (pl *Pipeline) notifyOutcome(ctx context.Context, p *posting.Posting, note string) {
	if err := pl.notifier.SendOutcome(ctx, p, note); err != nil {
		pl.logger.Warn("outcome notification failed",
			zap.String("fingerprint", p.Fingerprint),
			zap.Error(err),
		)
	}
}
