package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type stubScorer struct {
	scores map[string]float64
	err    error
	calls  int
}

func (s *stubScorer) Score(_ context.Context, _ string, p *posting.Posting) (*scorer.Assessment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	score, ok := s.scores[p.Title]
	if !ok {
		score = 0.5
	}
	return &scorer.Assessment{Score: score, Reason: "stub assessment"}, nil
}

type stubTailor struct {
	err   error
	calls int
}

func (s *stubTailor) Tailor(_ context.Context, _ string, p *posting.Posting) (*tailor.Materials, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &tailor.Materials{CoverLetter: "Dear " + p.Company, Summary: "strong fit"}, nil
}

type submissionRecord struct {
	fingerprint string
	resumePath  string
	userName    string
}

type stubExecutor struct {
	outcome     submit.Outcome
	detail      string
	captureErr  error
	submitErr   error
	captures    []string
	submissions []submissionRecord
}

func (e *stubExecutor) CaptureEvidence(_ context.Context, p *posting.Posting) (string, error) {
	if e.captureErr != nil {
		return "", e.captureErr
	}
	e.captures = append(e.captures, p.Fingerprint)
	return "evidence/" + p.Fingerprint + ".png", nil
}

func (e *stubExecutor) Submit(_ context.Context, p *posting.Posting, m *tailor.Materials, info *profile.UserInfo) (*submit.Result, error) {
	if e.submitErr != nil {
		return nil, e.submitErr
	}
	rec := submissionRecord{fingerprint: p.Fingerprint, resumePath: m.ResumePath}
	if info != nil {
		rec.userName = info.Name
	}
	e.submissions = append(e.submissions, rec)
	return &submit.Result{Outcome: e.outcome, Detail: e.detail}, nil
}

type listSource struct {
	name  string
	seeds []posting.Seed
	err   error
}

func (s *listSource) Name() string { return s.name }

func (s *listSource) Fetch(context.Context) ([]posting.Seed, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.seeds, nil
}

type fixture struct {
	store    *store.SQLiteStore
	scorer   *stubScorer
	tailor   *stubTailor
	executor *stubExecutor
	notifier *fakeNotifier
	screen   config.ScreenConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:    newTestStore(t),
		scorer:   &stubScorer{scores: map[string]float64{}},
		tailor:   &stubTailor{},
		executor: &stubExecutor{},
		notifier: &fakeNotifier{decisions: map[string]notify.Decision{}},
	}
}

func (f *fixture) pipeline(seeds []posting.Seed, match config.MatchConfig) *Pipeline {
	var sources *source.Registry
	if len(seeds) > 0 {
		sources = source.NewRegistry(zap.NewNop(), &listSource{name: "stub", seeds: seeds})
	}
	return New(Params{
		Store:    f.store,
		Sources:  sources,
		Scorer:   f.scorer,
		Tailor:   f.tailor,
		Executor: f.executor,
		Notifier: f.notifier,
		Profile: &profile.Profile{
			Resume:   "ten years of Go",
			UserInfo: &profile.UserInfo{Name: "Alex Doe", ResumePDF: "resume.pdf"},
		},
		Match:    match,
		Screen:   f.screen,
		Approval: config.ApprovalConfig{Timeout: 24 * time.Hour},
	})
}

func testMatch() config.MatchConfig {
	return config.MatchConfig{Threshold: 0.42, DailyCap: 15, AutoApply: true, RetryBound: 2}
}

func seedFor(title string) posting.Seed {
	return posting.Seed{
		Source:     "remoteok",
		ExternalID: strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Title:      title,
		Company:    "Initech",
		Location:   "Remote",
		URL:        "https://remoteok.com/jobs/" + strings.ToLower(strings.ReplaceAll(title, " ", "-")),
	}
}

// driveSubmitted plants a posting already submitted today.
func driveSubmitted(t *testing.T, st store.Store, n int) *posting.Posting {
	t.Helper()
	ctx := context.Background()

	p, _, err := st.LookupOrCreate(ctx, gateSeed(n))
	require.NoError(t, err)
	require.NoError(t, st.SetScore(ctx, p.Fingerprint, 0.9, ""))
	require.NoError(t, st.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StateReadyToSubmit, ""))
	require.NoError(t, st.Transition(ctx, p.Fingerprint, posting.StateReadyToSubmit, posting.StateSubmitting, ""))
	require.NoError(t, st.Transition(ctx, p.Fingerprint, posting.StateSubmitting, posting.StateSubmitted, "confirmed"))
	return p
}

func TestPipelineFullPass(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9, "PHP Intern": 0.2}
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer"), seedFor("PHP Intern")}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Discovered)
	assert.Equal(t, 2, stats.Scored)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, 1, stats.Submitted)
	assert.Equal(t, 0, stats.Errors)

	submitted, err := f.store.ListByState(ctx, posting.StateSubmitted)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, "Go Engineer", submitted[0].Title)
	assert.Equal(t, "evidence/"+submitted[0].Fingerprint+".png", submitted[0].EvidenceRef)

	history, err := f.store.History(ctx, submitted[0].Fingerprint)
	require.NoError(t, err)
	wantTo := []posting.State{
		posting.StateDiscovered,
		posting.StateScored,
		posting.StateReadyToSubmit,
		posting.StateSubmitting,
		posting.StateSubmitted,
	}
	require.Len(t, history, len(wantTo))
	for i, tr := range history {
		assert.Equal(t, wantTo[i], tr.To)
	}

	rejected, err := f.store.ListByState(ctx, posting.StateRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "PHP Intern", rejected[0].Title)

	require.Len(t, f.executor.submissions, 1)
	assert.Equal(t, "resume.pdf", f.executor.submissions[0].resumePath)
	assert.Equal(t, "Alex Doe", f.executor.submissions[0].userName)

	runs, err := f.store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stats.ID, runs[0].ID)
	assert.False(t, runs[0].DryRun)

	require.Len(t, f.notifier.summaries, 1)
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9, "PHP Intern": 0.2}
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer"), seedFor("PHP Intern")}, testMatch())
	ctx := context.Background()

	_, err := pl.Run(ctx, false)
	require.NoError(t, err)
	scorerCalls := f.scorer.calls

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Duplicates)
	assert.Equal(t, 0, stats.Scored)
	assert.Equal(t, 0, stats.Submitted)
	assert.Equal(t, scorerCalls, f.scorer.calls, "settled postings must not be rescored")
	assert.Len(t, f.executor.submissions, 1, "a submitted posting must never be submitted again")

	counts, err := f.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[posting.StateSubmitted])
	assert.Equal(t, 1, counts[posting.StateRejected])
}

func TestPipelineManualModeRoutesToApproval(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	match := testMatch()
	match.AutoApply = false
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, match)
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PendingApproval)
	assert.Equal(t, 0, stats.Submitted)

	pending, err := f.store.ListByState(ctx, posting.StatePendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.Len(t, f.notifier.requests, 1)
	req, err := f.store.GetApprovalRequest(ctx, pending[0].Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, req)
}

func TestPipelineDryRun(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9, "PHP Intern": 0.2}
	match := testMatch()
	match.AutoApply = false
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer"), seedFor("PHP Intern")}, match)
	ctx := context.Background()

	stats, err := pl.Run(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Scored)
	assert.Equal(t, 1, stats.PendingApproval)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.Submitted)

	// Routing is persisted, but nothing leaves the process.
	pending, err := f.store.ListByState(ctx, posting.StatePendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	assert.Empty(t, f.notifier.requests, "dry run must not open approval requests")
	assert.Empty(t, f.notifier.summaries, "dry run must not send the run summary")
	assert.Zero(t, f.tailor.calls)
	assert.Empty(t, f.executor.captures)

	req, err := f.store.GetApprovalRequest(ctx, pending[0].Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, req)

	runs, err := f.store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DryRun)
}

func TestPipelineReconcilesInterruptedSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A crash left this posting mid-submission.
	p, _, err := f.store.LookupOrCreate(ctx, gateSeed(1))
	require.NoError(t, err)
	require.NoError(t, f.store.SetScore(ctx, p.Fingerprint, 0.9, ""))
	require.NoError(t, f.store.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StateReadyToSubmit, ""))
	require.NoError(t, f.store.SetEvidence(ctx, p.Fingerprint, "evidence/crash.png"))
	require.NoError(t, f.store.Transition(ctx, p.Fingerprint, posting.StateReadyToSubmit, posting.StateSubmitting, ""))

	pl := f.pipeline(nil, testMatch())
	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)

	got, err := f.store.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StateNeedsReview, got.State)

	history, err := f.store.History(ctx, p.Fingerprint)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Contains(t, last.Note, "outcome unknown")
	assert.Contains(t, last.Note, "evidence/crash.png")

	require.Len(t, f.notifier.outcomes, 1)
	assert.Empty(t, f.executor.captures, "a stranded posting must not be resubmitted")
}

func TestPipelineRetryThenPermanent(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	f.executor.outcome = submit.OutcomeRetryable
	f.executor.detail = "agent timeout"
	match := testMatch()
	match.RetryBound = 1
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, match)
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := f.store.ListByState(ctx, posting.StateFailedRetryable)
	require.NoError(t, err)
	require.Len(t, got, 1)
	fp := got[0].Fingerprint

	// The next pass burns the single retry and gives up for good.
	stats, err = pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, f.executor.submissions, 2)

	final, err := f.store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, posting.StateFailedPermanent, final.State)

	history, err := f.store.History(ctx, fp)
	require.NoError(t, err)
	assert.Contains(t, history[len(history)-1].Note, "retry budget exhausted")

	// Nothing left to do on a third pass.
	_, err = pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Len(t, f.executor.submissions, 2)
}

func TestPipelineRetryBudgetCheckedAtReentry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// History already shows one retry used.
	p, _, err := f.store.LookupOrCreate(ctx, gateSeed(1))
	require.NoError(t, err)
	fp := p.Fingerprint
	require.NoError(t, f.store.SetScore(ctx, fp, 0.9, ""))
	require.NoError(t, f.store.Transition(ctx, fp, posting.StateScored, posting.StateReadyToSubmit, ""))
	require.NoError(t, f.store.Transition(ctx, fp, posting.StateReadyToSubmit, posting.StateSubmitting, ""))
	require.NoError(t, f.store.Transition(ctx, fp, posting.StateSubmitting, posting.StateFailedRetryable, "timeout"))
	require.NoError(t, f.store.Transition(ctx, fp, posting.StateFailedRetryable, posting.StateSubmitting, "retry"))
	require.NoError(t, f.store.Transition(ctx, fp, posting.StateSubmitting, posting.StateFailedRetryable, "timeout"))

	match := testMatch()
	match.RetryBound = 1
	pl := f.pipeline(nil, match)

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := f.store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, posting.StateFailedPermanent, got.State)
	assert.Empty(t, f.executor.captures, "an exhausted posting must not be attempted again")

	history, err := f.store.History(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "retry budget exhausted (1 of 1 used)", history[len(history)-1].Note)
}

func TestPipelineDailyCapStopsSubmissions(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9, "Platform Engineer": 0.8}
	match := testMatch()
	match.DailyCap = 1
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer"), seedFor("Platform Engineer")}, match)
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Ready)
	assert.Equal(t, 1, stats.Submitted)
	assert.Len(t, f.executor.submissions, 1)

	queued, err := f.store.ListByState(ctx, posting.StateReadyToSubmit)
	require.NoError(t, err)
	assert.Len(t, queued, 1, "the over-cap posting stays queued for tomorrow")
}

func TestPipelineDailyCapDemotesAtDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driveSubmitted(t, f.store, 50)

	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	match := testMatch()
	match.DailyCap = 1
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, match)

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PendingApproval)
	assert.Equal(t, 0, stats.Submitted)

	pending, err := f.store.ListByState(ctx, posting.StatePendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	history, err := f.store.History(ctx, pending[0].Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "daily cap 1 reached, deferred to approval", history[len(history)-1].Note)

	require.Len(t, f.notifier.requests, 1, "the demoted posting still gets an approval prompt")
}

func TestPipelineScorerFailureKeepsDiscovered(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = errors.New("model unavailable")
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err, "a scorer failure must not abort the pass")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.Scored)

	discovered, err := f.store.ListByState(ctx, posting.StateDiscovered)
	require.NoError(t, err)
	require.Len(t, discovered, 1)

	// The scorer recovers; the backlog is swept without refetching.
	f.scorer.err = nil
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	stats, err = f.pipeline(nil, testMatch()).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored)
	assert.Equal(t, 1, stats.Submitted)
}

func TestPipelineSubmitTransportErrorNeedsReview(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	f.executor.submitErr = errors.New("connection reset")
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	review, err := f.store.ListByState(ctx, posting.StateNeedsReview)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.NotEmpty(t, review[0].EvidenceRef)

	history, err := f.store.History(ctx, review[0].Fingerprint)
	require.NoError(t, err)
	assert.Contains(t, history[len(history)-1].Note, "outcome unknown")

	// An unknown outcome is never retried blindly.
	attempts := len(f.executor.captures)
	_, err = pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Len(t, f.executor.captures, attempts)
}

func TestPipelineTailorFailureLeavesReady(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	f.tailor.err = errors.New("model unavailable")
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err, "a tailor failure must not abort the pass")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.Submitted)
	assert.Empty(t, f.executor.captures, "no evidence is captured without materials")

	ready, err := f.store.ListByState(ctx, posting.StateReadyToSubmit)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	// The tailor recovers; the queued posting submits on the next pass.
	f.tailor.err = nil
	stats, err = f.pipeline(nil, testMatch()).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Submitted)
}

func TestPipelineEvidenceFailureLeavesReady(t *testing.T) {
	f := newFixture(t)
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
	f.executor.captureErr = errors.New("screenshot service down")
	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, f.executor.submissions, "no submission without an evidence trail")

	ready, err := f.store.ListByState(ctx, posting.StateReadyToSubmit)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Empty(t, ready[0].EvidenceRef)

	history, err := f.store.History(ctx, ready[0].Fingerprint)
	require.NoError(t, err)
	for _, tr := range history {
		assert.NotEqual(t, posting.StateSubmitting, tr.To, "the attempt must not reach SUBMITTING")
	}

	f.executor.captureErr = nil
	stats, err = f.pipeline(nil, testMatch()).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Submitted)
}

func TestPipelineTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		outcome   submit.Outcome
		detail    string
		wantState posting.State
	}{
		{"permanent failure", submit.OutcomePermanent, "position closed", posting.StateFailedPermanent},
		{"ambiguous attempt", submit.OutcomeNeedsReview, "page changed mid-flow", posting.StateNeedsReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.scorer.scores = map[string]float64{"Go Engineer": 0.9}
			f.executor.outcome = tt.outcome
			f.executor.detail = tt.detail
			pl := f.pipeline([]posting.Seed{seedFor("Go Engineer")}, testMatch())
			ctx := context.Background()

			stats, err := pl.Run(ctx, false)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Failed)

			got, err := f.store.ListByState(ctx, tt.wantState)
			require.NoError(t, err)
			require.Len(t, got, 1)

			history, err := f.store.History(ctx, got[0].Fingerprint)
			require.NoError(t, err)
			assert.Equal(t, tt.detail, history[len(history)-1].Note)

			require.NotEmpty(t, f.notifier.outcomes)
			assert.Equal(t, tt.detail, f.notifier.outcomes[len(f.notifier.outcomes)-1].note)
		})
	}
}

func TestPipelineScreening(t *testing.T) {
	f := newFixture(t)
	f.screen = config.ScreenConfig{RedFlags: []string{"crypto"}, ExcludeCompanies: []string{"Shady Corp"}}
	f.scorer.scores = map[string]float64{"Go Engineer": 0.9}

	flagged := seedFor("Crypto Trading Engineer")
	excluded := seedFor("Backend Engineer")
	excluded.Company = "Shady Corp"

	pl := f.pipeline([]posting.Seed{seedFor("Go Engineer"), flagged, excluded}, testMatch())
	ctx := context.Background()

	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Discovered)
	assert.Equal(t, 2, stats.ScreenedOut)
	assert.Equal(t, 1, stats.Scored)

	counts, err := f.store.CountByState(ctx)
	require.NoError(t, err)
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total, "screened seeds never reach the store")
}

func TestPipelineApprovedPostingSubmitsSameRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := pendingPosting(t, f.store, 1)
	require.NoError(t, f.store.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))
	f.notifier.decisions[p.Fingerprint] = notify.DecisionApproved

	pl := f.pipeline(nil, testMatch())
	stats, err := pl.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, 1, stats.Submitted)

	got, err := f.store.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StateSubmitted, got.State)
}

func TestPipelineRecordsInterruptedRun(t *testing.T) {
	f := newFixture(t)
	pl := f.pipeline(nil, testMatch())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pl.Run(ctx, false)
	require.Error(t, err)

	runs, err := f.store.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "an interrupted pass is still recorded")
}
