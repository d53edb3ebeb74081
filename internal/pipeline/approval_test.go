package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/notify"
	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/store"
)

// fakeNotifier records every interaction and answers polls from a canned
// decision table keyed by fingerprint.
type fakeNotifier struct {
	decisions  map[string]notify.Decision
	sendErr    error
	pollErr    error
	requests   []string
	outcomes   []outcomeRecord
	summaries  []*store.RunStats
	requestSeq int
}

type outcomeRecord struct {
	fingerprint string
	state       posting.State
	note        string
}

func (f *fakeNotifier) SendApprovalRequest(_ context.Context, p *posting.Posting) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.requestSeq++
	f.requests = append(f.requests, p.Fingerprint)
	return fmt.Sprintf("req-%d", f.requestSeq), nil
}

func (f *fakeNotifier) PollDecision(_ context.Context, req store.ApprovalRequest) (notify.Decision, error) {
	if f.pollErr != nil {
		return notify.DecisionPending, f.pollErr
	}
	if d, ok := f.decisions[req.Fingerprint]; ok {
		return d, nil
	}
	return notify.DecisionPending, nil
}

func (f *fakeNotifier) SendRunSummary(_ context.Context, stats *store.RunStats) error {
	f.summaries = append(f.summaries, stats)
	return nil
}

func (f *fakeNotifier) SendOutcome(_ context.Context, p *posting.Posting, note string) error {
	f.outcomes = append(f.outcomes, outcomeRecord{fingerprint: p.Fingerprint, state: p.State, note: note})
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func gateSeed(n int) posting.Seed {
	return posting.Seed{
		Source:     "remoteok",
		ExternalID: fmt.Sprintf("%d", 7000+n),
		Title:      fmt.Sprintf("Platform Engineer %d", n),
		Company:    "Initech",
		URL:        fmt.Sprintf("https://remoteok.com/jobs/%d", 7000+n),
	}
}

// pendingPosting creates a posting and walks it to PENDING_APPROVAL.
func pendingPosting(t *testing.T, st store.Store, n int) *posting.Posting {
	t.Helper()
	ctx := context.Background()

	p, _, err := st.LookupOrCreate(ctx, gateSeed(n))
	require.NoError(t, err)
	require.NoError(t, st.SetScore(ctx, p.Fingerprint, 0.8, "good match"))
	require.NoError(t, st.Transition(ctx, p.Fingerprint, posting.StateScored, posting.StatePendingApproval, "awaiting approval"))
	p.State = posting.StatePendingApproval
	return p
}

func stubNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestGateOpensMissingRequest(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, gateResult{}, res)

	require.Equal(t, []string{p.Fingerprint}, notifier.requests)
	req, err := st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "req-1", req.RequestID)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StatePendingApproval, got.State)

	// A second pass must not send a second prompt for the same posting.
	_, err = gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Len(t, notifier.requests, 1)
}

func TestGateDryRunOpensNothing(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)

	_, err := gate.Resolve(ctx, false)
	require.NoError(t, err)

	assert.Empty(t, notifier.requests)
	req, err := st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestGateAppliesApproval(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := pendingPosting(t, st, 1)
	require.NoError(t, st.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))

	notifier := &fakeNotifier{decisions: map[string]notify.Decision{p.Fingerprint: notify.DecisionApproved}}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.approved)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StateReadyToSubmit, got.State)

	req, err := st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, req, "request must be closed after the decision")
}

func TestGateAppliesRejection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := pendingPosting(t, st, 1)
	require.NoError(t, st.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))

	notifier := &fakeNotifier{decisions: map[string]notify.Decision{p.Fingerprint: notify.DecisionRejected}}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.rejected)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StateRejected, got.State)

	require.Len(t, notifier.outcomes, 1)
	assert.Equal(t, "rejected by operator", notifier.outcomes[0].note)
}

func TestGateExpiresStaleRequest(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	gate := NewGate(st, notifier, 24*time.Hour, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)
	require.NoError(t, st.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))

	// Two days pass without an answer.
	stubNow(t, time.Now().Add(48*time.Hour))

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.expired)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StateExpired, got.State)

	req, err := st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, req)

	require.Len(t, notifier.outcomes, 1)
	assert.Contains(t, notifier.outcomes[0].note, "expired")
}

func TestGateZeroTimeoutNeverExpires(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	gate := NewGate(st, notifier, 0, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)
	require.NoError(t, st.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))

	stubNow(t, time.Now().Add(1000*time.Hour))

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, gateResult{}, res)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StatePendingApproval, got.State)
}

func TestGateLeavesUnansweredPending(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)
	require.NoError(t, st.OpenApprovalRequest(ctx, p.Fingerprint, "req-1"))

	res, err := gate.Resolve(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, gateResult{}, res)

	got, err := st.Get(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, posting.StatePendingApproval, got.State)
}

func TestGateSendFailureRetriedNextPass(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{sendErr: errors.New("telegram down")}
	gate := NewGate(st, notifier, time.Hour, zap.NewNop())
	ctx := context.Background()

	p := pendingPosting(t, st, 1)

	_, err := gate.Resolve(ctx, true)
	require.NoError(t, err, "a send failure must not fail the pass")

	req, err := st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, req)

	// The transport recovers; the next pass opens the request.
	notifier.sendErr = nil
	_, err = gate.Resolve(ctx, true)
	require.NoError(t, err)

	req, err = st.GetApprovalRequest(ctx, p.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, req)
}

func TestGateApproveWrongState(t *testing.T) {
	st := newTestStore(t)
	gate := NewGate(st, &fakeNotifier{}, time.Hour, zap.NewNop())
	ctx := context.Background()

	p, _, err := st.LookupOrCreate(ctx, gateSeed(1))
	require.NoError(t, err)

	err = gate.Approve(ctx, p.Fingerprint)
	require.ErrorIs(t, err, store.ErrStateConflict)
}
