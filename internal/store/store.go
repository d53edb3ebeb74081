// Package store persists postings, their transition history, open approval
// requests and run stats. SQLite is the default backend; Postgres is
// available behind the same interface.
//
// The store is the single authority on lifecycle changes: every state change
// goes through Transition, which applies the posting state machine and a
// conditional update so that concurrent writers cannot overwrite each other.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jobhound/jobhound/internal/posting"
)

var (
	// ErrNotFound is returned when no posting exists for a fingerprint.
	ErrNotFound = errors.New("posting not found")
	// ErrStateConflict is returned when a conditional update lost: the
	// posting's current state is not the expected from-state. The caller
	// must re-read and re-decide, never overwrite.
	ErrStateConflict = errors.New("posting state changed concurrently")
	// ErrIllegalTransition is returned for edges the state machine forbids.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrScoreAlreadySet is returned when a posting already carries a score.
	ErrScoreAlreadySet = errors.New("score already recorded")
)

// ApprovalRequest tracks one outstanding human-approval request. The schema
// allows at most one open request per posting.
type ApprovalRequest struct {
	Fingerprint string
	RequestID   string
	RequestedAt time.Time
}

// RunStats is the durable record of one pipeline pass.
type RunStats struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	DryRun          bool
	Discovered      int
	Duplicates      int
	ScreenedOut     int
	Scored          int
	Rejected        int
	PendingApproval int
	Ready           int
	Submitted       int
	Failed          int
	Errors          int
}

// Store defines the persistence interface for the application pipeline.
type Store interface {
	// Postings
	LookupOrCreate(ctx context.Context, seed posting.Seed) (*posting.Posting, bool, error)
	Get(ctx context.Context, fingerprint string) (*posting.Posting, error)
	ListByState(ctx context.Context, states ...posting.State) ([]*posting.Posting, error)
	CountByState(ctx context.Context) (map[posting.State]int, error)

	// Lifecycle
	Transition(ctx context.Context, fingerprint string, from, to posting.State, note string) error
	SetScore(ctx context.Context, fingerprint string, score float64, reason string) error
	SetEvidence(ctx context.Context, fingerprint, evidenceRef string) error

	// History
	History(ctx context.Context, fingerprint string) ([]posting.Transition, error)
	CountRetries(ctx context.Context, fingerprint string) (int, error)
	CountSubmittedBetween(ctx context.Context, from, to time.Time) (int, error)

	// Approval requests
	OpenApprovalRequest(ctx context.Context, fingerprint, requestID string) error
	GetApprovalRequest(ctx context.Context, fingerprint string) (*ApprovalRequest, error)
	CloseApprovalRequest(ctx context.Context, fingerprint string) error

	// Runs
	RecordRun(ctx context.Context, stats RunStats) error
	RecentRuns(ctx context.Context, limit int) ([]RunStats, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}
