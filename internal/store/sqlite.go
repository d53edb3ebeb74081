package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jobhound/jobhound/internal/posting"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS postings (
	fingerprint   TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	title         TEXT NOT NULL,
	company       TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	salary        TEXT NOT NULL DEFAULT '',
	score         REAL,
	score_reason  TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'DISCOVERED',
	evidence_ref  TEXT NOT NULL DEFAULT '',
	discovered_at DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
	from_state  TEXT NOT NULL DEFAULT '',
	to_state    TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_requests (
	fingerprint  TEXT PRIMARY KEY REFERENCES postings(fingerprint),
	request_id   TEXT NOT NULL,
	requested_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	started_at       DATETIME NOT NULL,
	finished_at      DATETIME NOT NULL,
	dry_run          INTEGER NOT NULL DEFAULT 0,
	discovered       INTEGER NOT NULL DEFAULT 0,
	duplicates       INTEGER NOT NULL DEFAULT 0,
	screened_out     INTEGER NOT NULL DEFAULT 0,
	scored           INTEGER NOT NULL DEFAULT 0,
	rejected         INTEGER NOT NULL DEFAULT 0,
	pending_approval INTEGER NOT NULL DEFAULT 0,
	ready            INTEGER NOT NULL DEFAULT 0,
	submitted        INTEGER NOT NULL DEFAULT 0,
	failed           INTEGER NOT NULL DEFAULT 0,
	errors           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_postings_state ON postings(state);
CREATE INDEX IF NOT EXISTS idx_transitions_fingerprint ON transitions(fingerprint);
CREATE INDEX IF NOT EXISTS idx_transitions_to_state ON transitions(to_state, occurred_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LookupOrCreate inserts the seed as a DISCOVERED posting unless a posting
// with the same fingerprint already exists. The bool result is true when the
// posting was created by this call. Safe to call repeatedly and concurrently
// with the same seed.
func (s *SQLiteStore) LookupOrCreate(ctx context.Context, seed posting.Seed) (*posting.Posting, bool, error) {
	fp := seed.Fingerprint()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO postings (fingerprint, source, title, company, location, description, url, salary, state, discovered_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fp, seed.Source, seed.Title, seed.Company, seed.Location, seed.Description,
		seed.URL, seed.Salary, string(posting.StateDiscovered), now, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert posting")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	created := n > 0

	if created {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES (?, '', ?, ?, ?)`,
			fp, string(posting.StateDiscovered), "discovered via "+seed.Source, now,
		)
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: insert discovery transition")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit")
	}

	p, err := s.Get(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*posting.Posting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, source, title, company, location, description, url, salary,
		        score, score_reason, state, evidence_ref, discovered_at, updated_at
		 FROM postings WHERE fingerprint = ?`,
		fingerprint,
	)
	return scanPosting(row)
}

func (s *SQLiteStore) ListByState(ctx context.Context, states ...posting.State) ([]*posting.Posting, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT fingerprint, source, title, company, location, description, url, salary,
	                 score, score_reason, state, evidence_ref, discovered_at, updated_at
	          FROM postings WHERE state IN (?` + strings.Repeat(",?", len(states)-1) + `) ORDER BY discovered_at`
	args := make([]any, 0, len(states))
	for _, st := range states {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list postings")
	}
	defer rows.Close()

	var postings []*posting.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, eris.Wrap(rows.Err(), "sqlite: list postings iterate")
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[posting.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM postings GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close()

	counts := make(map[posting.State]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[posting.State(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by state iterate")
}

// Transition moves a posting from → to and appends the history row in one
// transaction. The update is conditional on the posting still being in the
// from-state: a lost race returns ErrStateConflict and changes nothing.
func (s *SQLiteStore) Transition(ctx context.Context, fingerprint string, from, to posting.State, note string) error {
	if !posting.IsTransitionAllowed(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, to)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE postings SET state = ?, updated_at = ? WHERE fingerprint = ? AND state = ?`,
		string(to), now, fingerprint, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition %s", fingerprint)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.conflictError(ctx, tx, fingerprint, from)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		fingerprint, string(from), string(to), note, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert transition %s", fingerprint)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

// conflictError distinguishes a missing posting from one whose state moved
// under us.
func (s *SQLiteStore) conflictError(ctx context.Context, tx *sql.Tx, fingerprint string, expected posting.State) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT state FROM postings WHERE fingerprint = ?`, fingerprint).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read state %s", fingerprint)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStateConflict, fingerprint, current, expected)
}

// SetScore records the score and moves DISCOVERED → SCORED in one step. The
// score column is write-once: a posting that already carries a score is never
// rescored.
func (s *SQLiteStore) SetScore(ctx context.Context, fingerprint string, score float64, reason string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE postings SET score = ?, score_reason = ?, state = ?, updated_at = ?
		 WHERE fingerprint = ? AND state = ? AND score IS NULL`,
		score, reason, string(posting.StateScored), now,
		fingerprint, string(posting.StateDiscovered),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set score %s", fingerprint)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var hasScore bool
		err := tx.QueryRowContext(ctx, `SELECT score IS NOT NULL FROM postings WHERE fingerprint = ?`, fingerprint).Scan(&hasScore)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: read score %s", fingerprint)
		}
		if hasScore {
			return fmt.Errorf("%w: %s", ErrScoreAlreadySet, fingerprint)
		}
		return s.conflictError(ctx, tx, fingerprint, posting.StateDiscovered)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		fingerprint, string(posting.StateDiscovered), string(posting.StateScored),
		fmt.Sprintf("score %.2f", score), now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert score transition %s", fingerprint)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit score")
}

func (s *SQLiteStore) SetEvidence(ctx context.Context, fingerprint, evidenceRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE postings SET evidence_ref = ?, updated_at = ? WHERE fingerprint = ?`,
		evidenceRef, time.Now().UTC(), fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set evidence %s", fingerprint)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, fingerprint string) ([]posting.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, fingerprint, from_state, to_state, note, occurred_at
		 FROM transitions WHERE fingerprint = ? ORDER BY seq`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", fingerprint)
	}
	defer rows.Close()

	var history []posting.Transition
	for rows.Next() {
		var t posting.Transition
		var from, to string
		if err := rows.Scan(&t.Seq, &t.Fingerprint, &from, &to, &t.Note, &t.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		t.From, t.To = posting.State(from), posting.State(to)
		history = append(history, t)
	}
	return history, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

// CountRetries reports how many submission retries a posting has used,
// derived from history rather than a stored counter.
func (s *SQLiteStore) CountRetries(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transitions WHERE fingerprint = ? AND from_state = ? AND to_state = ?`,
		fingerprint, string(posting.StateFailedRetryable), string(posting.StateSubmitting),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count retries %s", fingerprint)
}

// CountSubmittedBetween counts submissions recorded in [from, to), derived
// from the transition history so the daily budget survives restarts.
func (s *SQLiteStore) CountSubmittedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transitions WHERE to_state = ? AND occurred_at >= ? AND occurred_at < ?`,
		string(posting.StateSubmitted), from.UTC(), to.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count submitted")
}

// OpenApprovalRequest records an outstanding request. A second open request
// for the same posting is a no-op, which is what makes approval sends
// resumable after a crash.
func (s *SQLiteStore) OpenApprovalRequest(ctx context.Context, fingerprint, requestID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (fingerprint, request_id, requested_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, requestID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: open approval request %s", fingerprint)
}

// GetApprovalRequest returns nil without error when no request is open.
func (s *SQLiteStore) GetApprovalRequest(ctx context.Context, fingerprint string) (*ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, request_id, requested_at FROM approval_requests WHERE fingerprint = ?`,
		fingerprint,
	)
	var r ApprovalRequest
	err := row.Scan(&r.Fingerprint, &r.RequestID, &r.RequestedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get approval request %s", fingerprint)
	}
	return &r, nil
}

func (s *SQLiteStore) CloseApprovalRequest(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM approval_requests WHERE fingerprint = ?`, fingerprint)
	return eris.Wrapf(err, "sqlite: close approval request %s", fingerprint)
}

func (s *SQLiteStore) RecordRun(ctx context.Context, stats RunStats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, dry_run, discovered, duplicates, screened_out,
		                   scored, rejected, pending_approval, ready, submitted, failed, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.ID, stats.StartedAt.UTC(), stats.FinishedAt.UTC(), stats.DryRun,
		stats.Discovered, stats.Duplicates, stats.ScreenedOut, stats.Scored, stats.Rejected,
		stats.PendingApproval, stats.Ready, stats.Submitted, stats.Failed, stats.Errors,
	)
	return eris.Wrap(err, "sqlite: record run")
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, dry_run, discovered, duplicates, screened_out,
		        scored, rejected, pending_approval, ready, submitted, failed, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent runs")
	}
	defer rows.Close()

	var runs []RunStats
	for rows.Next() {
		var r RunStats
		err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.DryRun,
			&r.Discovered, &r.Duplicates, &r.ScreenedOut, &r.Scored, &r.Rejected,
			&r.PendingApproval, &r.Ready, &r.Submitted, &r.Failed, &r.Errors)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: recent runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPosting(row scannable) (*posting.Posting, error) {
	var p posting.Posting
	var score sql.NullFloat64
	var state string

	err := row.Scan(&p.Fingerprint, &p.Source, &p.Title, &p.Company, &p.Location,
		&p.Description, &p.URL, &p.Salary, &score, &p.ScoreReason, &state,
		&p.EvidenceRef, &p.DiscoveredAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan posting")
	}

	if score.Valid {
		p.Score = &score.Float64
	}
	st, err := posting.ParseState(state)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan posting")
	}
	p.State = st
	return &p, nil
}
