package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jobhound/jobhound/internal/posting"
)

// PostgresStore implements Store using pgxpool. Semantics match the SQLite
// backend exactly; only the SQL dialect differs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS postings (
	fingerprint   TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	title         TEXT NOT NULL,
	company       TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	salary        TEXT NOT NULL DEFAULT '',
	score         DOUBLE PRECISION,
	score_reason  TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'DISCOVERED',
	evidence_ref  TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
	seq         BIGSERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL REFERENCES postings(fingerprint),
	from_state  TEXT NOT NULL DEFAULT '',
	to_state    TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_requests (
	fingerprint  TEXT PRIMARY KEY REFERENCES postings(fingerprint),
	request_id   TEXT NOT NULL,
	requested_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL,
	dry_run          BOOLEAN NOT NULL DEFAULT FALSE,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LookupOrCreate(ctx context.Context, seed posting.Seed) (*posting.Posting, bool, error) {
	fp := seed.Fingerprint()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO postings (fingerprint, source, title, company, location, description, url, salary, state, discovered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, seed.Source, seed.Title, seed.Company, seed.Location, seed.Description,
		seed.URL, seed.Salary, string(posting.StateDiscovered), now, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert posting")
	}
	created := tag.RowsAffected() > 0

	if created {
		_, err = tx.Exec(ctx,
			`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES ($1, '', $2, $3, $4)`,
			fp, string(posting.StateDiscovered), "discovered via "+seed.Source, now,
		)
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: insert discovery transition")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit")
	}

	p, err := s.Get(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*posting.Posting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, source, title, company, location, description, url, salary,
		        score, score_reason, state, evidence_ref, discovered_at, updated_at
		 FROM postings WHERE fingerprint = $1`,
		fingerprint,
	)
	return scanPostingPgx(row)
}

func (s *PostgresStore) ListByState(ctx context.Context, states ...posting.State) ([]*posting.Posting, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	query := `SELECT fingerprint, source, title, company, location, description, url, salary,
	                 score, score_reason, state, evidence_ref, discovered_at, updated_at
	          FROM postings WHERE state IN (` + strings.Join(placeholders, ",") + `) ORDER BY discovered_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list postings")
	}
	defer rows.Close()

	var postings []*posting.Posting
	for rows.Next() {
		p, err := scanPostingPgx(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, eris.Wrap(rows.Err(), "postgres: list postings iterate")
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[posting.State]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM postings GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := make(map[posting.State]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[posting.State(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by state iterate")
}

func (s *PostgresStore) Transition(ctx context.Context, fingerprint string, from, to posting.State, note string) error {
	if !posting.IsTransitionAllowed(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, to)
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE postings SET state = $1, updated_at = $2 WHERE fingerprint = $3 AND state = $4`,
		string(to), now, fingerprint, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictError(ctx, tx, fingerprint, from)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		fingerprint, string(from), string(to), note, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert transition %s", fingerprint)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) conflictError(ctx context.Context, tx pgx.Tx, fingerprint string, expected posting.State) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT state FROM postings WHERE fingerprint = $1`, fingerprint).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read state %s", fingerprint)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStateConflict, fingerprint, current, expected)
}

func (s *PostgresStore) SetScore(ctx context.Context, fingerprint string, score float64, reason string) error {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE postings SET score = $1, score_reason = $2, state = $3, updated_at = $4
		 WHERE fingerprint = $5 AND state = $6 AND score IS NULL`,
		score, reason, string(posting.StateScored), now,
		fingerprint, string(posting.StateDiscovered),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set score %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		var hasScore bool
		err := tx.QueryRow(ctx, `SELECT score IS NOT NULL FROM postings WHERE fingerprint = $1`, fingerprint).Scan(&hasScore)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: read score %s", fingerprint)
		}
		if hasScore {
			return fmt.Errorf("%w: %s", ErrScoreAlreadySet, fingerprint)
		}
		return s.conflictError(ctx, tx, fingerprint, posting.StateDiscovered)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transitions (fingerprint, from_state, to_state, note, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		fingerprint, string(posting.StateDiscovered), string(posting.StateScored),
		fmt.Sprintf("score %.2f", score), now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert score transition %s", fingerprint)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit score")
}

func (s *PostgresStore) SetEvidence(ctx context.Context, fingerprint, evidenceRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE postings SET evidence_ref = $1, updated_at = $2 WHERE fingerprint = $3`,
		evidenceRef, time.Now().UTC(), fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set evidence %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, fingerprint string) ([]posting.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, fingerprint, from_state, to_state, note, occurred_at
		 FROM transitions WHERE fingerprint = $1 ORDER BY seq`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", fingerprint)
	}
	defer rows.Close()

	var history []posting.Transition
	for rows.Next() {
		var t posting.Transition
		var from, to string
		if err := rows.Scan(&t.Seq, &t.Fingerprint, &from, &to, &t.Note, &t.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		t.From, t.To = posting.State(from), posting.State(to)
		history = append(history, t)
	}
	return history, eris.Wrap(rows.Err(), "postgres: history iterate")
}

func (s *PostgresStore) CountRetries(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transitions WHERE fingerprint = $1 AND from_state = $2 AND to_state = $3`,
		fingerprint, string(posting.StateFailedRetryable), string(posting.StateSubmitting),
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count retries %s", fingerprint)
}

func (s *PostgresStore) CountSubmittedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transitions WHERE to_state = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		string(posting.StateSubmitted), from.UTC(), to.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count submitted")
}

func (s *PostgresStore) OpenApprovalRequest(ctx context.Context, fingerprint, requestID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_requests (fingerprint, request_id, requested_at) VALUES ($1, $2, $3)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, requestID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: open approval request %s", fingerprint)
}

func (s *PostgresStore) GetApprovalRequest(ctx context.Context, fingerprint string) (*ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, request_id, requested_at FROM approval_requests WHERE fingerprint = $1`,
		fingerprint,
	)
	var r ApprovalRequest
	err := row.Scan(&r.Fingerprint, &r.RequestID, &r.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get approval request %s", fingerprint)
	}
	return &r, nil
}

func (s *PostgresStore) CloseApprovalRequest(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM approval_requests WHERE fingerprint = $1`, fingerprint)
	return eris.Wrapf(err, "postgres: close approval request %s", fingerprint)
}

func (s *PostgresStore) RecordRun(ctx context.Context, stats RunStats) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at, finished_at, dry_run, discovered, duplicates, screened_out,
		                   scored, rejected, pending_approval, ready, submitted, failed, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		stats.ID, stats.StartedAt.UTC(), stats.FinishedAt.UTC(), stats.DryRun,
		stats.Discovered, stats.Duplicates, stats.ScreenedOut, stats.Scored, stats.Rejected,
		stats.PendingApproval, stats.Ready, stats.Submitted, stats.Failed, stats.Errors,
	)
	return eris.Wrap(err, "postgres: record run")
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]RunStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, dry_run, discovered, duplicates, screened_out,
		        scored, rejected, pending_approval, ready, submitted, failed, errors
		 FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent runs")
	}
	defer rows.Close()

	var runs []RunStats
	for rows.Next() {
		var r RunStats
		err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.DryRun,
			&r.Discovered, &r.Duplicates, &r.ScreenedOut, &r.Scored, &r.Rejected,
			&r.PendingApproval, &r.Ready, &r.Submitted, &r.Failed, &r.Errors)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: recent runs iterate")
}

func scanPostingPgx(row pgx.Row) (*posting.Posting, error) {
	var p posting.Posting
	var score *float64
	var state string

	err := row.Scan(&p.Fingerprint, &p.Source, &p.Title, &p.Company, &p.Location,
		&p.Description, &p.URL, &p.Salary, &score, &p.ScoreReason, &state,
		&p.EvidenceRef, &p.DiscoveredAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan posting")
	}

	p.Score = score
	st, err := posting.ParseState(state)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan posting")
	}
	p.State = st
	return &p, nil
}
