package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/ch2migrate/internal/retry"
	"github.com/loykin/ch2migrate/internal/store/sqlite"
)

// Store is the run ledger kept next to the working copy. It records which
// pipeline stages completed, with the artifact each produced, so a later
// invocation can resume instead of starting over.
//
//	stage_state(stage TEXT PRIMARY KEY, run_id, completed_at, artifact, checksum)
//	stage_runs(id, run_id, stage, failed, message, duration_ms, ran_at)
type Store struct {
	DB    *sql.DB
	retry *retry.Config
	now   func() time.Time
}

// StageRecord describes a completed stage.
type StageRecord struct {
	Stage       string
	RunID       string
	CompletedAt time.Time
	Artifact    string
	Checksum    string
}

// RunRecord is one attempt at a stage, successful or not.
type RunRecord struct {
	ID       int64
	RunID    string
	Stage    string
	Failed   bool
	Message  string
	Duration time.Duration
	RanAt    time.Time
}

// NewRunID returns an identifier shared by every stage of one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// Open connects to (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(sqlite.Config{Path: path, Mode: "rwc"})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	st := New(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// New wraps an already open database. The caller is responsible for
// EnsureSchema.
func New(db *sql.DB) *Store {
	return &Store{DB: db, retry: retry.DefaultRetryConfig(), now: time.Now}
}

// WithRetry replaces the retry policy used for writes.
func (s *Store) WithRetry(cfg *retry.Config) *Store {
	s.retry = cfg
	return s
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stage_state (
			stage TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			artifact TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS stage_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			ran_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := retry.Exec(ctx, s.retry, s.DB, stmt); err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return nil
}

// MarkCompleted records rec as the latest completion of its stage,
// replacing any earlier one.
func (s *Store) MarkCompleted(ctx context.Context, rec StageRecord) error {
	if strings.TrimSpace(rec.Stage) == "" {
		return errors.New("stage name is required")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now()
	}
	_, err := retry.Exec(ctx, s.retry, s.DB,
		`INSERT OR REPLACE INTO stage_state(stage, run_id, completed_at, artifact, checksum) VALUES(?, ?, ?, ?, ?)`,
		rec.Stage, rec.RunID, rec.CompletedAt.UTC().Format(time.RFC3339Nano), rec.Artifact, rec.Checksum)
	if err != nil {
		return fmt.Errorf("failed to record stage %s: %w", rec.Stage, err)
	}
	return nil
}

// IsCompleted returns true if stage has a completion record.
func (s *Store) IsCompleted(ctx context.Context, stage string) (bool, error) {
	rec, err := s.Get(ctx, stage)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Get returns the completion record of stage, or nil if it has none.
func (s *Store) Get(ctx context.Context, stage string) (*StageRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT stage, run_id, completed_at, artifact, checksum FROM stage_state WHERE stage = ?`, stage)
	rec, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage %s: %w", stage, err)
	}
	return rec, nil
}

// ListCompleted returns every completion record ordered by completion time.
func (s *Store) ListCompleted(ctx context.Context) ([]StageRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT stage, run_id, completed_at, artifact, checksum FROM stage_state ORDER BY completed_at ASC, stage ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StageRecord
	for rows.Next() {
		rec, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Reset removes the completion records of the given stages so they run again.
func (s *Store) Reset(ctx context.Context, stages ...string) error {
	for _, stage := range stages {
		if _, err := retry.Exec(ctx, s.retry, s.DB, `DELETE FROM stage_state WHERE stage = ?`, stage); err != nil {
			return fmt.Errorf("failed to reset stage %s: %w", stage, err)
		}
	}
	return nil
}

// ResetAll forgets every completed stage. Run history is kept.
func (s *Store) ResetAll(ctx context.Context) error {
	if _, err := retry.Exec(ctx, s.retry, s.DB, `DELETE FROM stage_state`); err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	return nil
}

// RecordRun appends one attempt to the run history.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	if run.RanAt.IsZero() {
		run.RanAt = s.now()
	}
	failed := 0
	if run.Failed {
		failed = 1
	}
	_, err := retry.Exec(ctx, s.retry, s.DB,
		`INSERT INTO stage_runs(run_id, stage, failed, message, duration_ms, ran_at) VALUES(?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Stage, failed, run.Message, run.Duration.Milliseconds(), run.RanAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record run of %s: %w", run.Stage, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	q := `SELECT id, run_id, stage, failed, message, duration_ms, ran_at FROM stage_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var (
			r      RunRecord
			failed int
			durMS  int64
			ranAt  string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &failed, &r.Message, &durMS, &ranAt); err != nil {
			return nil, err
		}
		r.Failed = failed != 0
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.RanAt, _ = time.Parse(time.RFC3339Nano, ranAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStage(sc scanner) (*StageRecord, error) {
	var rec StageRecord
	var completed string
	if err := sc.Scan(&rec.Stage, &rec.RunID, &completed, &rec.Artifact, &rec.Checksum); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, completed)
	if err != nil {
		return nil, fmt.Errorf("bad completed_at %q for stage %s: %w", completed, rec.Stage, err)
	}
	rec.CompletedAt = t
	return &rec, nil
}
