// Package history persists bulk run results to a local SQLite database.
//
// The store keeps one row per run and one row per device session, enough to
// answer "what ran, where, and how did it go" without re-reading session log
// artifacts. History is optional: callers skip the store entirely when no
// database path is configured.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	"github.com/Payhn/CustomTools/internal/bulk"
	"github.com/Payhn/CustomTools/internal/metrics"
)

// ErrNilSummary is returned when a nil run summary is passed to RecordRun.
var ErrNilSummary = errors.New("nil run summary")

// Run is one bulk run as stored in the runs table.
type Run struct {
	ID                 string
	StartedAt          time.Time
	FinishedAt         time.Time
	Devices            int
	ConnectionFailures int
	Commands           int
	Successes          int
	Errors             int
}

// Session is one device session belonging to a run.
type Session struct {
	RunID        string
	Target       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Commands     int
	Successes    int
	Errors       int
	ConnectError string
	Artifact     string
}

// Store records bulk runs in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (or creates) the history database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring history schema: %w", err)
	}

	return s, nil
}

func (s *Store) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			devices INTEGER NOT NULL,
			connection_failures INTEGER NOT NULL,
			commands INTEGER NOT NULL,
			successes INTEGER NOT NULL,
			errors INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			target TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			commands INTEGER NOT NULL,
			successes INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			connect_error TEXT NOT NULL DEFAULT '',
			artifact TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_run_id ON sessions(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores a completed run summary and its per-device sessions in
// one transaction.
func (s *Store) RecordRun(ctx context.Context, summary *bulk.RunSummary) error {
	if summary == nil {
		return ErrNilSummary
	}

	err := s.recordRun(ctx, summary)
	if err != nil {
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.HistoryWritesTotal.WithLabelValues("success").Inc()
	s.logger.Debug("recorded run history",
		slog.String("run_id", summary.RunID),
		slog.Int("devices", summary.Devices),
	)
	return nil
}

func (s *Store) recordRun(ctx context.Context, summary *bulk.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, finished_at, devices, connection_failures, commands, successes, errors)
		 VALUES (?,?,?,?,?,?,?,?)`,
		summary.RunID, summary.StartTime, summary.EndTime,
		summary.Devices, summary.ConnectionFailures,
		summary.TotalCommands, summary.Successes, summary.Errors)
	if err != nil {
		return fmt.Errorf("inserting run row: %w", err)
	}

	for _, rec := range summary.Records {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions(run_id, target, started_at, finished_at, commands, successes, errors, connect_error, artifact)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			summary.RunID, rec.Target, rec.StartTime, rec.EndTime,
			rec.CommandCount(), rec.SuccessCount(), rec.ErrorCount(),
			rec.ConnectError, rec.ArtifactPath)
		if err != nil {
			return fmt.Errorf("inserting session row for %s: %w", rec.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history transaction: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first. A non-positive limit
// defaults to 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, devices, connection_failures, commands, successes, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt,
			&r.Devices, &r.ConnectionFailures, &r.Commands, &r.Successes, &r.Errors); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Sessions returns the device sessions for a run, in insertion order.
func (s *Store) Sessions(ctx context.Context, runID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, target, started_at, finished_at, commands, successes, errors, connect_error, artifact
		 FROM sessions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.RunID, &sess.Target, &sess.StartedAt, &sess.FinishedAt,
			&sess.Commands, &sess.Successes, &sess.Errors, &sess.ConnectError, &sess.Artifact); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Cleanup removes runs older than the retention window along with their
// sessions. A non-positive retention is a no-op.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-retention)

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return fmt.Errorf("pruning sessions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("pruning runs: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. Used as a health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
