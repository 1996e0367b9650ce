package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default SQLite configuration
func DefaultConfig() Config {
	return Config{
		Path:            "deployctl.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.cfg.Path == ":memory:" {
		// Each pooled connection to :memory: opens its own private database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, environment, status, exit_status, failed_phase, dry_run, skip_set, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.SkipSet == "" {
		run.SkipSet = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Environment, run.Status, run.ExitStatus, run.FailedPhase,
		run.DryRun, run.SkipSet, run.Error, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, environment, status, exit_status, failed_phase, dry_run, skip_set, error, started_at, completed_at, created_at, updated_at
		FROM runs WHERE id = ?
	`
	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Environment, &run.Status, &run.ExitStatus, &run.FailedPhase,
		&run.DryRun, &run.SkipSet, &run.Error, &run.StartedAt, &run.CompletedAt,
		&run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus updates a run's status and terminal fields. Terminal
// statuses stamp completed_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, exitStatus int, failedPhase, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, exit_status = ?, failed_phase = ?, error = ?,
		    completed_at = CASE WHEN ? IN ('succeeded', 'failed', 'declined', 'rejected') THEN ? ELSE completed_at END,
		    updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		status, exitStatus, failedPhase, errMsg, status, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns lists runs, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, environment, status, exit_status, failed_phase, dry_run, skip_set, error, started_at, completed_at, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.Environment, &run.Status, &run.ExitStatus, &run.FailedPhase,
			&run.DryRun, &run.SkipSet, &run.Error, &run.StartedAt, &run.CompletedAt,
			&run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and its dependent rows
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// CreatePhaseResult records one phase outcome for a run
func (s *SQLiteStore) CreatePhaseResult(ctx context.Context, result *PhaseResult) error {
	query := `
		INSERT INTO phase_results (id, run_id, phase, ordinal, status, exit_status, started_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, query,
		result.ID, result.RunID, result.Phase, result.Ordinal, result.Status,
		result.ExitStatus, result.StartedAt, result.DurationMS, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create phase result: %w", err)
	}
	return nil
}

// ListPhaseResultsByRun lists a run's phase results in execution order
func (s *SQLiteStore) ListPhaseResultsByRun(ctx context.Context, runID string) ([]*PhaseResult, error) {
	query := `
		SELECT id, run_id, phase, ordinal, status, exit_status, started_at, duration_ms, created_at
		FROM phase_results
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase results: %w", err)
	}
	defer rows.Close()

	var results []*PhaseResult
	for rows.Next() {
		result := &PhaseResult{}
		if err := rows.Scan(
			&result.ID, &result.RunID, &result.Phase, &result.Ordinal, &result.Status,
			&result.ExitStatus, &result.StartedAt, &result.DurationMS, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase results: %w", err)
	}
	return results, nil
}

// CreateVerification creates a new verification record
func (s *SQLiteStore) CreateVerification(ctx context.Context, verification *Verification) error {
	query := `
		INSERT INTO verifications (id, target, run_label, iterations, completed_iterations, status, exit_status, changed_domains, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	verification.CreatedAt = now
	verification.UpdatedAt = now
	if verification.ChangedDomains == "" {
		verification.ChangedDomains = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		verification.ID, verification.Target, verification.RunLabel,
		verification.Iterations, verification.CompletedIterations, verification.Status,
		verification.ExitStatus, verification.ChangedDomains, verification.StartedAt,
		verification.CompletedAt, verification.CreatedAt, verification.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	return nil
}

// GetVerification retrieves a verification by ID
func (s *SQLiteStore) GetVerification(ctx context.Context, id string) (*Verification, error) {
	query := `
		SELECT id, target, run_label, iterations, completed_iterations, status, exit_status, changed_domains, started_at, completed_at, created_at, updated_at
		FROM verifications WHERE id = ?
	`
	verification := &Verification{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&verification.ID, &verification.Target, &verification.RunLabel,
		&verification.Iterations, &verification.CompletedIterations, &verification.Status,
		&verification.ExitStatus, &verification.ChangedDomains, &verification.StartedAt,
		&verification.CompletedAt, &verification.CreatedAt, &verification.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return verification, nil
}

// CompleteVerification records a verification's terminal outcome
func (s *SQLiteStore) CompleteVerification(ctx context.Context, id string, status VerificationStatus, exitStatus, completedIterations int, changedDomains string) error {
	query := `
		UPDATE verifications
		SET status = ?, exit_status = ?, completed_iterations = ?, changed_domains = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	if changedDomains == "" {
		changedDomains = "[]"
	}
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		status, exitStatus, completedIterations, changedDomains, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete verification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("verification not found: %s", id)
	}
	return nil
}

// ListVerifications lists verifications, most recent first
func (s *SQLiteStore) ListVerifications(ctx context.Context, limit, offset int) ([]*Verification, error) {
	query := `
		SELECT id, target, run_label, iterations, completed_iterations, status, exit_status, changed_domains, started_at, completed_at, created_at, updated_at
		FROM verifications
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	var verifications []*Verification
	for rows.Next() {
		verification := &Verification{}
		if err := rows.Scan(
			&verification.ID, &verification.Target, &verification.RunLabel,
			&verification.Iterations, &verification.CompletedIterations, &verification.Status,
			&verification.ExitStatus, &verification.ChangedDomains, &verification.StartedAt,
			&verification.CompletedAt, &verification.CreatedAt, &verification.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		verifications = append(verifications, verification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verifications: %w", err)
	}
	return verifications, nil
}

// DeleteVerification deletes a verification and its iteration records
func (s *SQLiteStore) DeleteVerification(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM verifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete verification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("verification not found: %s", id)
	}
	return nil
}

// CreateIterationRecord records one target invocation of a verification
func (s *SQLiteStore) CreateIterationRecord(ctx context.Context, record *IterationRecord) error {
	query := `
		INSERT INTO iteration_records (verification_id, idx, exit_status, pre_label, post_label, stdout, stderr, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		record.VerificationID, record.Idx, record.ExitStatus, record.PreLabel,
		record.PostLabel, record.Stdout, record.Stderr, record.StartedAt, record.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to create iteration record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get iteration record id: %w", err)
	}
	record.ID = id
	return nil
}

// ListIterationRecordsByVerification lists a verification's iterations in order
func (s *SQLiteStore) ListIterationRecordsByVerification(ctx context.Context, verificationID string) ([]*IterationRecord, error) {
	query := `
		SELECT id, verification_id, idx, exit_status, pre_label, post_label, stdout, stderr, started_at, duration_ms
		FROM iteration_records
		WHERE verification_id = ?
		ORDER BY idx ASC
	`
	rows, err := s.db.QueryContext(ctx, query, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iteration records: %w", err)
	}
	defer rows.Close()

	var records []*IterationRecord
	for rows.Next() {
		record := &IterationRecord{}
		if err := rows.Scan(
			&record.ID, &record.VerificationID, &record.Idx, &record.ExitStatus,
			&record.PreLabel, &record.PostLabel, &record.Stdout, &record.Stderr,
			&record.StartedAt, &record.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan iteration record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating iteration records: %w", err)
	}
	return records, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, phase, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID, event.Phase, event.Level, event.Message, event.Details, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, phase *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, phase, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR phase = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		runID, runID, phase, phase, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(
			&event.ID, &event.RunID, &event.Phase, &event.Level,
			&event.Message, &event.Details, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database is accessible
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
