package stores

import (
	"context"
	"os"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	tables := []string{"runs", "phase_results", "verifications", "iteration_records", "events"}
	for _, table := range tables {
		var count int
		query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
		if err := store.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	// Running migrations again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:          "run-20260311-104500",
		Environment: "staging",
		Status:      RunStatusRunning,
		SkipSet:     `["monitoring"]`,
		StartedAt:   time.Now().UTC(),
	}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Environment != "staging" {
		t.Errorf("expected environment staging, got %s", got.Environment)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.SkipSet != `["monitoring"]` {
		t.Errorf("expected skip set to round-trip, got %s", got.SkipSet)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected completed_at to be nil for a running run")
	}
	if got.DryRun {
		t.Errorf("expected dry_run false")
	}

	// Terminal update stamps completed_at
	if err := store.UpdateRunStatus(ctx, run.ID, RunStatusFailed, 30, strPtr("firewall"), strPtr("phase firewall failed with status 30")); err != nil {
		t.Fatalf("failed to update run status: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.ExitStatus != 30 {
		t.Errorf("expected exit status 30, got %d", got.ExitStatus)
	}
	if got.FailedPhase == nil || *got.FailedPhase != "firewall" {
		t.Errorf("expected failed phase firewall, got %v", got.FailedPhase)
	}
	if got.Error == nil || *got.Error == "" {
		t.Errorf("expected error message to be set")
	}
	if got.CompletedAt == nil {
		t.Errorf("expected completed_at to be set for a failed run")
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); err == nil {
		t.Error("expected error getting deleted run")
	}
}

func TestUpdateRunStatus_NonTerminalKeepsCompletedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:          "run-pending",
		Environment: "dev",
		Status:      RunStatusPending,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, run.ID, RunStatusRunning, 0, nil, nil); err != nil {
		t.Fatalf("failed to update run status: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected completed_at to stay nil for running status")
	}
}

func TestUpdateRunStatus_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.UpdateRunStatus(ctx, "missing", RunStatusFailed, 1, nil, nil); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRuns_Ordering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	ids := []string{"run-a", "run-b", "run-c"}
	for i, id := range ids {
		run := &Run{
			ID:          id,
			Environment: "staging",
			Status:      RunStatusSucceeded,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: timePtr(base.Add(time.Duration(i)*time.Minute + 30*time.Second)),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("expected most recent run first, got %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	// Pagination
	runs, err = store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs with offset: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-b" {
		t.Errorf("expected run-b at offset 1, got %v", runs)
	}
}

func TestPhaseResultOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:          "run-phases",
		Environment: "staging",
		Status:      RunStatusFailed,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	started := time.Now().UTC()
	results := []*PhaseResult{
		{ID: "pr-3", RunID: run.ID, Phase: "firewall", Ordinal: 3, Status: PhaseStatusFailed, ExitStatus: 30, StartedAt: timePtr(started), DurationMS: 124},
		{ID: "pr-1", RunID: run.ID, Phase: "user_setup", Ordinal: 1, Status: PhaseStatusSucceeded, StartedAt: timePtr(started), DurationMS: 310},
		{ID: "pr-2", RunID: run.ID, Phase: "ssh_setup", Ordinal: 2, Status: PhaseStatusSkipped},
	}
	for _, result := range results {
		if err := store.CreatePhaseResult(ctx, result); err != nil {
			t.Fatalf("failed to create phase result %s: %v", result.Phase, err)
		}
	}

	list, err := store.ListPhaseResultsByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list phase results: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 phase results, got %d", len(list))
	}
	for i, phase := range []string{"user_setup", "ssh_setup", "firewall"} {
		if list[i].Phase != phase {
			t.Errorf("expected phase %s at position %d, got %s", phase, i, list[i].Phase)
		}
	}
	if list[1].Status != PhaseStatusSkipped {
		t.Errorf("expected ssh_setup to be skipped, got %s", list[1].Status)
	}
	if list[1].StartedAt != nil {
		t.Errorf("expected skipped phase to have nil started_at")
	}
	if list[2].ExitStatus != 30 {
		t.Errorf("expected firewall exit status 30, got %d", list[2].ExitStatus)
	}
	if list[0].DurationMS != 310 {
		t.Errorf("expected user_setup duration 310ms, got %d", list[0].DurationMS)
	}
}

func TestVerificationLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	verification := &Verification{
		ID:         "ver-001",
		Target:     "scripts/firewall.sh",
		RunLabel:   "verify-20260311-104500",
		Iterations: 3,
		Status:     VerificationStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := store.CreateVerification(ctx, verification); err != nil {
		t.Fatalf("failed to create verification: %v", err)
	}

	got, err := store.GetVerification(ctx, verification.ID)
	if err != nil {
		t.Fatalf("failed to get verification: %v", err)
	}
	if got.Status != VerificationStatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.ChangedDomains != "[]" {
		t.Errorf("expected empty changed domains, got %s", got.ChangedDomains)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected completed_at to be nil while running")
	}

	err = store.CompleteVerification(ctx, verification.ID, VerificationStatusDrift, 2, 3, `["packages","filesystem"]`)
	if err != nil {
		t.Fatalf("failed to complete verification: %v", err)
	}

	got, err = store.GetVerification(ctx, verification.ID)
	if err != nil {
		t.Fatalf("failed to get completed verification: %v", err)
	}
	if got.Status != VerificationStatusDrift {
		t.Errorf("expected status drift, got %s", got.Status)
	}
	if got.ExitStatus != 2 {
		t.Errorf("expected exit status 2, got %d", got.ExitStatus)
	}
	if got.CompletedIterations != 3 {
		t.Errorf("expected 3 completed iterations, got %d", got.CompletedIterations)
	}
	if got.ChangedDomains != `["packages","filesystem"]` {
		t.Errorf("expected changed domains to round-trip, got %s", got.ChangedDomains)
	}
	if got.CompletedAt == nil {
		t.Errorf("expected completed_at to be set")
	}

	list, err := store.ListVerifications(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list verifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 verification, got %d", len(list))
	}
}

func TestIterationRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	verification := &Verification{
		ID:         "ver-iter",
		Target:     "scripts/app_deploy.sh",
		RunLabel:   "verify-20260311-110000",
		Iterations: 2,
		Status:     VerificationStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := store.CreateVerification(ctx, verification); err != nil {
		t.Fatalf("failed to create verification: %v", err)
	}

	for i := 1; i <= 2; i++ {
		record := &IterationRecord{
			VerificationID: verification.ID,
			Idx:            i,
			ExitStatus:     0,
			PreLabel:       "verify-20260311-110000-pre-1",
			PostLabel:      "verify-20260311-110000-post-1",
			Stdout:         "applied configuration\n",
			Stderr:         "",
			StartedAt:      time.Now().UTC(),
			DurationMS:     1500,
		}
		if err := store.CreateIterationRecord(ctx, record); err != nil {
			t.Fatalf("failed to create iteration record %d: %v", i, err)
		}
		if record.ID == 0 {
			t.Errorf("expected iteration record %d to receive an id", i)
		}
	}

	records, err := store.ListIterationRecordsByVerification(ctx, verification.ID)
	if err != nil {
		t.Fatalf("failed to list iteration records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 iteration records, got %d", len(records))
	}
	if records[0].Idx != 1 || records[1].Idx != 2 {
		t.Errorf("expected records ordered by idx, got %d, %d", records[0].Idx, records[1].Idx)
	}
	if records[0].Stdout != "applied configuration\n" {
		t.Errorf("expected stdout to round-trip, got %q", records[0].Stdout)
	}
}

func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:          "run-events",
		Environment: "production",
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	base := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	events := []*Event{
		{RunID: &run.ID, Level: EventLevelInfo, Message: "run started", Timestamp: base},
		{RunID: &run.ID, Phase: strPtr("firewall"), Level: EventLevelError, Message: "phase failed", Details: strPtr(`{"exit_status":30}`), Timestamp: base.Add(time.Second)},
		{RunID: &run.ID, Phase: strPtr("firewall"), Level: EventLevelWarning, Message: "rollback compensated", Timestamp: base.Add(2 * time.Second)},
		{Level: EventLevelDebug, Message: "store opened", Timestamp: base.Add(3 * time.Second)},
	}
	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected event to receive an id")
		}
	}

	// All events, no filters
	got, err := store.GetEvents(ctx, nil, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[0].Message != "store opened" {
		t.Errorf("expected most recent event first, got %s", got[0].Message)
	}

	// Filter by run
	got, err = store.GetEvents(ctx, &run.ID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get run events: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 run events, got %d", len(got))
	}

	// Filter by phase
	got, err = store.GetEvents(ctx, &run.ID, strPtr("firewall"), nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get phase events: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 firewall events, got %d", len(got))
	}

	// Filter by level
	level := EventLevelError
	got, err = store.GetEvents(ctx, nil, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get error events: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(got))
	}
	if got[0].Details == nil || *got[0].Details != `{"exit_status":30}` {
		t.Errorf("expected details to round-trip, got %v", got[0].Details)
	}

	// Limit
	got, err = store.GetEvents(ctx, nil, nil, nil, 2, 0)
	if err != nil {
		t.Fatalf("failed to get limited events: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 events with limit, got %d", len(got))
	}
}

func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Rolled back insert leaves no row
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (id, environment, status, started_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"run-tx", "staging", "running", time.Now().UTC(), time.Now().UTC(), time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to insert in transaction: %v", err)
	}
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-tx"); err == nil {
		t.Error("expected rolled back run to be absent")
	}

	// Committed insert persists
	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (id, environment, status, started_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"run-tx", "staging", "running", time.Now().UTC(), time.Now().UTC(), time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to insert in transaction: %v", err)
	}
	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-tx"); err != nil {
		t.Errorf("expected committed run to exist: %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:          "run-cascade",
		Environment: "staging",
		Status:      RunStatusSucceeded,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	result := &PhaseResult{
		ID: "pr-cascade", RunID: run.ID, Phase: "user_setup", Ordinal: 1,
		Status: PhaseStatusSucceeded, StartedAt: timePtr(time.Now().UTC()),
	}
	if err := store.CreatePhaseResult(ctx, result); err != nil {
		t.Fatalf("failed to create phase result: %v", err)
	}
	event := &Event{RunID: &run.ID, Level: EventLevelInfo, Message: "run started"}
	if err := store.AppendEvent(ctx, event); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	results, err := store.ListPhaseResultsByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list phase results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected phase results to cascade, got %d", len(results))
	}
	events, err := store.GetEvents(ctx, &run.ID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected events to cascade, got %d", len(events))
	}

	// Verification cascade
	verification := &Verification{
		ID: "ver-cascade", Target: "scripts/services.sh", RunLabel: "verify-x",
		Iterations: 1, Status: VerificationStatusIdempotent, StartedAt: time.Now().UTC(),
	}
	if err := store.CreateVerification(ctx, verification); err != nil {
		t.Fatalf("failed to create verification: %v", err)
	}
	record := &IterationRecord{
		VerificationID: verification.ID, Idx: 1,
		PreLabel: "verify-x-pre-1", PostLabel: "verify-x-post-1",
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateIterationRecord(ctx, record); err != nil {
		t.Fatalf("failed to create iteration record: %v", err)
	}

	if err := store.DeleteVerification(ctx, verification.ID); err != nil {
		t.Fatalf("failed to delete verification: %v", err)
	}
	records, err := store.ListIterationRecordsByVerification(ctx, verification.ID)
	if err != nil {
		t.Fatalf("failed to list iteration records: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected iteration records to cascade, got %d", len(records))
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
