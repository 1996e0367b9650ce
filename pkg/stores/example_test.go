package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mentat-ops/deployctl/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateRun demonstrates recording a deployment run.
func ExampleSQLiteStore_CreateRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Record a new run
	run := &stores.Run{
		ID:          "run-001",
		Environment: "production",
		Status:      stores.RunStatusRunning,
		SkipSet:     `["monitoring"]`,
		StartedAt:   time.Now(),
	}

	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	// Retrieve the run
	retrieved, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run ID: %s, Status: %s\n", retrieved.ID, retrieved.Status)
	// Output: Run ID: run-001, Status: running
}

// ExampleSQLiteStore_CreatePhaseResult demonstrates recording phase outcomes.
func ExampleSQLiteStore_CreatePhaseResult() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a run (required for foreign key)
	run := &stores.Run{
		ID:          "run-002",
		Environment: "staging",
		Status:      stores.RunStatusSucceeded,
		StartedAt:   time.Now(),
	}
	_ = store.CreateRun(ctx, run)

	// Record a phase outcome
	started := time.Now()
	result := &stores.PhaseResult{
		ID:         "pr-001",
		RunID:      "run-002",
		Phase:      "user_setup",
		Ordinal:    1,
		Status:     stores.PhaseStatusSucceeded,
		StartedAt:  &started,
		DurationMS: 420,
	}

	if err := store.CreatePhaseResult(ctx, result); err != nil {
		log.Fatal(err)
	}

	// List the run's phases in execution order
	results, err := store.ListPhaseResultsByRun(ctx, "run-002")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Phase: %s, Status: %s\n", results[0].Phase, results[0].Status)
	// Output: Phase: user_setup, Status: succeeded
}

// ExampleSQLiteStore_CreateVerification demonstrates recording an
// idempotency verification.
func ExampleSQLiteStore_CreateVerification() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Record the verification at start
	verification := &stores.Verification{
		ID:         "ver-001",
		Target:     "scripts/firewall.sh",
		RunLabel:   "verify-20260311-104500",
		Iterations: 3,
		Status:     stores.VerificationStatusRunning,
		StartedAt:  time.Now(),
	}

	if err := store.CreateVerification(ctx, verification); err != nil {
		log.Fatal(err)
	}

	// Record the verdict once all iterations complete
	err := store.CompleteVerification(ctx, "ver-001",
		stores.VerificationStatusDrift, 2, 3, `["filesystem"]`)
	if err != nil {
		log.Fatal(err)
	}

	retrieved, err := store.GetVerification(ctx, "ver-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Verification: %s, Changed: %s\n", retrieved.Status, retrieved.ChangedDomains)
	// Output: Verification: drift, Changed: ["filesystem"]
}

// ExampleSQLiteStore_AppendEvent demonstrates logging events.
func ExampleSQLiteStore_AppendEvent() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a run
	run := &stores.Run{
		ID:          "run-003",
		Environment: "staging",
		Status:      stores.RunStatusRunning,
		StartedAt:   time.Now(),
	}
	_ = store.CreateRun(ctx, run)

	// Log an event
	details := `{"exit_status":30}`
	phase := "firewall"
	event := &stores.Event{
		RunID:     &run.ID,
		Phase:     &phase,
		Level:     stores.EventLevelError,
		Message:   "Phase failed",
		Details:   &details,
		Timestamp: time.Now(),
	}

	if err := store.AppendEvent(ctx, event); err != nil {
		log.Fatal(err)
	}

	// Retrieve events
	events, err := store.GetEvents(ctx, &run.ID, nil, nil, 10, 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Event count: %d, Message: %s\n", len(events), events[0].Message)
	// Output: Event count: 1, Message: Phase failed
}

// ExampleSQLiteStore_BeginTx demonstrates using transactions.
func ExampleSQLiteStore_BeginTx() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Begin transaction
	tx, err := store.BeginTx(ctx)
	if err != nil {
		log.Fatal(err)
	}

	// Perform operations within transaction
	query := `
		INSERT INTO runs (id, environment, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = tx.ExecContext(ctx, query, "run-tx-001", "staging",
		"running", now, now, now)

	if err != nil {
		_ = store.RollbackTx(tx)
		log.Fatal(err)
	}

	// Commit transaction
	if err := store.CommitTx(tx); err != nil {
		log.Fatal(err)
	}

	// Verify run was created
	run, err := store.GetRun(ctx, "run-tx-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Transaction committed: Run %s created\n", run.ID)
	// Output: Transaction committed: Run run-tx-001 created
}
