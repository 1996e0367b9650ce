package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the recorded status of a deployment run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusDeclined  RunStatus = "declined"
	RunStatusRejected  RunStatus = "rejected"
)

// PhaseStatus represents the recorded status of a single phase
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusSucceeded PhaseStatus = "succeeded"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// VerificationStatus represents the recorded outcome of an idempotency
// verification
type VerificationStatus string

const (
	VerificationStatusRunning    VerificationStatus = "running"
	VerificationStatusIdempotent VerificationStatus = "idempotent"
	VerificationStatusDrift      VerificationStatus = "drift"
	VerificationStatusCrashed    VerificationStatus = "crashed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one deployment run
type Run struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	Status      RunStatus  `json:"status"`
	ExitStatus  int        `json:"exit_status"`
	FailedPhase *string    `json:"failed_phase,omitempty"`
	DryRun      bool       `json:"dry_run"`
	SkipSet     string     `json:"skip_set"` // JSON array of skipped phase ids
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PhaseResult represents one phase's outcome within a run
type PhaseResult struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Phase      string      `json:"phase"`
	Ordinal    int         `json:"ordinal"`
	Status     PhaseStatus `json:"status"`
	ExitStatus int         `json:"exit_status"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Verification represents one idempotency verification of a target
type Verification struct {
	ID                  string             `json:"id"`
	Target              string             `json:"target"`
	RunLabel            string             `json:"run_label"`
	Iterations          int                `json:"iterations"`
	CompletedIterations int                `json:"completed_iterations"`
	Status              VerificationStatus `json:"status"`
	ExitStatus          int                `json:"exit_status"`
	ChangedDomains      string             `json:"changed_domains"` // JSON array of domain ids
	StartedAt           time.Time          `json:"started_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// IterationRecord represents one target invocation inside a verification
type IterationRecord struct {
	ID             int64     `json:"id"`
	VerificationID string    `json:"verification_id"`
	Idx            int       `json:"idx"`
	ExitStatus     int       `json:"exit_status"`
	PreLabel       string    `json:"pre_label"`
	PostLabel      string    `json:"post_label"`
	Stdout         string    `json:"stdout"`
	Stderr         string    `json:"stderr"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Phase     *string    `json:"phase,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, exitStatus int, failedPhase, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Phase result operations
	CreatePhaseResult(ctx context.Context, result *PhaseResult) error
	ListPhaseResultsByRun(ctx context.Context, runID string) ([]*PhaseResult, error)

	// Verification operations
	CreateVerification(ctx context.Context, verification *Verification) error
	GetVerification(ctx context.Context, id string) (*Verification, error)
	CompleteVerification(ctx context.Context, id string, status VerificationStatus, exitStatus, completedIterations int, changedDomains string) error
	ListVerifications(ctx context.Context, limit, offset int) ([]*Verification, error)
	DeleteVerification(ctx context.Context, id string) error

	// Iteration record operations
	CreateIterationRecord(ctx context.Context, record *IterationRecord) error
	ListIterationRecordsByVerification(ctx context.Context, verificationID string) ([]*IterationRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, phase *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
