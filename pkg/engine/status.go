package engine

import (
	"encoding/json"
	"fmt"
)

// Process exit statuses. A failing phase propagates its own exit status
// unmodified, so the dedicated statuses sit at the top of the range where
// deployment scripts do not normally land.
const (
	// ExitSuccess is returned when every phase completed or was skipped.
	ExitSuccess = 0

	// ExitPreflightFailed is returned when pre-flight validation found
	// one or more problems. No phase has run.
	ExitPreflightFailed = 97

	// ExitDeclined is returned when the operator declined a destructive
	// phase at the confirmation prompt.
	ExitDeclined = 98

	// ExitLockContention is returned when the run lock is held by
	// another process, and by the losing attempt of an exclusivity probe.
	ExitLockContention = 99
)

// ExitDriftDetected is returned by the verification runner when the
// target executed cleanly but left different state behind across
// iterations.
const ExitDriftDetected = 2

// RunStatus represents the overall status of a deployment run.
type RunStatus string

const (
	// RunStatusPending indicates the run is recorded but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing phases.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every phase completed or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a phase body failed and rollback was
	// attempted.
	RunStatusFailed RunStatus = "failed"

	// RunStatusDeclined indicates the operator aborted at a destructive
	// phase confirmation.
	RunStatusDeclined RunStatus = "declined"

	// RunStatusRejected indicates pre-flight validation failed before
	// any phase ran.
	RunStatusRejected RunStatus = "rejected"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusDeclined || s == RunStatusRejected
}

// IsActive returns true if the run is currently active.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusDeclined, RunStatusRejected:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// PhaseStatus represents the status of one phase within a run.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase has not been reached yet.
	PhaseStatusPending PhaseStatus = "pending"

	// PhaseStatusRunning indicates the phase body is executing.
	PhaseStatusRunning PhaseStatus = "running"

	// PhaseStatusSucceeded indicates the phase body exited zero.
	PhaseStatusSucceeded PhaseStatus = "succeeded"

	// PhaseStatusFailed indicates the phase body exited nonzero.
	PhaseStatusFailed PhaseStatus = "failed"

	// PhaseStatusSkipped indicates the phase was in the skip-set; its
	// body was not invoked but an ordering-preserving record was kept.
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// IsTerminal returns true if the phase status represents a final state.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseStatusSucceeded || s == PhaseStatusFailed || s == PhaseStatusSkipped
}

// Validate checks if the phase status is valid.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhaseStatusPending, PhaseStatusRunning, PhaseStatusSucceeded,
		PhaseStatusFailed, PhaseStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// RollbackOutcome represents the result of one compensation attempt.
type RollbackOutcome string

const (
	// RollbackOutcomeCompensated indicates the compensation script
	// completed with status zero.
	RollbackOutcomeCompensated RollbackOutcome = "compensated"

	// RollbackOutcomeFailed indicates the compensation script failed.
	// The failure is diagnostic only; the original phase failure remains
	// the reported cause.
	RollbackOutcomeFailed RollbackOutcome = "failed"

	// RollbackOutcomeNone indicates the phase has no registered
	// compensation.
	RollbackOutcomeNone RollbackOutcome = "none"
)

// Validate checks if the rollback outcome is valid.
func (o RollbackOutcome) Validate() error {
	switch o {
	case RollbackOutcomeCompensated, RollbackOutcomeFailed, RollbackOutcomeNone:
		return nil
	default:
		return fmt.Errorf("invalid rollback outcome: %s", o)
	}
}
