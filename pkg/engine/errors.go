// Package engine drives deployment runs: a fixed ordered phase list with
// skip support, aggregated pre-flight validation, phase-attributed failure
// handling, and compensating rollback.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an orchestration failure for exit-status mapping
// and reporting.
type ErrorClass string

const (
	// ErrorClassValidation indicates an aggregated pre-flight failure.
	// No phase has run when this is reported.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassDeclined indicates the operator declined a destructive
	// phase at the interactive confirmation prompt.
	ErrorClassDeclined ErrorClass = "declined"

	// ErrorClassContention indicates a lock acquisition lost to a
	// concurrent holder (run lock busy, probe loser).
	ErrorClassContention ErrorClass = "contention"

	// ErrorClassPhase indicates a phase body reported a nonzero exit
	// status. The status propagates to the caller unmodified.
	ErrorClassPhase ErrorClass = "phase"

	// ErrorClassInternal indicates a failure in the orchestrator itself
	// rather than in a collaborator.
	ErrorClassInternal ErrorClass = "internal"
)

// OrchestrationError is a classified error carrying phase attribution.
type OrchestrationError struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the phase id the failure is attributed to, if any.
	Phase string `json:"phase,omitempty"`

	// Status is the exit status reported by a failing phase body.
	Status int `json:"status,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Phase != "" {
		msg = fmt.Sprintf("[%s] %s (phase=%s, status=%d)", e.Class, e.Message, e.Phase, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *OrchestrationError) Is(target error) bool {
	t, ok := target.(*OrchestrationError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a pre-flight validation error.
func NewValidationError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewDeclinedError creates a user-declined error for the given phase.
func NewDeclinedError(phaseID string) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassDeclined,
		Message: "destructive phase not confirmed",
		Phase:   phaseID,
	}
}

// NewContentionError creates a lock contention error.
func NewContentionError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassContention,
		Message: message,
		Err:     err,
	}
}

// NewPhaseError creates a phase failure error. The status is the exact
// exit status the phase body reported and propagates unchanged.
func NewPhaseError(phaseID string, status int) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassPhase,
		Message: "phase failed",
		Phase:   phaseID,
		Status:  status,
	}
}

// NewInternalError creates an internal orchestrator error.
func NewInternalError(message string, err error) *OrchestrationError {
	return &OrchestrationError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithPhase adds phase attribution to an error.
func (e *OrchestrationError) WithPhase(phaseID string) *OrchestrationError {
	e.Phase = phaseID
	return e
}

// WithStatus records the originating exit status on an error.
func (e *OrchestrationError) WithStatus(status int) *OrchestrationError {
	e.Status = status
	return e
}

// WithCode adds an error code to an error.
func (e *OrchestrationError) WithCode(code string) *OrchestrationError {
	e.Code = code
	return e
}

// IsValidation returns true if the error is a pre-flight validation failure.
func IsValidation(err error) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsDeclined returns true if the error is a user-declined abort.
func IsDeclined(err error) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDeclined
	}
	return false
}

// IsContention returns true if the error is a lock contention failure.
func IsContention(err error) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassContention
	}
	return false
}

// IsPhaseFailure returns true if the error is a phase body failure.
func IsPhaseFailure(err error) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPhase
	}
	return false
}

// ExitStatusFromError maps an error to the process exit status. A phase
// failure yields the phase's own status so callers can distinguish
// failure causes by code; the validation, declined, and contention
// classes map to their dedicated statuses.
func ExitStatusFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *OrchestrationError
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Class {
	case ErrorClassValidation:
		return ExitPreflightFailed
	case ErrorClassDeclined:
		return ExitDeclined
	case ErrorClassContention:
		return ExitLockContention
	case ErrorClassPhase:
		if e.Status > 0 {
			return e.Status
		}
		return 1
	default:
		return 1
	}
}

// Common error codes.
const (
	ErrCodePreflight    = "PREFLIGHT_FAILED"
	ErrCodeLockBusy     = "LOCK_BUSY"
	ErrCodeScriptStart  = "SCRIPT_START_FAILED"
	ErrCodePolicyDenied = "POLICY_DENIED"
	ErrCodeUnknownPhase = "UNKNOWN_PHASE"
)
