// Package engine orders, validates, executes, and compensates the fixed
// deployment phase sequence on the local host.
//
// # Phases
//
// The deployment is a fixed total order of eight phases declared once in
// the package registry: user_setup, ssh_setup, firewall, secrets,
// ssl_certificates, app_deploy, services, monitoring. Each phase is backed
// by one executable script named <id>.sh under the scripts directory.
// Ordinals come from registry position; they are never configured.
// Destructive phases (firewall, app_deploy, services) additionally
// require confirmation in interactive runs.
//
// # Pre-flight
//
// Before anything executes, the Validator checks every external
// collaborator the run depends on: phase scripts present and executable,
// rollback scripts for phases that declare them, writable state
// directories, resolvable notifier hooks, a coherent skip-set, and the
// policy gate's verdict. All checks run to completion and the report
// aggregates every problem found, so the operator fixes the whole list in
// one pass instead of replaying the run failure by failure. A run whose
// report carries issues is rejected without side effects.
//
// # Execution
//
// The Orchestrator walks the registry in ordinal order and runs each
// non-skipped phase script to completion. The first nonzero exit stops
// the run: later phases do not execute, the failed phase is attributed by
// id and ordinal, and the run's exit status is the script's own status,
// propagated verbatim. Dry runs walk the same order and render the plan
// without executing anything.
//
// # Rollback
//
// When a phase fails, the Coordinator invokes the compensation scripts of
// every completed phase that declares one, youngest first. Compensation
// is best effort: a failing rollback step is recorded and logged, never
// escalated, so the original phase failure remains the single reported
// cause. Compensation runs on a context detached from the failed run's
// cancellation.
//
// # Locking
//
// One run per host: the RunLock is a flock-based file lock acquired
// without waiting. A second invocation observes contention immediately
// and exits with the dedicated lock-contention status rather than
// queueing behind the holder.
//
// # Statuses
//
// Run outcomes map to process exit statuses: success is zero, a failing
// phase propagates its script's status, and the engine reserves the high
// statuses for its own verdicts (drift detected, pre-flight failure,
// declined confirmation, lock contention). ExitStatusFromError maps
// classified errors back to these statuses at the process boundary.
package engine
