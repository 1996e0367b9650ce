package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// rollbackTimeout bounds a single compensation script. Compensations are
// small undo steps; anything slower is stuck.
const rollbackTimeout = 5 * time.Minute

// RollbackStep records one compensation attempt.
type RollbackStep struct {
	// Phase is the phase id the compensation belongs to.
	Phase string `json:"phase"`

	// Outcome is the compensation result.
	Outcome RollbackOutcome `json:"outcome"`

	// Detail carries diagnostics for failed or absent compensations.
	Detail string `json:"detail,omitempty"`

	// Duration is the compensation script's wall-clock time.
	Duration time.Duration `json:"duration"`
}

// RollbackReport describes one rollback invocation. A report is always
// completed, whatever the individual steps did: compensation failures are
// diagnostic and never replace the original phase failure as the cause.
type RollbackReport struct {
	// TriggeredBy is the failed phase id the rollback was invoked for.
	TriggeredBy string `json:"triggered_by"`

	// Status is the failing phase's exit status.
	Status int `json:"status"`

	// Steps are the compensation attempts, in execution order.
	Steps []RollbackStep `json:"steps"`

	// StartedAt is when the rollback began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total rollback wall-clock time.
	Duration time.Duration `json:"duration"`
}

// Failed returns the steps whose compensation failed.
func (r *RollbackReport) Failed() []RollbackStep {
	var failed []RollbackStep
	for _, s := range r.Steps {
		if s.Outcome == RollbackOutcomeFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Render writes the report in human-readable form, one line per step.
func (r *RollbackReport) Render(w io.Writer) {
	fmt.Fprintln(w, rollbackMarker(r.TriggeredBy, r.Status))
	for _, s := range r.Steps {
		if s.Detail != "" {
			fmt.Fprintf(w, "  %s: %s (%s)\n", s.Phase, s.Outcome, s.Detail)
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", s.Phase, s.Outcome)
	}
}

// rollbackMarker is the canonical log line announcing a rollback. Tooling
// greps deployment logs for this exact shape.
func rollbackMarker(phaseID string, status int) string {
	return fmt.Sprintf("rollback triggered at phase: %s (status %d)", phaseID, status)
}

// Coordinator maps a failed phase to its compensation script and invokes
// it. Compensation scripts are contractually safe no-ops when the phase
// failed before doing any work.
type Coordinator struct {
	rollbackDir string
	runner      shell.Runner
	env         []string
	logWriter   io.Writer
	logger      *telemetry.Logger
}

// NewCoordinator creates a rollback coordinator over the compensation
// script directory.
func NewCoordinator(rollbackDir string, runner shell.Runner, logger *telemetry.Logger) *Coordinator {
	if runner == nil {
		runner = shell.NewExecRunner()
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Coordinator{
		rollbackDir: rollbackDir,
		runner:      runner,
		logger:      logger.NewComponentLogger("rollback"),
	}
}

// WithEnv adds KEY=VALUE entries to every compensation script's
// environment.
func (c *Coordinator) WithEnv(env []string) *Coordinator {
	c.env = env
	return c
}

// WithLogWriter routes compensation script output to the shared run log.
func (c *Coordinator) WithLogWriter(w io.Writer) *Coordinator {
	c.logWriter = w
	return c
}

// Compensate invokes the compensation registered for the failed phase.
// It always returns a completed report: sub-step failures are logged and
// recorded, never escalated, so the original phase failure stays the
// single reported cause. Compensation runs detached from the failed
// run's cancellation.
func (c *Coordinator) Compensate(ctx context.Context, phaseID string, status int) *RollbackReport {
	report := &RollbackReport{
		TriggeredBy: phaseID,
		Status:      status,
		StartedAt:   time.Now(),
	}
	logger := c.logger.WithPhaseID(phaseID).WithField("status", status)
	logger.Warn(rollbackMarker(phaseID, status))

	phase, ok := PhaseByID(phaseID)
	if !ok || !phase.HasRollback {
		logger.Info("no compensation registered")
		report.Steps = append(report.Steps, RollbackStep{
			Phase:   phaseID,
			Outcome: RollbackOutcomeNone,
			Detail:  "no compensation registered",
		})
		report.Duration = time.Since(report.StartedAt)
		c.record(ctx, report)
		return report
	}

	step := c.runCompensation(ctx, phase, status)
	report.Steps = append(report.Steps, step)
	report.Duration = time.Since(report.StartedAt)

	switch step.Outcome {
	case RollbackOutcomeCompensated:
		logger.Info("rollback completed")
	default:
		logger.WithField("detail", step.Detail).Error("rollback compensation failed")
	}
	c.record(ctx, report)
	return report
}

func (c *Coordinator) runCompensation(ctx context.Context, phase Phase, status int) RollbackStep {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	step := RollbackStep{Phase: phase.ID}
	opts := shell.Options{
		Env: append([]string{
			"DEPLOYCTL_PHASE=" + phase.ID,
			"DEPLOYCTL_STATUS=" + strconv.Itoa(status),
		}, c.env...),
		Stdout: c.logWriter,
		Stderr: c.logWriter,
	}

	res, err := c.runner.RunScript(ctx, phase.RollbackPath(c.rollbackDir), opts)
	if err != nil {
		step.Outcome = RollbackOutcomeFailed
		step.Detail = fmt.Sprintf("failed to start: %v", err)
		return step
	}
	step.Duration = res.Duration
	if !res.Success() {
		step.Outcome = RollbackOutcomeFailed
		step.Detail = fmt.Sprintf("exit status %d", res.ExitStatus)
		if tail := lastLine(res.Stderr); tail != "" {
			step.Detail += ": " + tail
		}
		return step
	}
	step.Outcome = RollbackOutcomeCompensated
	return step
}

func (c *Coordinator) record(ctx context.Context, report *RollbackReport) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	for _, step := range report.Steps {
		tel.Metrics.RecordRollback(step.Phase, string(step.Outcome))
	}
}

// lastLine returns the final non-empty line of captured output.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
