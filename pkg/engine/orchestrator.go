package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// runKindDeploy tags deployment runs in metrics and events.
const runKindDeploy = "deploy"

// RunOptions select what a single deployment run does.
type RunOptions struct {
	// Environment labels the run (development, staging, production).
	Environment string `json:"environment"`

	// Skip holds the phase ids excluded from this run.
	Skip SkipSet `json:"skip,omitempty"`

	// DryRun replaces every phase body with a no-op that logs what
	// would happen. Skip logic and ordering are unaffected.
	DryRun bool `json:"dry_run"`

	// Interactive requests confirmation before destructive phases.
	Interactive bool `json:"interactive"`
}

// PhaseResult records one phase's outcome within a run. Skipped phases
// get a result too, so the result order mirrors the ordinal order
// exactly whether or not phases were skipped.
type PhaseResult struct {
	Phase      string        `json:"phase"`
	Ordinal    int           `json:"ordinal"`
	Status     PhaseStatus   `json:"status"`
	ExitStatus int           `json:"exit_status"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunResult is the complete outcome of one deployment run.
type RunResult struct {
	RunID       string           `json:"run_id"`
	Environment string           `json:"environment"`
	Status      RunStatus        `json:"status"`
	ExitStatus  int              `json:"exit_status"`
	FailedPhase string           `json:"failed_phase,omitempty"`
	Phases      []PhaseResult    `json:"phases"`
	Preflight   *PreflightReport `json:"preflight,omitempty"`
	Rollback    *RollbackReport  `json:"rollback,omitempty"`
	DryRun      bool             `json:"dry_run"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration"`
}

// OrchestratorConfig wires an Orchestrator's collaborators.
type OrchestratorConfig struct {
	// ScriptsDir holds the per-phase body scripts.
	ScriptsDir string

	// PhaseTimeout optionally bounds a single phase script. Zero means
	// phases bound their own waits.
	PhaseTimeout time.Duration

	// PhaseEnv holds extra KEY=VALUE entries for every phase script.
	PhaseEnv []string

	// Runner executes phase scripts. Defaults to the local exec runner.
	Runner shell.Runner

	// Validator performs pre-flight validation.
	Validator *Validator

	// Rollback compensates failed phases.
	Rollback *Coordinator

	// Notifier receives run lifecycle hooks. Defaults to none.
	Notifier Notifier

	// Confirmer approves destructive phases in interactive mode.
	// Defaults to the terminal confirmer.
	Confirmer Confirmer

	// LogWriter is the shared run log phase scripts write to. Defaults
	// to stdout.
	LogWriter io.Writer

	// Logger receives orchestrator diagnostics.
	Logger *telemetry.Logger
}

// Orchestrator executes the fixed phase sequence for one deployment run
// at a time. It is strictly sequential: phases never run concurrently,
// and the first failure stops the run.
type Orchestrator struct {
	phases       []Phase
	scriptsDir   string
	phaseTimeout time.Duration
	phaseEnv     []string
	runner       shell.Runner
	validator    *Validator
	rollback     *Coordinator
	notifier     Notifier
	confirmer    Confirmer
	logWriter    io.Writer
	logger       *telemetry.Logger
}

// NewOrchestrator creates an orchestrator over the static phase registry.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Runner == nil {
		cfg.Runner = shell.NewExecRunner()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = NewTerminalConfirmer()
	}
	if cfg.LogWriter == nil {
		cfg.LogWriter = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Orchestrator{
		phases:       Registry(),
		scriptsDir:   cfg.ScriptsDir,
		phaseTimeout: cfg.PhaseTimeout,
		phaseEnv:     cfg.PhaseEnv,
		runner:       cfg.Runner,
		validator:    cfg.Validator,
		rollback:     cfg.Rollback,
		notifier:     cfg.Notifier,
		confirmer:    cfg.Confirmer,
		logWriter:    cfg.LogWriter,
		logger:       cfg.Logger.NewComponentLogger("orchestrator"),
	}
}

// Run executes one deployment run: aggregated pre-flight, then every
// registered phase in ordinal order honoring the skip-set. The result is
// always returned, alongside the classified error for any failure. A
// failing phase's exit status propagates through the error unchanged.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	runID := uuid.New().String()
	result := &RunResult{
		RunID:       runID,
		Environment: opts.Environment,
		Status:      RunStatusRunning,
		DryRun:      opts.DryRun,
		StartedAt:   time.Now(),
	}
	logger := o.logger.WithRunID(runID).WithField("environment", opts.Environment)

	report := o.validator.Check(ctx, opts)
	result.Preflight = report
	if !report.OK() {
		result.Status = RunStatusRejected
		result.ExitStatus = ExitPreflightFailed
		result.Duration = time.Since(result.StartedAt)
		logger.Errorf("pre-flight validation failed with %d issue(s)", len(report.Issues))
		return result, report.Err()
	}
	for _, warning := range report.Warnings {
		logger.Warn(warning.String())
	}

	ctx = telemetry.WithRunContext(ctx, runID, runKindDeploy, opts.Environment)
	logger.WithField("dry_run", opts.DryRun).Info("deployment run started")
	o.notifier.Started(ctx, opts.Environment)

	for _, phase := range o.phases {
		if opts.Skip.Has(phase.ID) {
			o.recordSkip(ctx, result, phase)
			continue
		}

		if phase.Destructive && opts.Interactive && !opts.DryRun {
			approved, err := o.confirm(phase, logger)
			if err != nil || !approved {
				return o.declineRun(ctx, result, phase)
			}
		}

		status, phaseID, rec := o.runPhase(ctx, runID, phase, opts)
		result.Phases = append(result.Phases, rec)
		if status != 0 {
			return o.failRun(ctx, result, phaseID, status)
		}
	}

	result.Status = RunStatusSucceeded
	result.ExitStatus = ExitSuccess
	result.Duration = time.Since(result.StartedAt)
	o.notifier.Succeeded(ctx, opts.Environment)
	logger.WithField("duration", result.Duration.String()).Info("deployment run succeeded")
	telemetry.EndRunContext(ctx, runID, runKindDeploy, string(RunStatusSucceeded), nil)
	return result, nil
}

// recordSkip emits the ordering-preserving record for a skipped phase.
func (o *Orchestrator) recordSkip(ctx context.Context, result *RunResult, phase Phase) {
	o.logger.WithRunID(result.RunID).
		WithPhaseID(phase.ID).
		WithField("ordinal", phase.Ordinal).
		Info("phase skipped")
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishPhaseSkipped(result.RunID, phase.ID)
		tel.Metrics.RecordPhase(phase.ID, string(PhaseStatusSkipped), 0)
	}
	result.Phases = append(result.Phases, PhaseResult{
		Phase:   phase.ID,
		Ordinal: phase.Ordinal,
		Status:  PhaseStatusSkipped,
	})
}

func (o *Orchestrator) confirm(phase Phase, logger *telemetry.Logger) (bool, error) {
	prompt := fmt.Sprintf("phase %s is destructive (%s). proceed?", phase.ID, phase.Summary)
	approved, err := o.confirmer.Confirm(prompt)
	if err != nil {
		logger.WithPhaseID(phase.ID).WithError(err).Warn("confirmation failed, treating as declined")
		return false, err
	}
	return approved, nil
}

// runPhase invokes one phase body and returns its exit status together
// with the phase id, so failure attribution travels through return
// values rather than shared mutable state.
func (o *Orchestrator) runPhase(ctx context.Context, runID string, phase Phase, opts RunOptions) (int, string, PhaseResult) {
	rec := PhaseResult{
		Phase:     phase.ID,
		Ordinal:   phase.Ordinal,
		Status:    PhaseStatusRunning,
		StartedAt: time.Now(),
	}
	logger := o.logger.WithRunID(runID).WithPhaseID(phase.ID).WithField("ordinal", phase.Ordinal)

	if opts.DryRun {
		logger.Infof("dry-run: would execute %s", phase.ScriptPath(o.scriptsDir))
		rec.Status = PhaseStatusSucceeded
		return 0, phase.ID, rec
	}

	phaseCtx := telemetry.WithPhaseContext(ctx, runID, phase.ID, phase.Ordinal)
	if o.phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(phaseCtx, o.phaseTimeout)
		defer cancel()
	}
	logger.Info("phase started")

	env := append([]string{
		"DEPLOYCTL_RUN_ID=" + runID,
		"DEPLOYCTL_PHASE=" + phase.ID,
		"DEPLOYCTL_ENVIRONMENT=" + opts.Environment,
	}, o.phaseEnv...)

	res, err := o.runner.RunScript(phaseCtx, phase.ScriptPath(o.scriptsDir), shell.Options{
		Env:    env,
		Stdout: o.logWriter,
		Stderr: o.logWriter,
	})
	rec.Duration = time.Since(rec.StartedAt)

	if err != nil {
		// The script never ran: exec failure after pre-flight passed.
		rec.Status = PhaseStatusFailed
		rec.ExitStatus = 1
		logger.WithError(err).Error("phase script failed to start")
		telemetry.EndPhaseContext(phaseCtx, runID, phase.ID, string(PhaseStatusFailed), 1,
			NewInternalError("phase script failed to start", err).WithPhase(phase.ID).WithCode(ErrCodeScriptStart))
		return 1, phase.ID, rec
	}

	rec.ExitStatus = res.ExitStatus
	if !res.Success() {
		rec.Status = PhaseStatusFailed
		logger.WithField("exit_status", res.ExitStatus).Error("phase failed")
		telemetry.EndPhaseContext(phaseCtx, runID, phase.ID, string(PhaseStatusFailed),
			res.ExitStatus, NewPhaseError(phase.ID, res.ExitStatus))
		return res.ExitStatus, phase.ID, rec
	}

	rec.Status = PhaseStatusSucceeded
	logger.WithField("duration", rec.Duration.String()).Info("phase succeeded")
	telemetry.EndPhaseContext(phaseCtx, runID, phase.ID, string(PhaseStatusSucceeded), 0, nil)
	return 0, phase.ID, rec
}

// declineRun aborts the run at an unconfirmed destructive phase. The
// phase body has not run, so there is nothing to roll back and the
// failure notifier stays quiet.
func (o *Orchestrator) declineRun(ctx context.Context, result *RunResult, phase Phase) (*RunResult, error) {
	err := NewDeclinedError(phase.ID)
	result.Status = RunStatusDeclined
	result.ExitStatus = ExitDeclined
	result.Duration = time.Since(result.StartedAt)
	o.logger.WithRunID(result.RunID).WithPhaseID(phase.ID).Warn("run declined at destructive phase")
	telemetry.EndRunContext(ctx, result.RunID, runKindDeploy, string(RunStatusDeclined), err)
	return result, err
}

// failRun is the single failure handler: it attributes the failure,
// compensates, notifies, and propagates the original status. It runs at
// most once per run; the phase loop returns through it on the first
// nonzero status.
func (o *Orchestrator) failRun(ctx context.Context, result *RunResult, phaseID string, status int) (*RunResult, error) {
	name := phaseID
	if name == "" {
		name = "unknown phase"
	}
	logger := o.logger.WithRunID(result.RunID).WithField("environment", result.Environment)
	logger.Errorf("deployment failed at phase %s (status %d)", name, status)

	report := o.rollback.Compensate(ctx, phaseID, status)
	result.Rollback = report
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishRollbackCompleted(result.RunID, name, status, len(report.Failed()))
	}

	message := fmt.Sprintf("deployment failed at phase %s (status %d)", name, status)
	o.notifier.Failed(ctx, result.Environment, message)

	result.Status = RunStatusFailed
	result.ExitStatus = status
	result.FailedPhase = phaseID
	result.Duration = time.Since(result.StartedAt)

	err := NewPhaseError(name, status)
	telemetry.EndRunContext(ctx, result.RunID, runKindDeploy, string(RunStatusFailed), err)
	return result, err
}
