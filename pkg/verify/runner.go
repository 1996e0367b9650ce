package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/snapshot"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// defaultIterations is how many times the target runs when the caller
// does not say.
const defaultIterations = 3

// defaultPause sits just above the whole-second mtime resolution of the
// files domain, so a rewrite in the next iteration cannot alias into the
// same timestamp.
const defaultPause = 1100 * time.Millisecond

// Options configure one verification run.
type Options struct {
	// Iterations is how many times the target runs. At least two are
	// required so the verdict compares distinct executions; zero selects
	// the default of three.
	Iterations int `json:"iterations"`

	// Cleanup removes the run's snapshot artifacts after the verdict
	// instead of retaining them for postmortem triage.
	Cleanup bool `json:"cleanup"`

	// Aggressive enables the invasive pre-checks: a capture-determinism
	// self-check and an exclusivity race against the configured lock.
	Aggressive bool `json:"aggressive"`

	// Pause is the wait inserted between iterations. Zero selects the
	// default.
	Pause time.Duration `json:"pause"`
}

// IterationRecord captures one target invocation: its exit status, output
// streams, and the labels of the snapshots bracketing it.
type IterationRecord struct {
	Index      int           `json:"index"`
	ExitStatus int           `json:"exit_status"`
	PreLabel   string        `json:"pre_label"`
	PostLabel  string        `json:"post_label"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Verdict is the idempotency conclusion over a run whose every iteration
// exited zero.
type Verdict struct {
	// Idempotent is true when no domain changed between the compared
	// iterations.
	Idempotent bool `json:"idempotent"`

	// ComparedIterations names the two iterations whose post-snapshots
	// the verdict compares: the first and the last. Intermediate
	// iterations are deliberately not compared, so a target that flaps
	// through a middle state and lands back where it started passes.
	// This detection gap is a defined property of the protocol, not a
	// bug to fix by comparing adjacent pairs.
	ComparedIterations [2]int `json:"compared_iterations"`

	// Differences holds one entry per changed domain, ordered by domain
	// id. Empty means idempotent.
	Differences []snapshot.DiffResult `json:"differences,omitempty"`
}

// Report is the complete outcome of one verification run.
type Report struct {
	Target      string            `json:"target"`
	RunLabel    string            `json:"run_label"`
	Iterations  []IterationRecord `json:"iterations"`
	Verdict     *Verdict          `json:"verdict,omitempty"`
	Crashed     bool              `json:"crashed"`
	CrashStatus int               `json:"crash_status,omitempty"`
	ArtifactDir string            `json:"artifact_dir,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

// ExitStatus maps the report to the verify process exit status. A crashed
// target propagates its own status unchanged, drift maps to the dedicated
// drift status, and a clean idempotent run exits zero.
func (r *Report) ExitStatus() int {
	switch {
	case r.Crashed:
		if r.CrashStatus > 0 {
			return r.CrashStatus
		}
		return 1
	case r.Verdict != nil && !r.Verdict.Idempotent:
		return engine.ExitDriftDetected
	default:
		return engine.ExitSuccess
	}
}

// ChangedDomains returns the domain ids the verdict flagged as changed.
func (r *Report) ChangedDomains() []string {
	if r.Verdict == nil {
		return nil
	}
	return snapshot.ChangedDomains(r.Verdict.Differences)
}

// LockProber races concurrent acquisitions of one exclusive resource and
// reports violations of exactly-one-winner semantics.
type LockProber interface {
	Exclusivity(ctx context.Context, resource string) error
}

// RunnerConfig wires a Runner's collaborators.
type RunnerConfig struct {
	// Snapshots captures host state before and after every iteration.
	Snapshots *snapshot.Engine

	// Runner executes the target. Defaults to the local exec runner.
	Runner shell.Runner

	// ArtifactDir is the root under which each run retains its snapshot
	// artifacts, one subdirectory per run label.
	ArtifactDir string

	// LockPath is the exclusive resource raced in aggressive mode.
	LockPath string

	// Prober runs the aggressive-mode exclusivity race. Nil skips it.
	Prober LockProber

	// Logger receives runner diagnostics.
	Logger *telemetry.Logger
}

// Runner drives repeated executions of a target operation and judges
// whether the operation is idempotent from the state snapshots around
// them.
type Runner struct {
	snapshots   *snapshot.Engine
	runner      shell.Runner
	artifactDir string
	lockPath    string
	prober      LockProber
	logger      *telemetry.Logger
}

// NewRunner creates a verification runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Runner == nil {
		cfg.Runner = shell.NewExecRunner()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Runner{
		snapshots:   cfg.Snapshots,
		runner:      cfg.Runner,
		artifactDir: cfg.ArtifactDir,
		lockPath:    cfg.LockPath,
		prober:      cfg.Prober,
		logger:      cfg.Logger.NewComponentLogger("verify-runner"),
	}
}

// Verify runs the target opts.Iterations times, snapshotting around every
// invocation, and reports the idempotency verdict. A target exiting
// nonzero stops the run immediately: a crash is a distinct outcome from
// state drift and the report carries the target's own status. The
// returned error covers harness failures only, never the target's
// verdict.
func (r *Runner) Verify(ctx context.Context, target string, opts Options) (*Report, error) {
	if opts.Iterations == 0 {
		opts.Iterations = defaultIterations
	}
	if opts.Iterations < 2 {
		return nil, fmt.Errorf("at least 2 iterations are required to compare distinct executions, got %d", opts.Iterations)
	}
	if opts.Pause <= 0 {
		opts.Pause = defaultPause
	}

	runLabel := fmt.Sprintf("verify-%s-%s",
		time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8])
	runDir := filepath.Join(r.artifactDir, runLabel)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	report := &Report{
		Target:      target,
		RunLabel:    runLabel,
		ArtifactDir: runDir,
		StartedAt:   time.Now(),
	}
	logger := r.logger.WithField("target", target).WithField("label", runLabel)

	tel := telemetry.FromTelemetryContext(ctx)
	var span trace.Span
	if tel != nil && tel.Tracer != nil {
		ctx, span = tel.Tracer.StartVerificationSpan(ctx, target, opts.Iterations)
		defer span.End()
	}
	if opts.Cleanup {
		defer func() {
			if err := os.RemoveAll(runDir); err == nil {
				report.ArtifactDir = ""
			}
		}()
	}

	if opts.Aggressive {
		if err := r.aggressiveChecks(ctx, runDir, logger); err != nil {
			report.Duration = time.Since(report.StartedAt)
			if span != nil {
				telemetry.RecordError(span, err)
			}
			return report, err
		}
	}

	logger.WithField("iterations", opts.Iterations).Info("verification started")

	baseline := r.snapshots.Capture(ctx, "baseline")
	if err := r.save(baseline, runDir); err != nil {
		report.Duration = time.Since(report.StartedAt)
		return report, err
	}

	posts := make(map[int]*snapshot.Snapshot, opts.Iterations)
	for i := 1; i <= opts.Iterations; i++ {
		if i > 1 {
			if err := sleepContext(ctx, opts.Pause); err != nil {
				report.Duration = time.Since(report.StartedAt)
				return report, err
			}
		}

		rec, post, err := r.iterate(ctx, target, runDir, runLabel, i)
		if rec != nil {
			report.Iterations = append(report.Iterations, *rec)
		}
		if err != nil {
			report.Duration = time.Since(report.StartedAt)
			return report, err
		}
		posts[i] = post

		if rec.ExitStatus != 0 {
			return r.crash(ctx, report, rec, runDir, logger), nil
		}
		logger.WithField("iteration", i).Debug("iteration completed")
	}

	results := snapshot.Compare(posts[1], posts[opts.Iterations])
	var differences []snapshot.DiffResult
	for _, res := range results {
		if res.Changed {
			differences = append(differences, res)
		}
	}
	report.Verdict = &Verdict{
		Idempotent:         len(differences) == 0,
		ComparedIterations: [2]int{1, opts.Iterations},
		Differences:        differences,
	}
	report.Duration = time.Since(report.StartedAt)
	r.writeReport(runDir, report)

	r.conclude(ctx, report, span, logger)
	return report, nil
}

// VerifyAll verifies each target in sequence. Drift and crashes do not
// stop the sweep; every target gets a report. Only a harness failure
// returns early, alongside the reports finished so far.
func (r *Runner) VerifyAll(ctx context.Context, targets []string, opts Options) ([]*Report, error) {
	reports := make([]*Report, 0, len(targets))
	for _, target := range targets {
		report, err := r.Verify(ctx, target, opts)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// DiscoverTargets returns the registered phase scripts present and
// executable under scriptsDir, in ordinal order. These are the
// pre-registered deployment targets verified when no explicit target is
// given.
func DiscoverTargets(scriptsDir string) []string {
	var targets []string
	for _, phase := range engine.Registry() {
		path := phase.ScriptPath(scriptsDir)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		targets = append(targets, path)
	}
	return targets
}

// iterate runs one iteration: pre-snapshot, target, post-snapshot. The
// post-snapshot is captured even when the target fails, because the state
// it crashed in is exactly what a postmortem needs.
func (r *Runner) iterate(ctx context.Context, target, runDir, runLabel string, index int) (*IterationRecord, *snapshot.Snapshot, error) {
	pre := r.snapshots.Capture(ctx, fmt.Sprintf("pre-%d", index))
	if err := r.save(pre, runDir); err != nil {
		return nil, nil, err
	}

	rec := &IterationRecord{
		Index:     index,
		PreLabel:  pre.Label,
		StartedAt: time.Now(),
	}
	res, err := r.runner.RunScript(ctx, target, shell.Options{
		Env: []string{
			"DEPLOYCTL_VERIFY_LABEL=" + runLabel,
			fmt.Sprintf("DEPLOYCTL_VERIFY_ITERATION=%d", index),
		},
	})
	rec.Duration = time.Since(rec.StartedAt)
	if err != nil {
		// The target never ran at all. Treat it like a crash with
		// status 1 rather than a harness failure, so the outcome is
		// reported the same way a failing target is.
		rec.ExitStatus = 1
		rec.Stderr = err.Error()
	} else {
		rec.ExitStatus = res.ExitStatus
		rec.Stdout = res.Stdout
		rec.Stderr = res.Stderr
	}

	post := r.snapshots.Capture(ctx, fmt.Sprintf("post-%d", index))
	if err := r.save(post, runDir); err != nil {
		return rec, nil, err
	}
	rec.PostLabel = post.Label
	return rec, post, nil
}

// crash finalizes a report for a target that exited nonzero. No verdict
// is computed: a crash is an execution failure, not a drift finding.
func (r *Runner) crash(ctx context.Context, report *Report, rec *IterationRecord, runDir string, logger *telemetry.Logger) *Report {
	report.Crashed = true
	report.CrashStatus = rec.ExitStatus
	report.Duration = time.Since(report.StartedAt)
	r.writeReport(runDir, report)

	logger.WithField("iteration", rec.Index).
		WithField("exit_status", rec.ExitStatus).
		Error("target crashed; verification stopped")
	telemetry.SpanFromContext(ctx).SetAttributes(attribute.Bool("verify.crashed", true))
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordVerification("crashed")
		_ = tel.Events.PublishVerificationCompleted(report.RunLabel, report.Target, false)
	}
	return report
}

// conclude records the verdict in logs, metrics, events, and the span.
func (r *Runner) conclude(ctx context.Context, report *Report, span trace.Span, logger *telemetry.Logger) {
	verdict := "idempotent"
	if !report.Verdict.Idempotent {
		verdict = "drift"
	}

	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		tel.Metrics.RecordVerification(verdict)
		for _, diff := range report.Verdict.Differences {
			tel.Metrics.RecordDrift(diff.Domain)
			_ = tel.Events.PublishDriftDetected(report.RunLabel, diff.Domain)
		}
		_ = tel.Events.PublishVerificationCompleted(report.RunLabel, report.Target, report.Verdict.Idempotent)
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("verify.idempotent", report.Verdict.Idempotent))
		telemetry.RecordSuccess(span)
	}

	if report.Verdict.Idempotent {
		logger.WithField("iterations", len(report.Iterations)).Info("target is idempotent")
		return
	}
	logger.WithField("domains", report.ChangedDomains()).Warn("state drift detected across iterations")
}

// aggressiveChecks runs the invasive pre-checks: two back-to-back
// captures must be byte-identical (otherwise the verdict would blame the
// target for the host's own churn), and the configured lock must show
// exactly-one-winner behavior under a forced race.
func (r *Runner) aggressiveChecks(ctx context.Context, runDir string, logger *telemetry.Logger) error {
	first := r.snapshots.Capture(ctx, "selfcheck-a")
	second := r.snapshots.Capture(ctx, "selfcheck-b")
	if changed := snapshot.ChangedDomains(snapshot.Compare(first, second)); len(changed) > 0 {
		if err := r.save(first, runDir); err == nil {
			_ = second.Save(runDir)
		}
		return fmt.Errorf("capture self-check failed: domains %v differ between back-to-back captures", changed)
	}
	logger.Debug("capture self-check passed")

	if r.prober == nil || r.lockPath == "" {
		return nil
	}
	if err := r.prober.Exclusivity(ctx, r.lockPath); err != nil {
		return fmt.Errorf("lock exclusivity probe failed: %w", err)
	}
	logger.Debug("lock exclusivity probe passed")
	return nil
}

func (r *Runner) save(snap *snapshot.Snapshot, runDir string) error {
	if err := snap.Save(runDir); err != nil {
		return fmt.Errorf("saving snapshot %s: %w", snap.Label, err)
	}
	return nil
}

// writeReport persists the report beside the snapshot artifacts so a
// postmortem finds records and snapshots in one place. Best effort: a
// write failure is logged, not escalated.
func (r *Runner) writeReport(runDir string, report *Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "report.json"), data, 0o644); err != nil {
		r.logger.WithError(err).Warn("could not write verification report")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
