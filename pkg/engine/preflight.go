package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// Pre-flight check identifiers, one per validated collaborator kind.
const (
	CheckSkipSet        = "skip_set"
	CheckScriptsDir     = "scripts_dir"
	CheckPhaseScript    = "phase_script"
	CheckRollbackScript = "rollback_script"
	CheckArtifactDir    = "artifact_dir"
	CheckNotifier       = "notifier"
	CheckPolicy         = "policy"
)

// PreflightIssue is one problem found during pre-flight validation.
type PreflightIssue struct {
	// Check names the validator that found the problem.
	Check string `json:"check"`

	// Subject is the artifact the problem concerns (a phase id, a path,
	// a flag value).
	Subject string `json:"subject"`

	// Detail describes the problem.
	Detail string `json:"detail"`
}

// String renders the issue as a single report line.
func (i PreflightIssue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Check, i.Subject, i.Detail)
}

// PreflightReport aggregates every problem found before a run. All checks
// run to completion so the operator can fix everything in one pass;
// nothing here fails fast.
type PreflightReport struct {
	// Issues are the problems that block the run.
	Issues []PreflightIssue `json:"issues"`

	// Warnings are advisory findings that do not block the run.
	Warnings []PreflightIssue `json:"warnings,omitempty"`

	// CheckedAt is when validation ran.
	CheckedAt time.Time `json:"checked_at"`
}

// OK reports whether the run may proceed.
func (r *PreflightReport) OK() bool {
	return len(r.Issues) == 0
}

// Add records a blocking issue.
func (r *PreflightReport) Add(check, subject, detail string) {
	r.Issues = append(r.Issues, PreflightIssue{Check: check, Subject: subject, Detail: detail})
}

// AddWarning records an advisory finding.
func (r *PreflightReport) AddWarning(check, subject, detail string) {
	r.Warnings = append(r.Warnings, PreflightIssue{Check: check, Subject: subject, Detail: detail})
}

// Err returns nil when the report is clean, otherwise a validation error
// summarizing the issue count.
func (r *PreflightReport) Err() error {
	if r.OK() {
		return nil
	}
	return NewValidationError(
		fmt.Sprintf("pre-flight validation failed: %d issue(s)", len(r.Issues)), nil,
	).WithCode(ErrCodePreflight)
}

// Render writes the report in human-readable form.
func (r *PreflightReport) Render(w io.Writer) {
	if r.OK() {
		fmt.Fprintln(w, "pre-flight validation passed")
	} else {
		fmt.Fprintf(w, "pre-flight validation failed: %d issue(s)\n", len(r.Issues))
		for _, issue := range r.Issues {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

// PolicyGate evaluates deny policies against a planned run. The input is
// a generic document (environment, planned phases, skip-set, run flags);
// each returned string is one violation message.
type PolicyGate interface {
	Deny(ctx context.Context, input map[string]interface{}) ([]string, error)
}

// ValidatorConfig wires a Validator's collaborators.
type ValidatorConfig struct {
	// ScriptsDir holds the per-phase body scripts.
	ScriptsDir string

	// RollbackDir holds the per-phase compensation scripts.
	RollbackDir string

	// WritableDirs are directories the run must be able to write
	// (snapshots, artifacts, state). Missing directories are created by
	// the probe.
	WritableDirs []string

	// NotifierCommands are the exec-notifier hook commands to resolve.
	NotifierCommands []string

	// Gate is the optional policy gate consulted last.
	Gate PolicyGate

	// Enforce promotes policy violations from warnings to blocking
	// issues.
	Enforce bool

	// Logger receives per-check diagnostics.
	Logger *telemetry.Logger
}

// Validator performs aggregated pre-flight validation of every external
// collaborator a run depends on.
type Validator struct {
	cfg    ValidatorConfig
	logger *telemetry.Logger
}

// NewValidator creates a pre-flight validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Check validates every collaborator for the planned run and returns the
// aggregated report. It never stops at the first problem.
func (v *Validator) Check(ctx context.Context, opts RunOptions) *PreflightReport {
	report := &PreflightReport{CheckedAt: time.Now()}

	for _, id := range opts.Skip.Unknown() {
		report.Add(CheckSkipSet, id, "not a registered phase")
	}

	v.checkScripts(report, opts.Skip)
	v.checkWritableDirs(report)
	v.checkNotifiers(report)
	v.checkPolicy(ctx, report, opts)

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		for _, issue := range report.Issues {
			tel.Metrics.RecordPreflightIssue(issue.Check)
		}
	}
	for _, issue := range report.Issues {
		v.logger.WithField("check", issue.Check).WithField("subject", issue.Subject).Warn(issue.Detail)
	}

	return report
}

func (v *Validator) checkScripts(report *PreflightReport, skip SkipSet) {
	info, err := os.Stat(v.cfg.ScriptsDir)
	switch {
	case err != nil:
		report.Add(CheckScriptsDir, v.cfg.ScriptsDir, "does not exist")
		return
	case !info.IsDir():
		report.Add(CheckScriptsDir, v.cfg.ScriptsDir, "not a directory")
		return
	}

	for _, phase := range registry {
		if skip.Has(phase.ID) {
			continue
		}
		if detail := executableScript(phase.ScriptPath(v.cfg.ScriptsDir)); detail != "" {
			report.Add(CheckPhaseScript, phase.ID, detail)
		}
		if !phase.HasRollback {
			continue
		}
		if detail := executableScript(phase.RollbackPath(v.cfg.RollbackDir)); detail != "" {
			report.Add(CheckRollbackScript, phase.ID, detail)
		}
	}
}

// executableScript returns an empty string when the path is a readable,
// executable regular file, otherwise a description of what is wrong.
func executableScript(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("script %s does not exist", path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Sprintf("script %s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("script %s is not readable", path)
	}
	f.Close()
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Sprintf("script %s is not executable", path)
	}
	return ""
}

func (v *Validator) checkWritableDirs(report *PreflightReport) {
	for _, dir := range v.cfg.WritableDirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			report.Add(CheckArtifactDir, dir, fmt.Sprintf("cannot create: %v", err))
			continue
		}
		probe, err := os.CreateTemp(dir, ".preflight-*")
		if err != nil {
			report.Add(CheckArtifactDir, dir, fmt.Sprintf("not writable: %v", err))
			continue
		}
		probe.Close()
		os.Remove(probe.Name())
	}
}

func (v *Validator) checkNotifiers(report *PreflightReport) {
	for _, command := range v.cfg.NotifierCommands {
		if command == "" {
			report.Add(CheckNotifier, "exec", "notifier command is empty")
			continue
		}
		if strings.ContainsRune(command, os.PathSeparator) {
			if detail := executableScript(command); detail != "" {
				report.Add(CheckNotifier, command, detail)
			}
			continue
		}
		if _, err := exec.LookPath(command); err != nil {
			report.Add(CheckNotifier, command, "not found in PATH")
		}
	}
}

func (v *Validator) checkPolicy(ctx context.Context, report *PreflightReport, opts RunOptions) {
	if v.cfg.Gate == nil {
		return
	}
	violations, err := v.cfg.Gate.Deny(ctx, policyInput(opts))
	if err != nil {
		report.Add(CheckPolicy, "gate", fmt.Sprintf("policy evaluation failed: %v", err))
		return
	}
	for _, violation := range violations {
		if v.cfg.Enforce {
			report.Add(CheckPolicy, "gate", violation)
		} else {
			report.AddWarning(CheckPolicy, "gate", violation)
		}
	}
}

// policyInput builds the policy document describing the planned run.
func policyInput(opts RunOptions) map[string]interface{} {
	phases := make([]map[string]interface{}, 0, len(registry))
	for _, p := range registry {
		phases = append(phases, map[string]interface{}{
			"id":          p.ID,
			"ordinal":     p.Ordinal,
			"destructive": p.Destructive,
			"requires":    p.Requires,
			"skipped":     opts.Skip.Has(p.ID),
		})
	}
	return map[string]interface{}{
		"environment": opts.Environment,
		"dry_run":     opts.DryRun,
		"interactive": opts.Interactive,
		"skip":        opts.Skip.IDs(),
		"phases":      phases,
	}
}
