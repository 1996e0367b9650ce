// Package shell executes external commands and deployment scripts on the
// local host. It is the single place in deployctl that spawns processes,
// so exit-status handling stays uniform across the orchestrator, the
// snapshot probes, and the verification runner.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Result holds the outcome of a command execution.
type Result struct {
	// ExitStatus is the process exit status. A process killed by a signal
	// reports 128+signal, matching shell conventions.
	ExitStatus int

	// Stdout holds captured standard output. Empty when Options.Stdout
	// redirected the stream elsewhere.
	Stdout string

	// Stderr holds captured standard error. Empty when Options.Stderr
	// redirected the stream elsewhere.
	Stderr string

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Success reports whether the process exited with status zero.
func (r *Result) Success() bool {
	return r.ExitStatus == 0
}

// Options configures a single execution.
type Options struct {
	// Dir is the working directory. Empty means the calling process's
	// working directory.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string

	// Stdin is connected to the process when non-nil.
	Stdin io.Reader

	// Stdout receives standard output when non-nil; otherwise output is
	// captured into Result.Stdout.
	Stdout io.Writer

	// Stderr receives standard error when non-nil; otherwise output is
	// captured into Result.Stderr.
	Stderr io.Writer
}

// Runner executes commands and scripts.
type Runner interface {
	// Run executes a binary with arguments.
	Run(ctx context.Context, name string, args []string, opts Options) (*Result, error)

	// RunScript executes an executable script by path.
	RunScript(ctx context.Context, path string, opts Options) (*Result, error)

	// Output runs a command and returns its trimmed stdout. It returns an
	// error when the command cannot be started or exits nonzero.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs processes on the local host via os/exec.
type ExecRunner struct{}

// NewExecRunner creates a local process runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a binary with arguments.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return r.execute(cmd, opts)
}

// RunScript executes an executable script by path. The script's shebang
// line selects the interpreter, so the file must carry the execute bit.
func (r *ExecRunner) RunScript(ctx context.Context, path string, opts Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, path)
	return r.execute(cmd, opts)
}

// Output runs a command and returns its trimmed stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	res, err := r.Run(ctx, name, args, Options{})
	if err != nil {
		return "", err
	}
	if res.ExitStatus != 0 {
		return "", fmt.Errorf("%s exited with status %d: %s", name, res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (r *ExecRunner) execute(cmd *exec.Cmd, opts Options) (*Result, error) {
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = &stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitStatus = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.ExitStatus = 128 + int(ws.Signal())
		}
	}

	return result, nil
}
