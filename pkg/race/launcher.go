package race

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/shell"
)

// AttemptSpec describes one acquisition attempt in a race.
type AttemptSpec struct {
	// Resource is the path of the lock file being contended.
	Resource string

	// Token identifies the attempt. The holder stamps it into the
	// resource file so the probe can check who held what afterwards.
	Token string

	// Hold is how long a successful attempt keeps the lock.
	Hold time.Duration

	// Window bounds how long an attempt polls for the lock before
	// reporting contention.
	Window time.Duration

	// Retry is the polling interval within the window.
	Retry time.Duration
}

// Outcome is the observed result of one attempt.
type Outcome struct {
	Token      string
	Acquired   bool
	ExitStatus int

	// Err reports a launcher transport failure: the attempt could not be
	// run at all, so its status says nothing about the resource.
	Err error
}

// Launcher runs one acquisition attempt and reports its outcome. The
// probe launches attempts concurrently, so implementations must be safe
// for concurrent use.
type Launcher interface {
	Launch(ctx context.Context, spec AttemptSpec) Outcome
}

// Hold is the body of one attempt: acquire the resource's lock within the
// polling window, stamp the token into the resource file, hold, release.
// The return value is a process exit status: zero for a clean
// acquisition and release, the lock-contention status when the window
// expires without acquiring, one for filesystem failures.
func Hold(ctx context.Context, resource, token string, holdFor, window, retry time.Duration) int {
	if err := os.MkdirAll(filepath.Dir(resource), 0o755); err != nil {
		return 1
	}

	fl := flock.New(resource)
	lockCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, retry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return 1
	}
	if !locked {
		return engine.ExitLockContention
	}
	defer fl.Unlock()

	if err := os.WriteFile(resource, []byte(token+"\n"), 0o644); err != nil {
		return 1
	}

	timer := time.NewTimer(holdFor)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return 0
}

// InProcessLauncher runs attempts as goroutines in the calling process.
// flock locks attach to the open file description, not the process, so
// two in-process attempts contend exactly the way two processes would.
type InProcessLauncher struct{}

// Launch runs the attempt in the calling goroutine.
func (InProcessLauncher) Launch(ctx context.Context, spec AttemptSpec) Outcome {
	status := Hold(ctx, spec.Resource, spec.Token, spec.Hold, spec.Window, spec.Retry)
	return Outcome{
		Token:      spec.Token,
		Acquired:   status == 0,
		ExitStatus: status,
	}
}

// ProcessLauncher runs each attempt as a separate process through the
// hidden `race hold` subcommand, exercising the same inter-process
// contention a second deploy invocation would hit.
type ProcessLauncher struct {
	// Binary is the executable to invoke. Empty means the current
	// executable.
	Binary string

	// Runner spawns the attempt processes. Nil means the local exec
	// runner.
	Runner shell.Runner
}

// Launch spawns the attempt subprocess and maps its exit status.
func (l *ProcessLauncher) Launch(ctx context.Context, spec AttemptSpec) Outcome {
	binary := l.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return Outcome{Token: spec.Token, ExitStatus: 1, Err: fmt.Errorf("resolving executable: %w", err)}
		}
		binary = exe
	}
	runner := l.Runner
	if runner == nil {
		runner = shell.NewExecRunner()
	}

	args := []string{
		"race", "hold",
		"--resource", spec.Resource,
		"--token", spec.Token,
		"--hold", spec.Hold.String(),
		"--window", spec.Window.String(),
		"--retry", spec.Retry.String(),
	}
	res, err := runner.Run(ctx, binary, args, shell.Options{})
	if err != nil {
		return Outcome{Token: spec.Token, ExitStatus: 1, Err: fmt.Errorf("launching attempt: %w", err)}
	}
	return Outcome{
		Token:      spec.Token,
		Acquired:   res.ExitStatus == 0,
		ExitStatus: res.ExitStatus,
	}
}
