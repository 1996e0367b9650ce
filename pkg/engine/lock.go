package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLock serializes deployment runs on a host. Acquisition is
// non-blocking: a busy lock is contention, reported with its dedicated
// exit status, not something to wait out.
type RunLock struct {
	path string
	fl   *flock.Flock
}

// NewRunLock creates a run lock backed by the given lock file.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path, fl: flock.New(path)}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// Acquire takes the lock or fails immediately. A held lock yields a
// contention error mapping to ExitLockContention.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return NewInternalError("cannot create lock directory", err)
	}
	locked, err := l.fl.TryLock()
	if err != nil {
		return NewInternalError(fmt.Sprintf("cannot acquire run lock %s", l.path), err)
	}
	if !locked {
		return NewContentionError(
			fmt.Sprintf("run lock %s is held by another deployment", l.path), nil,
		).WithCode(ErrCodeLockBusy)
	}
	return nil
}

// Release drops the lock. Safe to call when the lock was never acquired.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
