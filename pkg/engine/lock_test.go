package engine

import (
	"path/filepath"
	"testing"
)

func TestRunLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "deploy.lock")
	l := NewRunLock(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	l.Release()
}

func TestRunLock_ContentionMapsToDedicatedStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.lock")

	holder := NewRunLock(path)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer holder.Release()

	contender := NewRunLock(path)
	err := contender.Acquire()
	if err == nil {
		contender.Release()
		t.Fatal("second Acquire() = nil, want contention")
	}
	if !IsContention(err) {
		t.Errorf("IsContention(%v) = false", err)
	}
	if got := ExitStatusFromError(err); got != ExitLockContention {
		t.Errorf("ExitStatusFromError() = %d, want %d", got, ExitLockContention)
	}
}

func TestRunLock_ReleaseWithoutAcquire(t *testing.T) {
	l := NewRunLock(filepath.Join(t.TempDir(), "deploy.lock"))
	if err := l.Release(); err != nil {
		t.Errorf("Release() on unheld lock = %v", err)
	}
}
