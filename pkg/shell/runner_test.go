package shell

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "script.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestRunnerRun(t *testing.T) {
	runner := NewExecRunner()
	ctx := context.Background()

	tests := []struct {
		name           string
		command        string
		args           []string
		expectedStatus int
		expectedStdout string
	}{
		{
			name:           "simple echo",
			command:        "echo",
			args:           []string{"test"},
			expectedStatus: 0,
			expectedStdout: "test\n",
		},
		{
			name:           "nonzero exit",
			command:        "sh",
			args:           []string{"-c", "exit 42"},
			expectedStatus: 42,
		},
		{
			name:           "stderr capture",
			command:        "sh",
			args:           []string{"-c", "echo oops >&2; exit 1"},
			expectedStatus: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runner.Run(ctx, tt.command, tt.args, Options{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if res.ExitStatus != tt.expectedStatus {
				t.Errorf("expected exit status %d, got %d", tt.expectedStatus, res.ExitStatus)
			}

			if tt.expectedStdout != "" && res.Stdout != tt.expectedStdout {
				t.Errorf("expected stdout %q, got %q", tt.expectedStdout, res.Stdout)
			}
		})
	}
}

func TestRunnerRunMissingBinary(t *testing.T) {
	runner := NewExecRunner()

	_, err := runner.Run(context.Background(), "/nonexistent/binary", nil, Options{})
	if err == nil {
		t.Fatal("expected error for missing binary, got nil")
	}
}

func TestRunnerRunScript(t *testing.T) {
	runner := NewExecRunner()
	ctx := context.Background()

	t.Run("status propagated verbatim", func(t *testing.T) {
		path := writeScript(t, "exit 42")

		res, err := runner.RunScript(ctx, path, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.ExitStatus != 42 {
			t.Errorf("expected exit status 42, got %d", res.ExitStatus)
		}
	})

	t.Run("captures both streams", func(t *testing.T) {
		path := writeScript(t, "echo out; echo err >&2")

		res, err := runner.RunScript(ctx, path, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Stdout != "out\n" {
			t.Errorf("expected stdout 'out\\n', got %q", res.Stdout)
		}
		if res.Stderr != "err\n" {
			t.Errorf("expected stderr 'err\\n', got %q", res.Stderr)
		}
	})

	t.Run("redirected streams are not captured", func(t *testing.T) {
		path := writeScript(t, "echo streamed")

		var sink bytes.Buffer
		res, err := runner.RunScript(ctx, path, Options{Stdout: &sink})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Stdout != "" {
			t.Errorf("expected empty captured stdout, got %q", res.Stdout)
		}
		if sink.String() != "streamed\n" {
			t.Errorf("expected redirected output, got %q", sink.String())
		}
	})

	t.Run("environment is appended", func(t *testing.T) {
		path := writeScript(t, `echo "$DEPLOY_ENV"`)

		res, err := runner.RunScript(ctx, path, Options{Env: []string{"DEPLOY_ENV=staging"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.TrimSpace(res.Stdout) != "staging" {
			t.Errorf("expected 'staging', got %q", res.Stdout)
		}
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		path := writeScript(t, "pwd")

		res, err := runner.RunScript(ctx, path, Options{Dir: dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
		if err != nil {
			t.Fatalf("failed to resolve reported dir: %v", err)
		}
		want, err := filepath.EvalSymlinks(dir)
		if err != nil {
			t.Fatalf("failed to resolve temp dir: %v", err)
		}
		if got != want {
			t.Errorf("expected working dir %q, got %q", want, got)
		}
	})
}

func TestRunnerRunScriptCancellation(t *testing.T) {
	runner := NewExecRunner()
	path := writeScript(t, "sleep 10")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := runner.RunScript(ctx, path, Options{})
	if err != nil {
		// exec may surface cancellation as a start error depending on timing
		t.Logf("cancelled run returned error: %v", err)
		return
	}
	if res.ExitStatus == 0 {
		t.Error("expected nonzero exit status for killed script")
	}
}

func TestRunnerOutput(t *testing.T) {
	runner := NewExecRunner()
	ctx := context.Background()

	t.Run("trims stdout", func(t *testing.T) {
		out, err := runner.Output(ctx, "echo", "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "hello" {
			t.Errorf("expected 'hello', got %q", out)
		}
	})

	t.Run("nonzero exit is an error", func(t *testing.T) {
		_, err := runner.Output(ctx, "sh", "-c", "exit 3")
		if err == nil {
			t.Fatal("expected error for nonzero exit, got nil")
		}
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		_, err := runner.Output(ctx, "/nonexistent/binary")
		if err == nil {
			t.Fatal("expected error for missing binary, got nil")
		}
	})
}

func TestResultSuccess(t *testing.T) {
	if !(&Result{ExitStatus: 0}).Success() {
		t.Error("expected status 0 to be success")
	}
	if (&Result{ExitStatus: 1}).Success() {
		t.Error("expected status 1 to not be success")
	}
}
