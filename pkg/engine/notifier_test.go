package engine

import (
	"context"
	"testing"

	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

func TestMultiNotifier_FansOut(t *testing.T) {
	first := &fakeNotifier{}
	second := &fakeNotifier{}
	m := MultiNotifier{first, second}

	ctx := context.Background()
	m.Started(ctx, "staging")
	m.Succeeded(ctx, "staging")
	m.Failed(ctx, "staging", "deployment failed at phase services (status 3)")

	for i, n := range []*fakeNotifier{first, second} {
		if len(n.started) != 1 || len(n.succeeded) != 1 || len(n.failed) != 1 {
			t.Errorf("notifier %d hooks = %d/%d/%d, want 1/1/1",
				i, len(n.started), len(n.succeeded), len(n.failed))
		}
	}
	if first.failed[0].message != "deployment failed at phase services (status 3)" {
		t.Errorf("failed message = %q", first.failed[0].message)
	}
}

func TestExecNotifier_InvokesHookCommand(t *testing.T) {
	runner := &fakeRunner{}
	n := NewExecNotifier("/usr/local/bin/deploy-hook", runner, telemetry.NopLogger())

	n.Failed(context.Background(), "production", "deployment failed at phase app_deploy (status 42)")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(runner.calls))
	}
	call := runner.calls[0]
	if call.path != "/usr/local/bin/deploy-hook" {
		t.Errorf("hook command = %s", call.path)
	}
	envSeen := map[string]bool{}
	for _, kv := range call.env {
		envSeen[kv] = true
	}
	for _, want := range []string{
		"DEPLOYCTL_EVENT=failed",
		"DEPLOYCTL_ENVIRONMENT=production",
		"DEPLOYCTL_MESSAGE=deployment failed at phase app_deploy (status 42)",
	} {
		if !envSeen[want] {
			t.Errorf("hook env missing %s (env = %v)", want, call.env)
		}
	}
}

func TestExecNotifier_SurvivesCancelledRunContext(t *testing.T) {
	runner := &fakeRunner{}
	n := NewExecNotifier("/usr/local/bin/deploy-hook", runner, telemetry.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Failed(ctx, "production", "terminated")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 {
		t.Errorf("hook calls = %d, want 1 despite cancelled context", len(runner.calls))
	}
}

func TestLogNotifier_NilLogger(t *testing.T) {
	n := NewLogNotifier(nil)
	// Must not panic.
	n.Started(context.Background(), "staging")
	n.Succeeded(context.Background(), "staging")
	n.Failed(context.Background(), "staging", "message")
}
