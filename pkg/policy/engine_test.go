package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// deployInput builds a run document shaped like the orchestrator's
// pre-flight input, with the given phases marked skipped.
func deployInput(skip ...string) map[string]interface{} {
	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}

	phase := func(id string, ordinal int, destructive bool, requires ...string) map[string]interface{} {
		if requires == nil {
			requires = []string{}
		}
		return map[string]interface{}{
			"id":          id,
			"ordinal":     ordinal,
			"destructive": destructive,
			"requires":    requires,
			"skipped":     skipped[id],
		}
	}

	return map[string]interface{}{
		"environment": "staging",
		"dry_run":     false,
		"interactive": false,
		"skip":        append([]string{}, skip...),
		"phases": []map[string]interface{}{
			phase("user_setup", 1, false),
			phase("ssh_setup", 2, false, "user_setup"),
			phase("firewall", 3, true, "ssh_setup"),
			phase("app_deploy", 4, true, "firewall"),
		},
	}
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"skip-dependencies",
		"production-safety",
		"skip-everything",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEngine_Deny_SkipDependencies(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name      string
		skip      []string
		wantDeny  int
		wantMatch string
	}{
		{
			name:     "no skips",
			skip:     nil,
			wantDeny: 0,
		},
		{
			name:      "executed phase requires skipped phase",
			skip:      []string{"ssh_setup"},
			wantDeny:  1,
			wantMatch: "phase firewall requires ssh_setup",
		},
		{
			name:      "first phase skipped starves its dependent",
			skip:      []string{"user_setup"},
			wantDeny:  1,
			wantMatch: "phase ssh_setup requires user_setup",
		},
		{
			name:     "dependents skipped along with their dependency",
			skip:     []string{"ssh_setup", "firewall", "app_deploy"},
			wantDeny: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			denied, err := eng.Deny(context.Background(), deployInput(tt.skip...))
			if err != nil {
				t.Fatalf("Deny failed: %v", err)
			}

			if len(denied) != tt.wantDeny {
				t.Fatalf("Expected %d denials, got %d: %v", tt.wantDeny, len(denied), denied)
			}
			if tt.wantMatch != "" && !strings.Contains(denied[0], tt.wantMatch) {
				t.Errorf("Denial %q does not mention %q", denied[0], tt.wantMatch)
			}
		})
	}
}

func TestEngine_Deny_ProductionSafety(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name        string
		environment string
		dryRun      bool
		interactive bool
		skip        []string
		wantDeny    int
	}{
		{
			name:        "production without confirmation denies every destructive phase",
			environment: "production",
			wantDeny:    2,
		},
		{
			name:        "dry run is exempt",
			environment: "production",
			dryRun:      true,
			wantDeny:    0,
		},
		{
			name:        "interactive is exempt",
			environment: "production",
			interactive: true,
			wantDeny:    0,
		},
		{
			name:        "staging is exempt",
			environment: "staging",
			wantDeny:    0,
		},
		{
			name:        "skipped destructive phases do not count",
			environment: "production",
			skip:        []string{"firewall", "app_deploy"},
			wantDeny:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := deployInput(tt.skip...)
			input["environment"] = tt.environment
			input["dry_run"] = tt.dryRun
			input["interactive"] = tt.interactive

			denied, err := eng.Deny(context.Background(), input)
			if err != nil {
				t.Fatalf("Deny failed: %v", err)
			}

			if len(denied) != tt.wantDeny {
				t.Fatalf("Expected %d denials, got %d: %v", tt.wantDeny, len(denied), denied)
			}
			for _, d := range denied {
				if !strings.Contains(d, "production-safety") {
					t.Errorf("Denial %q does not name the policy", d)
				}
			}
		})
	}
}

func TestEngine_Deny_WarningSeverityNeverDenies(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := deployInput("user_setup", "ssh_setup", "firewall", "app_deploy")

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var warned *Violation
	for i := range result.Violations {
		if result.Violations[i].Policy == "skip-everything" {
			warned = &result.Violations[i]
		}
	}
	if warned == nil {
		t.Fatalf("Expected a skip-everything violation, got %+v", result.Violations)
	}
	if warned.Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", warned.Severity)
	}
	if !strings.Contains(warned.Message, "all 4 phases are skipped") {
		t.Errorf("Unexpected message: %q", warned.Message)
	}
	if !result.Allowed {
		t.Error("Warning-severity violations must not flip Allowed")
	}

	denied, err := eng.Deny(context.Background(), input)
	if err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	if len(denied) != 0 {
		t.Errorf("Expected no denials for warning severity, got %v", denied)
	}
}

func TestEngine_Evaluate_ListsEvaluatedPolicies(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), deployInput())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	want := []string{"production-safety", "skip-dependencies", "skip-everything"}
	if len(result.Evaluated) != len(want) {
		t.Fatalf("Expected %d evaluated policies, got %v", len(want), result.Evaluated)
	}
	for i, name := range want {
		if result.Evaluated[i] != name {
			t.Errorf("Evaluated[%d] = %s, want %s", i, result.Evaluated[i], name)
		}
	}
}

func TestEngine_LoadPolicies_CustomRego(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	custom := `package deployctl.policies.freeze

import rego.v1

deny contains violation if {
	input.environment == "production"
	violation := {
		"message": "deployment freeze is in effect",
		"severity": "error",
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "freeze.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("freeze"); err != nil {
		t.Fatalf("Custom policy not registered: %v", err)
	}

	// Dry run silences the builtin production gate so only the custom
	// policy can fire.
	input := deployInput()
	input["environment"] = "production"
	input["dry_run"] = true

	denied, err := eng.Deny(context.Background(), input)
	if err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	if len(denied) != 1 || !strings.Contains(denied[0], "deployment freeze is in effect") {
		t.Fatalf("Expected the freeze denial, got %v", denied)
	}
}

func TestEngine_EnableDisablePolicy(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "production-safety"

	input := deployInput()
	input["environment"] = "production"

	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	denied, err := eng.Deny(context.Background(), input)
	if err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	if len(denied) != 0 {
		t.Errorf("Disabled policy should not generate denials, got %v", denied)
	}

	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	denied, err = eng.Deny(context.Background(), input)
	if err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	if len(denied) == 0 {
		t.Error("Re-enabled policy should generate denials again")
	}
}

func TestEngine_ReloadPolicies(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	builtinCount := len(eng.ListPolicies())

	dir := t.TempDir()
	custom := `package deployctl.policies.extra

import rego.v1

deny contains msg if {
	count(input.skip) > 3
	msg := "too many skips"
}
`
	if err := os.WriteFile(filepath.Join(dir, "extra.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtinCount+1 {
		t.Fatalf("Expected %d policies after load, got %d", builtinCount+1, got)
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	if got := len(eng.ListPolicies()); got != builtinCount {
		t.Errorf("Expected %d policies after reload, got %d", builtinCount, got)
	}
	if _, err := eng.GetPolicy("extra"); err == nil {
		t.Error("File-based policy should be gone after reload")
	}
}

func TestExtractPackageName(t *testing.T) {
	tests := []struct {
		name string
		rego string
		want string
	}{
		{
			name: "plain package line",
			rego: "package deployctl.policies.freeze\n\nimport rego.v1\n",
			want: "deployctl.policies.freeze",
		},
		{
			name: "leading comments",
			rego: "# blocks everything\n# severity: error\npackage custom.gate\n",
			want: "custom.gate",
		},
		{
			name: "missing package falls back to default",
			rego: "import rego.v1\n",
			want: "deployctl.policies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPackageName(tt.rego); got != tt.want {
				t.Errorf("extractPackageName() = %s, want %s", got, tt.want)
			}
		})
	}
}
