// Package policy provides Open Policy Agent (OPA) integration for
// deployctl's pre-flight gate.
//
// Policies are written in the Rego policy language and evaluated against
// a planned run document before any phase executes. The package includes
// built-in policies for common deployment guardrails and supports custom
// policy loading from files and directories.
//
// # Architecture
//
// The policy system consists of three main components:
//
//  1. Engine - Compiles Rego policies and evaluates their deny queries
//  2. Loader - Loads policies from files and directories, with hot reload
//  3. Built-in Policies - Pre-defined guardrails for skip-sets and production
//
// # Run Document
//
// Every policy is evaluated against the same input document describing
// the planned run:
//
//	{
//	    "environment": "production",
//	    "dry_run": false,
//	    "interactive": false,
//	    "skip": ["firewall"],
//	    "phases": [
//	        {"id": "user_setup", "ordinal": 1, "destructive": false,
//	         "requires": [], "skipped": false},
//	        ...
//	    ]
//	}
//
// # Usage
//
// Creating a policy engine and gating a run:
//
//	logger := zerolog.New(os.Stderr)
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	violations, err := gate.Deny(ctx, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, v := range violations {
//	    fmt.Println("denied:", v)
//	}
//
// Loading custom policies:
//
//	err = gate.LoadPolicies(ctx, []string{
//	    "/etc/deployctl/policies",
//	    "/opt/policies/freeze.rego",
//	})
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. skip-dependencies - An executed phase must not require a skipped phase
//  2. production-safety - Destructive phases in production require
//     interactive confirmation or a dry run
//  3. skip-everything - Warns when every registered phase is skipped
//
// # Custom Policies
//
// Custom policies are Rego modules whose deny rule yields violations:
//
//	# Blocks production deployments during a freeze window.
//	# severity: critical
//	package deployctl.policies.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.environment == "production"
//	    violation := {
//	        "message": "deployment freeze is in effect",
//	        "severity": "critical",
//	    }
//	}
//
// The engine queries data.<package>.deny for each policy. A violation may
// be a plain string or an object with message, severity, and phase keys.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: informational, logged only
//   - warning: should be reviewed, logged only
//   - error: denies the run
//   - critical: denies the run, severe
//
// Whether a denial blocks the run or is reported as an advisory warning
// is decided by the pre-flight validator's enforcement mode, not here.
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically, debounced to absorb editor write bursts:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    if err := gate.ReloadPolicies(ctx); err != nil {
//	        return err
//	    }
//	    return gate.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are parsed and compiled once; each policy's deny query is
// prepared with OPA's PreparedEvalQuery and reused for every evaluation.
package policy
