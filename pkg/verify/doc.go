// Package verify checks that a deployment operation is idempotent by
// executing it repeatedly and comparing the host state snapshots taken
// around each execution.
//
// # Protocol
//
// One verification run proceeds as follows:
//
//  1. Capture a baseline snapshot. The baseline is diagnostic context
//     only; it never participates in the verdict, because the first
//     execution of an operation is expected to change state.
//  2. For each iteration 1..N: capture a pre-snapshot, run the target
//     capturing its exit status and output streams, capture a
//     post-snapshot.
//  3. After N clean iterations, compare the post-snapshot of iteration 1
//     against the post-snapshot of iteration N. No observable difference
//     means the target is idempotent.
//
// A pause longer than one second separates iterations so that file
// modification times, truncated to whole seconds by the capture layer,
// cannot alias across iterations.
//
// # Crash versus drift
//
// A target exiting nonzero stops the run immediately. That outcome is an
// execution failure, reported with the target's own exit status, and is
// kept strictly distinct from a drift verdict: no state comparison is
// made for a crashed run. Drift, by contrast, is N clean executions whose
// first and last post-snapshots differ; it maps to its own exit status.
//
// # The comparison gap
//
// Only the first and last post-snapshots are compared. A target that
// flaps through intermediate states but lands back where it started
// passes verification. This is a defined property of the protocol:
// adjacent-pair comparison is deliberately not implemented.
//
// # Artifacts
//
// Every run namespaces its snapshots and a report.json under a unique,
// timestamped label inside the artifact directory, and retains them for
// postmortem triage unless cleanup is requested.
//
// # Aggressive mode
//
// Aggressive mode adds two invasive pre-checks before the first
// iteration: two back-to-back captures must be byte-identical (proving
// the capture layer is not the source of any difference the verdict
// would report), and the configured run lock is raced through the
// concurrency probe's exclusivity mode.
//
// # Usage
//
//	runner := verify.NewRunner(verify.RunnerConfig{
//	    Snapshots:   snapshot.NewEngine(probes),
//	    ArtifactDir: "/var/lib/deployctl/snapshots",
//	})
//
//	report, err := runner.Verify(ctx, "scripts/firewall.sh", verify.Options{
//	    Iterations: 3,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if report.Crashed {
//	    os.Exit(report.CrashStatus)
//	}
//	if !report.Verdict.Idempotent {
//	    fmt.Println("changed domains:", report.ChangedDomains())
//	}
//	os.Exit(report.ExitStatus())
//
// Without an explicit target, DiscoverTargets lists the registered phase
// scripts present on disk and VerifyAll checks each in sequence.
package verify
