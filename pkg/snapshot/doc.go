// Package snapshot captures observable host state for drift comparison.
//
// A snapshot is a labeled collection of state domains, where each domain
// is an ordered list of text lines produced by a probe. Probes cover user
// identities, groups, installed packages, service units, configured file
// trees, firewall rules, listening sockets, kernel parameters, and cron
// entries.
//
// # Determinism
//
// Two captures taken while host state is unchanged must serialize to
// byte-identical content. Every probe therefore emits deterministically
// ordered output (lexicographic unless the subsystem itself defines a
// meaningful order, as firewall rules do) and excludes inherently volatile
// values such as timestamps embedded in tool output, socket queue depths,
// and entropy counters. File modification times are truncated to whole
// seconds so that comparison never hinges on sub-second jitter.
//
// # Unavailable subsystems
//
// A probe that cannot observe its subsystem at all (missing binary,
// unreadable database) does not abort the capture. Its domain is recorded
// as the single line "unavailable", which is distinct from the domain
// being absent from the snapshot: absence means the capture never
// attempted the domain, the sentinel means it attempted and could not
// observe.
//
// # Usage
//
// Capturing and comparing:
//
//	runner := shell.NewExecRunner()
//	engine := snapshot.NewEngine(snapshot.DefaultProbes(runner, snapshot.ProbeConfig{
//	    FileRoots: []string{"/etc/myapp"},
//	    CronUsers: []string{"root", "deploy"},
//	}))
//
//	before := engine.Capture(ctx, "pre-deploy")
//	// ... run the deployment ...
//	after := engine.Capture(ctx, "post-deploy")
//
//	for _, d := range snapshot.Compare(before, after) {
//	    if d.Changed {
//	        fmt.Printf("domain %s drifted:\n%s\n", d.Domain, d.Excerpt)
//	    }
//	}
//
// Snapshots serialize to a directory with one file per domain, which keeps
// them inspectable with ordinary line tools:
//
//	if err := after.Save("/var/lib/deployctl/snapshots"); err != nil {
//	    log.Fatal(err)
//	}
package snapshot
