// Package race probes the locking that keeps concurrent deployments off
// the same host. It forces the races that production only hits rarely and
// checks the outcomes against exactly-one-winner semantics.
//
// # Modes
//
// Exclusivity races two attempts against one lock resource with an
// artificial hold. Exactly one attempt must acquire; the other must
// observe contention and exit with the lock-contention status within its
// bounded polling window, never by waiting indefinitely. Afterwards the
// resource file must carry the winner's token.
//
// Independence races one attempt per resource against two distinct lock
// resources. Both must acquire without contention, and each resource must
// end up stamped with its own holder's token, proving locks on different
// resources share no hidden state.
//
// # Attempts
//
// An attempt is the Hold function: poll for the flock within a window,
// stamp a token, hold for the configured duration, release. The Launcher
// interface decides where attempts run. ProcessLauncher spawns them as
// separate processes through the hidden `race hold` subcommand, which is
// the mode the CLI uses; InProcessLauncher runs them as goroutines, which
// tests use. flock locks attach to the open file description rather than
// the process, so both modes contend identically.
//
// # Timing
//
// The polling window must be shorter than the hold. If it were not, the
// losing attempt could keep polling until the winner releases and acquire
// back to back, turning a genuine race into a serial handoff that proves
// nothing.
package race
