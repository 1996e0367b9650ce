// Package config loads and validates deployctl's configuration.
//
// Configuration is one YAML file decoded over built-in defaults, so an
// empty or partial file is valid and only the keys present override
// anything. Unknown keys are rejected at decode time.
//
// # Validation
//
// Struct tags drive field validation (required keys, enumerations,
// minimums); cross-field rules the tags cannot express are checked
// afterwards and reported together with the tag violations:
//
//   - verify.pause must be longer than one second, because file
//     modification times are truncated to whole seconds and a shorter
//     pause lets consecutive iterations alias into the same timestamp.
//   - race.poll_timeout must be shorter than race.hold_duration, or the
//     probe's attempts acquire back to back instead of racing.
//
// # Derived defaults
//
// Paths that depend on other settings are derived after decoding:
// lock_path defaults to <state_dir>/deploy.lock, phases.rollback_dir to
// <scripts_dir>/rollback, snapshot.dir to <state_dir>/snapshots, and
// store.path to <state_dir>/deployctl.db.
//
// # Example
//
//	environment: production
//	scripts_dir: /opt/deploy/scripts
//	state_dir: /var/lib/deployctl
//
//	phases:
//	  timeout: 15m
//	  env:
//	    - DEPLOY_REGION=eu-central-1
//
//	snapshot:
//	  watch_paths:
//	    - /etc/ssh/sshd_config
//	    - /etc/nginx
//	  cron_users: [root, deploy]
//
//	verify:
//	  iterations: 3
//	  pause: 2s
//
//	policy:
//	  enabled: true
//	  mode: enforcing
//	  paths:
//	    - /etc/deployctl/policies
//
//	notify:
//	  notifiers:
//	    - type: log
//	    - type: exec
//	      command: /usr/local/bin/deploy-hook
//
// Durations are Go duration strings ("90s", "5m", "1h30m").
package config
