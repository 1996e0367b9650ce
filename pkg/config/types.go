package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs spell durations the way Go
// does: "90s", "5m", "1h30m". Bare numbers are rejected; nanosecond
// integers in a config file are never what anyone means.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q (want a value like \"90s\" or \"5m\"): %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Enforcement modes for the policy gate.
const (
	// PolicyModeAdvisory reports policy denials as warnings without
	// blocking the run.
	PolicyModeAdvisory = "advisory"

	// PolicyModeEnforcing turns policy denials into pre-flight failures.
	PolicyModeEnforcing = "enforcing"
)

// Notifier types.
const (
	// NotifierLog logs run outcomes through the structured logger.
	NotifierLog = "log"

	// NotifierExec invokes an external hook command with the run outcome
	// as arguments.
	NotifierExec = "exec"
)
