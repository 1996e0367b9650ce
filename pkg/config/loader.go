package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// minVerifyPause is the largest inter-iteration pause the loader rejects.
// File mtimes are truncated to whole seconds, so pauses of a second or
// less let consecutive iterations alias into the same timestamp.
const minVerifyPause = time.Second

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		// Report yaml keys, not Go field names, so messages point at the
		// line the operator actually wrote.
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		validateInst = v
	})
	return validateInst
}

// Load reads, defaults, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected so a typo surfaces instead of silently meaning
// nothing. An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills the derived paths that depend on other fields and
// backfills zero values. Decoding over Default() covers flat fields; this
// covers the ones that cannot have a static default.
func (c *Config) ApplyDefaults() {
	if c.LockPath == "" && c.StateDir != "" {
		c.LockPath = filepath.Join(c.StateDir, "deploy.lock")
	}
	if c.Phases.RollbackDir == "" && c.ScriptsDir != "" {
		c.Phases.RollbackDir = filepath.Join(c.ScriptsDir, "rollback")
	}
	if c.Snapshot.Dir == "" && c.StateDir != "" {
		c.Snapshot.Dir = filepath.Join(c.StateDir, "snapshots")
	}
	if c.Store.Path == "" && c.StateDir != "" {
		c.Store.Path = filepath.Join(c.StateDir, "deployctl.db")
	}
	if c.Verify.Iterations == 0 {
		c.Verify.Iterations = 3
	}
	if c.Verify.Pause == 0 {
		c.Verify.Pause = Duration(2 * time.Second)
	}
	if c.Race.HoldDuration == 0 {
		c.Race.HoldDuration = Duration(2 * time.Second)
	}
	if c.Race.PollInterval == 0 {
		c.Race.PollInterval = Duration(50 * time.Millisecond)
	}
	if c.Race.PollTimeout == 0 {
		c.Race.PollTimeout = Duration(500 * time.Millisecond)
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = PolicyModeEnforcing
	}
}

// Validate checks the struct tags and the cross-field rules the tags
// cannot express. All violations are reported together.
func (c *Config) Validate() error {
	var problems []string

	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, ve := range verrs {
			problems = append(problems, describeFieldError(ve))
		}
	}

	if c.Verify.Pause != 0 && c.Verify.Pause.Std() <= minVerifyPause {
		problems = append(problems, fmt.Sprintf(
			"verify.pause must be longer than %s (got %s); shorter pauses let file mtimes alias between iterations",
			minVerifyPause, c.Verify.Pause))
	}
	if c.Race.PollTimeout != 0 && c.Race.HoldDuration != 0 &&
		c.Race.PollTimeout.Std() >= c.Race.HoldDuration.Std() {
		problems = append(problems, fmt.Sprintf(
			"race.poll_timeout (%s) must be shorter than race.hold_duration (%s)",
			c.Race.PollTimeout, c.Race.HoldDuration))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

func describeFieldError(ve validator.FieldError) string {
	// Drop the root struct name; "verify.iterations" reads better than
	// "Config.verify.iterations".
	field := ve.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch ve.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required for this entry", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %q)", field, ve.Param(), ve.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s (got %v)", field, ve.Param(), ve.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got %v)", field, ve.Param(), ve.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, ve.Tag())
	}
}
