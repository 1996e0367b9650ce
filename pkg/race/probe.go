package race

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

const (
	// defaultHold keeps the winner on the lock long enough that the
	// second attempt is guaranteed to start inside the hold, even under
	// process spawn latency.
	defaultHold = 2 * time.Second

	// defaultWindow bounds the loser's polling. It must stay well under
	// the hold so a slow loser cannot acquire after the winner releases.
	defaultWindow = 500 * time.Millisecond

	defaultRetry = 50 * time.Millisecond
)

// Config wires a Probe.
type Config struct {
	// Launcher runs the attempts. Nil selects in-process attempts.
	Launcher Launcher

	// Hold is how long the winning attempt keeps the lock. Zero selects
	// the default.
	Hold time.Duration

	// Window bounds each attempt's lock polling. Zero selects the
	// default. The window must be shorter than the hold.
	Window time.Duration

	// Retry is the polling interval. Zero selects the default.
	Retry time.Duration

	// Logger receives probe diagnostics.
	Logger *telemetry.Logger
}

// Probe races concurrent acquisition attempts against lock resources and
// checks the outcomes against exactly-one-winner semantics.
type Probe struct {
	launcher Launcher
	hold     time.Duration
	window   time.Duration
	retry    time.Duration
	logger   *telemetry.Logger
}

// New creates a concurrency probe.
func New(cfg Config) (*Probe, error) {
	if cfg.Launcher == nil {
		cfg.Launcher = InProcessLauncher{}
	}
	if cfg.Hold <= 0 {
		cfg.Hold = defaultHold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Retry <= 0 {
		cfg.Retry = defaultRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Window >= cfg.Hold {
		return nil, fmt.Errorf("polling window %s must be shorter than the hold %s, or the attempts can acquire back to back instead of racing", cfg.Window, cfg.Hold)
	}
	return &Probe{
		launcher: cfg.Launcher,
		hold:     cfg.Hold,
		window:   cfg.Window,
		retry:    cfg.Retry,
		logger:   cfg.Logger.NewComponentLogger("race-probe"),
	}, nil
}

// Exclusivity races two attempts against one resource and verifies that
// exactly one acquires it, the other reports contention with the
// dedicated status inside its bounded window, and the resource ends up
// stamped with the winner's token.
func (p *Probe) Exclusivity(ctx context.Context, resource string) error {
	suffix := uuid.New().String()[:8]
	specs := []AttemptSpec{
		p.spec(resource, "attempt-a-"+suffix),
		p.spec(resource, "attempt-b-"+suffix),
	}

	outcomes := p.launch(ctx, specs)
	p.record(ctx, "exclusivity", outcomes)
	if err := transportErr(outcomes); err != nil {
		return err
	}

	var winners, losers []Outcome
	for _, o := range outcomes {
		if o.Acquired {
			winners = append(winners, o)
		} else {
			losers = append(losers, o)
		}
	}
	switch len(winners) {
	case 1:
	case 2:
		return fmt.Errorf("exclusivity violated: both attempts acquired %s", resource)
	default:
		return fmt.Errorf("exclusivity probe inconclusive: neither attempt acquired %s (statuses %d and %d)",
			resource, outcomes[0].ExitStatus, outcomes[1].ExitStatus)
	}
	if losers[0].ExitStatus != engine.ExitLockContention {
		return fmt.Errorf("contending attempt exited %d, want %d", losers[0].ExitStatus, engine.ExitLockContention)
	}

	token, err := readToken(resource)
	if err != nil {
		return err
	}
	if token != winners[0].Token {
		return fmt.Errorf("resource %s holds token %q after the race, want the winner's %q", resource, token, winners[0].Token)
	}

	p.logger.WithField("resource", resource).Debug("exclusivity probe passed")
	return nil
}

// Independence races one attempt per resource against two distinct
// resources and verifies both acquire without contention and neither
// resource ends up stamped with the other holder's token.
func (p *Probe) Independence(ctx context.Context, resourceA, resourceB string) error {
	if resourceA == resourceB {
		return fmt.Errorf("independence probe needs two distinct resources, got %s twice", resourceA)
	}

	suffix := uuid.New().String()[:8]
	specs := []AttemptSpec{
		p.spec(resourceA, "holder-a-"+suffix),
		p.spec(resourceB, "holder-b-"+suffix),
	}

	outcomes := p.launch(ctx, specs)
	p.record(ctx, "independence", outcomes)
	if err := transportErr(outcomes); err != nil {
		return err
	}

	for i, o := range outcomes {
		if !o.Acquired {
			return fmt.Errorf("independence violated: attempt on %s observed contention (status %d) with no competing holder",
				specs[i].Resource, o.ExitStatus)
		}
	}
	for i, o := range outcomes {
		token, err := readToken(specs[i].Resource)
		if err != nil {
			return err
		}
		if token != o.Token {
			return fmt.Errorf("cross-talk: resource %s holds token %q, want its own holder's %q",
				specs[i].Resource, token, o.Token)
		}
	}

	p.logger.WithField("resource_a", resourceA).WithField("resource_b", resourceB).
		Debug("independence probe passed")
	return nil
}

func (p *Probe) spec(resource, token string) AttemptSpec {
	return AttemptSpec{
		Resource: resource,
		Token:    token,
		Hold:     p.hold,
		Window:   p.window,
		Retry:    p.retry,
	}
}

// launch starts every attempt concurrently and waits for all of them.
func (p *Probe) launch(ctx context.Context, specs []AttemptSpec) []Outcome {
	outcomes := make([]Outcome, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec AttemptSpec) {
			defer wg.Done()
			outcomes[i] = p.launcher.Launch(ctx, spec)
		}(i, spec)
	}
	wg.Wait()
	return outcomes
}

func (p *Probe) record(ctx context.Context, mode string, outcomes []Outcome) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	for _, o := range outcomes {
		outcome := "contended"
		switch {
		case o.Acquired:
			outcome = "acquired"
		case o.Err != nil || o.ExitStatus != engine.ExitLockContention:
			outcome = "error"
		}
		tel.Metrics.RecordRaceAttempt(mode, outcome)
	}
}

func transportErr(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return fmt.Errorf("attempt %s could not run: %w", o.Token, o.Err)
		}
	}
	return nil
}

func readToken(resource string) (string, error) {
	data, err := os.ReadFile(resource)
	if err != nil {
		return "", fmt.Errorf("reading resource state: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
