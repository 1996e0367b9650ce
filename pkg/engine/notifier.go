package engine

import (
	"context"
	"time"

	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// Notifier receives run lifecycle hooks. Implementations must never
// escalate their own failures: a broken notifier is logged and the run
// outcome stands.
type Notifier interface {
	// Started fires after pre-flight passes, before the first phase.
	Started(ctx context.Context, label string)

	// Succeeded fires after the last phase completes.
	Succeeded(ctx context.Context, label string)

	// Failed fires from the failure handler with a message naming the
	// failed phase.
	Failed(ctx context.Context, label, message string)
}

// NopNotifier discards all hooks.
type NopNotifier struct{}

func (NopNotifier) Started(context.Context, string)        {}
func (NopNotifier) Succeeded(context.Context, string)      {}
func (NopNotifier) Failed(context.Context, string, string) {}

// LogNotifier writes run lifecycle hooks to the structured log.
type LogNotifier struct {
	logger *telemetry.Logger
}

// NewLogNotifier creates a notifier backed by the structured log.
func NewLogNotifier(logger *telemetry.Logger) *LogNotifier {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &LogNotifier{logger: logger.NewComponentLogger("notify")}
}

func (n *LogNotifier) Started(_ context.Context, label string) {
	n.logger.WithField("environment", label).Info("deployment started")
}

func (n *LogNotifier) Succeeded(_ context.Context, label string) {
	n.logger.WithField("environment", label).Info("deployment succeeded")
}

func (n *LogNotifier) Failed(_ context.Context, label, message string) {
	n.logger.WithField("environment", label).Error(message)
}

// notifyTimeout bounds a single hook command invocation.
const notifyTimeout = 30 * time.Second

// ExecNotifier invokes an external hook command with the event name, the
// environment label, and (for failures) the message as arguments. The
// same values are exported as DEPLOYCTL_EVENT, DEPLOYCTL_ENVIRONMENT, and
// DEPLOYCTL_MESSAGE.
type ExecNotifier struct {
	command string
	runner  shell.Runner
	logger  *telemetry.Logger
}

// NewExecNotifier creates a notifier that shells out to a hook command.
func NewExecNotifier(command string, runner shell.Runner, logger *telemetry.Logger) *ExecNotifier {
	if runner == nil {
		runner = shell.NewExecRunner()
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &ExecNotifier{
		command: command,
		runner:  runner,
		logger:  logger.NewComponentLogger("notify"),
	}
}

func (n *ExecNotifier) Started(ctx context.Context, label string) {
	n.invoke(ctx, "started", label, "")
}

func (n *ExecNotifier) Succeeded(ctx context.Context, label string) {
	n.invoke(ctx, "succeeded", label, "")
}

func (n *ExecNotifier) Failed(ctx context.Context, label, message string) {
	n.invoke(ctx, "failed", label, message)
}

// invoke runs the hook command detached from the run's cancellation so a
// terminated run still delivers its failure notification.
func (n *ExecNotifier) invoke(ctx context.Context, event, label, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	args := []string{event, label}
	if message != "" {
		args = append(args, message)
	}
	env := []string{
		"DEPLOYCTL_EVENT=" + event,
		"DEPLOYCTL_ENVIRONMENT=" + label,
		"DEPLOYCTL_MESSAGE=" + message,
	}

	res, err := n.runner.Run(ctx, n.command, args, shell.Options{Env: env})
	if err != nil {
		n.logger.WithError(err).WithField("command", n.command).Warn("notifier hook failed to start")
		return
	}
	if !res.Success() {
		n.logger.WithField("command", n.command).
			WithField("status", res.ExitStatus).
			Warn("notifier hook exited nonzero")
	}
}

// MultiNotifier fans hooks out to every member notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Started(ctx context.Context, label string) {
	for _, n := range m {
		n.Started(ctx, label)
	}
}

func (m MultiNotifier) Succeeded(ctx context.Context, label string) {
	for _, n := range m {
		n.Succeeded(ctx, label)
	}
}

func (m MultiNotifier) Failed(ctx context.Context, label, message string) {
	for _, n := range m {
		n.Failed(ctx, label, message)
	}
}
