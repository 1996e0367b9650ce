package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// Snapshot is a labeled view of host state, one ordered line list per
// captured domain.
type Snapshot struct {
	// Label identifies the snapshot, typically namespaced by the run
	// that took it.
	Label string `json:"label"`

	// TakenAt is when the capture started. It is diagnostic only and is
	// not serialized with the domain content.
	TakenAt time.Time `json:"taken_at"`

	// Domains maps domain identifier to captured lines.
	Domains map[string][]string `json:"domains"`
}

// DomainIDs returns the captured domain identifiers in lexicographic
// order.
func (s *Snapshot) DomainIDs() []string {
	ids := make([]string, 0, len(s.Domains))
	for id := range s.Domains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unavailable reports whether the named domain was captured as the
// unavailable sentinel.
func (s *Snapshot) Unavailable(domain string) bool {
	lines, ok := s.Domains[domain]
	return ok && len(lines) == 1 && lines[0] == UnavailableSentinel
}

// Save writes the snapshot under dir as one file per domain, named
// dir/<label>/<domain>. Identical host state serializes to byte-identical
// files.
func (s *Snapshot) Save(dir string) error {
	target := filepath.Join(dir, s.Label)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	for _, id := range s.DomainIDs() {
		var b strings.Builder
		for _, line := range s.Domains[id] {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if err := os.WriteFile(filepath.Join(target, id), []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("writing domain %s: %w", id, err)
		}
	}
	return nil
}

// Load reads a snapshot previously written by Save.
func Load(dir, label string) (*Snapshot, error) {
	target := filepath.Join(dir, label)
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	snap := &Snapshot{Label: label, Domains: make(map[string][]string)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(target, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading domain %s: %w", e.Name(), err)
		}
		content := strings.TrimSuffix(string(data), "\n")
		if content == "" {
			snap.Domains[e.Name()] = nil
			continue
		}
		snap.Domains[e.Name()] = strings.Split(content, "\n")
	}
	return snap, nil
}

// Engine runs a probe set to produce snapshots.
type Engine struct {
	probes []Probe
	logger *telemetry.Logger
}

// NewEngine returns an Engine over the given probes.
func NewEngine(probes []Probe) *Engine {
	return &Engine{probes: probes}
}

// WithLogger attaches a logger for per-probe diagnostics.
func (e *Engine) WithLogger(logger *telemetry.Logger) *Engine {
	e.logger = logger
	return e
}

// Capture takes a snapshot of every registered domain. A probe failure
// never aborts the capture: the failing domain is recorded as the
// unavailable sentinel and capture continues, so two captures over the
// same probe set always cover the same domains.
func (e *Engine) Capture(ctx context.Context, label string) *Snapshot {
	tel := telemetry.FromTelemetryContext(ctx)
	var span trace.Span
	if tel != nil && tel.Tracer != nil {
		ctx, span = tel.Tracer.StartCaptureSpan(ctx, label)
		defer span.End()
	}

	snap := &Snapshot{
		Label:   label,
		TakenAt: time.Now(),
		Domains: make(map[string][]string, len(e.probes)),
	}

	partial := false
	for _, probe := range e.probes {
		domain := probe.Domain()
		var lines []string
		err := telemetry.RecordProbeOperation(ctx, domain, func() error {
			var probeErr error
			lines, probeErr = probe.Collect(ctx)
			return probeErr
		})
		if err != nil {
			partial = true
			snap.Domains[domain] = []string{UnavailableSentinel}
			if e.logger != nil {
				e.logger.WithDomain(domain).WithError(err).Warn("probe unavailable")
			}
			continue
		}
		snap.Domains[domain] = lines
	}

	if tel != nil && tel.Metrics != nil {
		outcome := "complete"
		if partial {
			outcome = "partial"
		}
		tel.Metrics.RecordSnapshotCaptured(outcome)
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("snapshot.partial", partial))
		telemetry.RecordSuccess(span)
	}
	if e.logger != nil {
		e.logger.WithField("label", label).
			WithField("domains", len(snap.Domains)).
			Debug("snapshot captured")
	}
	return snap
}
