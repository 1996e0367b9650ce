package engine

import (
	"path/filepath"
	"sort"
)

// Phase is one named, ordered step of a deployment run. Phases are
// declared once in the static registry and never mutated; identity is the
// ID and the ordinal fixes the total execution order.
type Phase struct {
	// ID is the phase identifier. It names the phase script and appears
	// in logs, flags, and failure attribution.
	ID string `json:"id"`

	// Ordinal fixes the phase's position in the total order.
	Ordinal int `json:"ordinal"`

	// Summary is a one-line description for the phases listing.
	Summary string `json:"summary"`

	// Destructive marks phases that replace or remove live state. In
	// interactive mode these require confirmation before running.
	Destructive bool `json:"destructive"`

	// Requires lists phase ids that must run (or be deliberately
	// skipped) before this one. The registry keeps these consistent with
	// the ordinals; policies use them to judge skip-sets.
	Requires []string `json:"requires,omitempty"`

	// HasRollback indicates a compensation script is registered for the
	// phase.
	HasRollback bool `json:"has_rollback"`
}

// ScriptPath returns the phase body script under the scripts directory.
func (p Phase) ScriptPath(scriptsDir string) string {
	return filepath.Join(scriptsDir, p.ID+".sh")
}

// RollbackPath returns the compensation script under the rollback
// directory. Meaningful only when HasRollback is set.
func (p Phase) RollbackPath(rollbackDir string) string {
	return filepath.Join(rollbackDir, p.ID+".sh")
}

// SkipFlag returns the CLI flag name that excludes this phase from a run.
func (p Phase) SkipFlag() string {
	return "skip-" + p.ID
}

// registry is the fixed deployment sequence. Order here is the execution
// order; ordinals are assigned from it.
var registry = []Phase{
	{
		ID:          "user_setup",
		Summary:     "create service accounts and deployment users",
		HasRollback: true,
	},
	{
		ID:          "ssh_setup",
		Summary:     "install authorized keys and harden sshd",
		Requires:    []string{"user_setup"},
		HasRollback: true,
	},
	{
		ID:          "firewall",
		Summary:     "apply the host firewall ruleset",
		Destructive: true,
		Requires:    []string{"ssh_setup"},
		HasRollback: true,
	},
	{
		ID:          "secrets",
		Summary:     "distribute application secrets and environment files",
		Requires:    []string{"user_setup"},
		HasRollback: true,
	},
	{
		ID:          "ssl_certificates",
		Summary:     "obtain and install TLS certificates",
		Requires:    []string{"firewall"},
		HasRollback: true,
	},
	{
		ID:          "app_deploy",
		Summary:     "install the application release artifact",
		Destructive: true,
		Requires:    []string{"secrets", "ssl_certificates"},
		HasRollback: true,
	},
	{
		ID:          "services",
		Summary:     "install unit files and restart application services",
		Destructive: true,
		Requires:    []string{"app_deploy"},
		HasRollback: true,
	},
	{
		ID:      "monitoring",
		Summary: "register exporters and dashboards",
		Requires: []string{
			"services",
		},
	},
}

func init() {
	for i := range registry {
		registry[i].Ordinal = i + 1
	}
}

// Registry returns the fixed phase list in ordinal order. The returned
// slice is a copy; the registry itself is never mutated.
func Registry() []Phase {
	phases := make([]Phase, len(registry))
	copy(phases, registry)
	return phases
}

// PhaseByID looks up a registered phase.
func PhaseByID(id string) (Phase, bool) {
	for _, p := range registry {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseIDs returns the registered phase ids in ordinal order.
func PhaseIDs() []string {
	ids := make([]string, len(registry))
	for i, p := range registry {
		ids[i] = p.ID
	}
	return ids
}

// SkipSet is the set of phase ids excluded from a run. Membership is
// validated during pre-flight: every entry must name a registered phase.
type SkipSet map[string]bool

// NewSkipSet builds a skip-set from phase ids.
func NewSkipSet(ids ...string) SkipSet {
	s := make(SkipSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Has reports whether the phase id is in the set.
func (s SkipSet) Has(id string) bool {
	return s[id]
}

// IDs returns the set members sorted lexicographically.
func (s SkipSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unknown returns set members that do not name a registered phase,
// sorted lexicographically.
func (s SkipSet) Unknown() []string {
	var unknown []string
	for id := range s {
		if _, ok := PhaseByID(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}
