package engine

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestRegistry_OrdinalOrder(t *testing.T) {
	phases := Registry()
	if len(phases) == 0 {
		t.Fatal("registry is empty")
	}
	seen := make(map[string]bool)
	for i, p := range phases {
		if p.Ordinal != i+1 {
			t.Errorf("phase %s ordinal = %d, want %d", p.ID, p.Ordinal, i+1)
		}
		if seen[p.ID] {
			t.Errorf("duplicate phase id %s", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestRegistry_FixedSequence(t *testing.T) {
	want := []string{
		"user_setup", "ssh_setup", "firewall", "secrets",
		"ssl_certificates", "app_deploy", "services", "monitoring",
	}
	if got := PhaseIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("PhaseIDs() = %v, want %v", got, want)
	}
}

func TestRegistry_DestructivePhases(t *testing.T) {
	want := map[string]bool{"firewall": true, "app_deploy": true, "services": true}
	for _, p := range Registry() {
		if p.Destructive != want[p.ID] {
			t.Errorf("phase %s destructive = %v, want %v", p.ID, p.Destructive, want[p.ID])
		}
	}
}

func TestRegistry_RequiresPrecedingPhases(t *testing.T) {
	for _, p := range Registry() {
		for _, req := range p.Requires {
			dep, ok := PhaseByID(req)
			if !ok {
				t.Errorf("phase %s requires unregistered phase %s", p.ID, req)
				continue
			}
			if dep.Ordinal >= p.Ordinal {
				t.Errorf("phase %s (ordinal %d) requires %s (ordinal %d), which does not precede it",
					p.ID, p.Ordinal, req, dep.Ordinal)
			}
		}
	}
}

func TestRegistry_ReturnsCopy(t *testing.T) {
	phases := Registry()
	phases[0].ID = "mutated"
	if got := Registry()[0].ID; got != "user_setup" {
		t.Errorf("registry mutated through returned slice: first id = %s", got)
	}
}

func TestPhaseByID(t *testing.T) {
	p, ok := PhaseByID("app_deploy")
	if !ok {
		t.Fatal("PhaseByID(app_deploy) not found")
	}
	if p.Ordinal != 6 || !p.Destructive || !p.HasRollback {
		t.Errorf("app_deploy = %+v, want ordinal 6, destructive, rollback", p)
	}
	if _, ok := PhaseByID("bogus"); ok {
		t.Error("PhaseByID(bogus) found")
	}
}

func TestPhase_Paths(t *testing.T) {
	p, _ := PhaseByID("firewall")
	if got, want := p.ScriptPath("/opt/deploy"), filepath.Join("/opt/deploy", "firewall.sh"); got != want {
		t.Errorf("ScriptPath() = %s, want %s", got, want)
	}
	if got, want := p.RollbackPath("/opt/deploy/rollback"), filepath.Join("/opt/deploy/rollback", "firewall.sh"); got != want {
		t.Errorf("RollbackPath() = %s, want %s", got, want)
	}
	if got := p.SkipFlag(); got != "skip-firewall" {
		t.Errorf("SkipFlag() = %s, want skip-firewall", got)
	}
}

func TestPhase_MonitoringHasNoRollback(t *testing.T) {
	p, _ := PhaseByID("monitoring")
	if p.HasRollback {
		t.Error("monitoring declares a rollback script")
	}
}

func TestSkipSet(t *testing.T) {
	s := NewSkipSet("ssh_setup", "monitoring")
	if !s.Has("ssh_setup") || !s.Has("monitoring") {
		t.Error("Has() missing members")
	}
	if s.Has("firewall") {
		t.Error("Has(firewall) = true")
	}
	if got, want := s.IDs(), []string{"monitoring", "ssh_setup"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
}

func TestSkipSet_Unknown(t *testing.T) {
	s := NewSkipSet("ssh_setup", "zz_bogus", "aa_bogus")
	if got, want := s.Unknown(), []string{"aa_bogus", "zz_bogus"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Unknown() = %v, want %v", got, want)
	}
	if got := NewSkipSet("firewall").Unknown(); got != nil {
		t.Errorf("Unknown() = %v, want nil", got)
	}
}
