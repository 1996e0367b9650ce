package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshot_SaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := &Snapshot{
		Label: "pre-1",
		Domains: map[string][]string{
			"identities": {"deploy:1001:1001:/home/deploy:/bin/bash", "root:0:0:/root:/bin/bash"},
			"files":      nil,
			"firewall":   {UnavailableSentinel},
		},
	}

	if err := snap.Save(dir); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	loaded, err := Load(dir, "pre-1")
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}

	if loaded.Label != "pre-1" {
		t.Errorf("expected label pre-1, got %q", loaded.Label)
	}
	if len(loaded.Domains) != 3 {
		t.Fatalf("expected 3 domains, got %d", len(loaded.Domains))
	}
	ids := loaded.Domains["identities"]
	if len(ids) != 2 || ids[0] != "deploy:1001:1001:/home/deploy:/bin/bash" {
		t.Errorf("unexpected identities content: %v", ids)
	}
	if lines := loaded.Domains["files"]; lines != nil {
		t.Errorf("expected empty domain to load as nil, got %v", lines)
	}
	if !loaded.Unavailable("firewall") {
		t.Error("expected firewall sentinel to survive the round trip")
	}

	// Comparing the saved snapshot against its loaded copy reports no
	// drift.
	for _, res := range Compare(snap, loaded) {
		if res.Changed {
			t.Errorf("domain %s changed across save/load:\n%s", res.Domain, res.Excerpt)
		}
	}
}

func TestSnapshot_Save_ByteIdentical(t *testing.T) {
	snap := &Snapshot{
		Label:   "capture",
		Domains: map[string][]string{"kernel": {"net.ipv4.ip_forward=1", "vm.swappiness=60"}},
	}

	dirA, dirB := t.TempDir(), t.TempDir()
	if err := snap.Save(dirA); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	if err := snap.Save(dirB); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	a, err := os.ReadFile(filepath.Join(dirA, "capture", "kernel"))
	if err != nil {
		t.Fatalf("failed to read domain file: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dirB, "capture", "kernel"))
	if err != nil {
		t.Fatalf("failed to read domain file: %v", err)
	}
	if string(a) != string(b) {
		t.Error("expected identical snapshots to serialize to identical bytes")
	}
	if string(a) != "net.ipv4.ip_forward=1\nvm.swappiness=60\n" {
		t.Errorf("unexpected serialized content: %q", string(a))
	}
}

func TestLoad_MissingSnapshot(t *testing.T) {
	if _, err := Load(t.TempDir(), "absent"); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

func TestSnapshot_DomainIDs_Sorted(t *testing.T) {
	snap := &Snapshot{Domains: map[string][]string{
		"sockets": nil, "cron": nil, "files": nil,
	}}

	ids := snap.DomainIDs()
	want := []string{"cron", "files", "sockets"}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestSnapshot_Unavailable(t *testing.T) {
	snap := &Snapshot{Domains: map[string][]string{
		"firewall": {UnavailableSentinel},
		"kernel":   {"vm.swappiness=60"},
	}}

	if !snap.Unavailable("firewall") {
		t.Error("expected firewall to be unavailable")
	}
	if snap.Unavailable("kernel") {
		t.Error("expected kernel to be available")
	}
	if snap.Unavailable("cron") {
		t.Error("expected absent domain to not report unavailable")
	}
}

func TestEngine_Capture_ProbeFailureRecordsSentinel(t *testing.T) {
	probes := []Probe{
		NewProbeFunc("kernel", func(ctx context.Context) ([]string, error) {
			return []string{"vm.swappiness=60"}, nil
		}),
		NewProbeFunc("firewall", func(ctx context.Context) ([]string, error) {
			return nil, errors.New("nft: command not found")
		}),
	}

	snap := NewEngine(probes).Capture(context.Background(), "pre-1")

	if len(snap.Domains) != 2 {
		t.Fatalf("expected both domains captured, got %d", len(snap.Domains))
	}
	if got := snap.Domains["kernel"]; len(got) != 1 || got[0] != "vm.swappiness=60" {
		t.Errorf("unexpected kernel content: %v", got)
	}
	if !snap.Unavailable("firewall") {
		t.Error("expected failing probe to record the sentinel, not abort the capture")
	}
	if snap.Label != "pre-1" {
		t.Errorf("expected label pre-1, got %q", snap.Label)
	}
}

func TestEngine_Capture_UnchangedStateComparesClean(t *testing.T) {
	probes := []Probe{
		NewProbeFunc("identities", func(ctx context.Context) ([]string, error) {
			return []string{"root:0:0:/root:/bin/bash"}, nil
		}),
		NewProbeFunc("services", func(ctx context.Context) ([]string, error) {
			return nil, errors.New("systemctl unavailable")
		}),
	}
	engine := NewEngine(probes)

	first := engine.Capture(context.Background(), "selfcheck-a")
	second := engine.Capture(context.Background(), "selfcheck-b")

	if changed := ChangedDomains(Compare(first, second)); len(changed) != 0 {
		t.Errorf("expected back-to-back captures to match, changed: %v", changed)
	}
}
