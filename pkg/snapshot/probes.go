package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mentat-ops/deployctl/pkg/shell"
)

// Domain identifiers for the built-in probes. Domain files on disk and
// diff output are keyed by these names.
const (
	DomainIdentities = "identities"
	DomainGroups     = "groups"
	DomainPackages   = "packages"
	DomainServices   = "services"
	DomainFiles      = "files"
	DomainFirewall   = "firewall"
	DomainSockets    = "sockets"
	DomainKernel     = "kernel"
	DomainCron       = "cron"
)

// UnavailableSentinel is recorded as the sole line of a domain whose
// probe could not observe its subsystem. It is distinct from the domain
// being absent from a snapshot entirely.
const UnavailableSentinel = "unavailable"

// probeTimeout bounds a single probe command. Probes own their waits;
// nothing above them cancels a capture mid-flight.
const probeTimeout = 15 * time.Second

// Probe captures one facet of observable host state.
type Probe interface {
	// Domain returns the stable identifier for the state this probe
	// observes.
	Domain() string

	// Collect returns the probe's view of current state as a
	// deterministically ordered list of lines. An error means the
	// subsystem could not be observed at all.
	Collect(ctx context.Context) ([]string, error)
}

// ProbeConfig carries the host-specific inputs the built-in probes need.
// Zero values select the conventional system paths.
type ProbeConfig struct {
	// PasswdPath is the account database. Defaults to /etc/passwd.
	PasswdPath string

	// GroupPath is the group database. Defaults to /etc/group.
	GroupPath string

	// CrontabPath is the system crontab. Defaults to /etc/crontab.
	CrontabPath string

	// CronDropInDir holds system cron fragments. Defaults to /etc/cron.d.
	CronDropInDir string

	// FileRoots are the filesystem roots the files domain inventories.
	FileRoots []string

	// CronUsers are the accounts whose per-user crontabs are captured.
	CronUsers []string
}

func (c *ProbeConfig) applyDefaults() {
	if c.PasswdPath == "" {
		c.PasswdPath = "/etc/passwd"
	}
	if c.GroupPath == "" {
		c.GroupPath = "/etc/group"
	}
	if c.CrontabPath == "" {
		c.CrontabPath = "/etc/crontab"
	}
	if c.CronDropInDir == "" {
		c.CronDropInDir = "/etc/cron.d"
	}
}

// DefaultProbes returns the full probe set in capture order.
func DefaultProbes(runner shell.Runner, cfg ProbeConfig) []Probe {
	cfg.applyDefaults()
	return []Probe{
		&identitiesProbe{path: cfg.PasswdPath},
		&groupsProbe{path: cfg.GroupPath},
		&packagesProbe{runner: runner},
		&servicesProbe{runner: runner},
		&filesProbe{roots: cfg.FileRoots},
		&firewallProbe{runner: runner},
		&socketsProbe{runner: runner},
		&kernelProbe{runner: runner},
		&cronProbe{
			runner:    runner,
			crontab:   cfg.CrontabPath,
			dropInDir: cfg.CronDropInDir,
			users:     cfg.CronUsers,
		},
	}
}

// probeFunc adapts a plain function to the Probe interface.
type probeFunc struct {
	domain string
	fn     func(ctx context.Context) ([]string, error)
}

// NewProbeFunc wraps fn as a Probe for the given domain.
func NewProbeFunc(domain string, fn func(ctx context.Context) ([]string, error)) Probe {
	return &probeFunc{domain: domain, fn: fn}
}

func (p *probeFunc) Domain() string { return p.domain }

func (p *probeFunc) Collect(ctx context.Context) ([]string, error) {
	return p.fn(ctx)
}

// identitiesProbe records user accounts as name:uid:gid:home:shell.
// The password and gecos fields are dropped: the first never holds state
// on shadow-aware systems and the second is free-form text.
type identitiesProbe struct {
	path string
}

func (p *identitiesProbe) Domain() string { return DomainIdentities }

func (p *identitiesProbe) Collect(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading account database: %w", err)
	}
	var lines []string
	for _, raw := range strings.Split(string(data), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		fields := strings.Split(raw, ":")
		if len(fields) < 7 {
			continue
		}
		lines = append(lines, strings.Join([]string{fields[0], fields[2], fields[3], fields[5], fields[6]}, ":"))
	}
	sort.Strings(lines)
	return lines, nil
}

// groupsProbe records groups as name:gid:members with the member list
// sorted so that reordering in the source file is not reported as drift.
type groupsProbe struct {
	path string
}

func (p *groupsProbe) Domain() string { return DomainGroups }

func (p *groupsProbe) Collect(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading group database: %w", err)
	}
	var lines []string
	for _, raw := range strings.Split(string(data), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		fields := strings.Split(raw, ":")
		if len(fields) < 4 {
			continue
		}
		var members []string
		for _, m := range strings.Split(fields[3], ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		sort.Strings(members)
		lines = append(lines, fields[0]+":"+fields[2]+":"+strings.Join(members, ","))
	}
	sort.Strings(lines)
	return lines, nil
}

// packagesProbe inventories installed packages, preferring dpkg and
// falling back to rpm.
type packagesProbe struct {
	runner shell.Runner
}

func (p *packagesProbe) Domain() string { return DomainPackages }

func (p *packagesProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "dpkg-query", "-W", "-f", "${Package}\t${Version}\n")
	if err != nil {
		out, err = p.runner.Output(ctx, "rpm", "-qa", "--qf", "%{NAME}\t%{VERSION}-%{RELEASE}\n")
		if err != nil {
			return nil, fmt.Errorf("no usable package manager: %w", err)
		}
	}
	lines := nonEmptyLines(out)
	sort.Strings(lines)
	return lines, nil
}

// servicesProbe records unit files as "name state". The vendor preset
// column is dropped: it describes the distribution default, not host
// state.
type servicesProbe struct {
	runner shell.Runner
}

func (p *servicesProbe) Domain() string { return DomainServices }

func (p *servicesProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "systemctl", "list-unit-files", "--type=service", "--no-legend", "--no-pager")
	if err != nil {
		return nil, fmt.Errorf("service manager unavailable: %w", err)
	}
	var lines []string
	for _, raw := range strings.Split(out, "\n") {
		fields := strings.Fields(raw)
		if len(fields) < 2 {
			continue
		}
		lines = append(lines, fields[0]+" "+fields[1])
	}
	sort.Strings(lines)
	return lines, nil
}

// filesProbe inventories the configured roots. Regular files are recorded
// with permissions, size, modification time truncated to whole seconds,
// and a content checksum; directories with permissions; symlinks with
// their target. A missing root is recorded as absent rather than treated
// as an error, since deployments legitimately create and remove roots.
type filesProbe struct {
	roots []string
}

func (p *filesProbe) Domain() string { return DomainFiles }

func (p *filesProbe) Collect(ctx context.Context) ([]string, error) {
	roots := append([]string(nil), p.roots...)
	sort.Strings(roots)

	var lines []string
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Lstat(root)
		if err != nil {
			lines = append(lines, root+"\tabsent")
			continue
		}
		if !info.IsDir() {
			lines = append(lines, describeEntry(root, info))
			continue
		}
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				lines = append(lines, path+"\terror")
				return nil
			}
			info, err := d.Info()
			if err != nil {
				lines = append(lines, path+"\terror")
				return nil
			}
			lines = append(lines, describeEntry(path, info))
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}
	sort.Strings(lines)
	return lines, nil
}

func describeEntry(path string, info fs.FileInfo) string {
	switch {
	case info.IsDir():
		return fmt.Sprintf("%s\td\t%04o", path, info.Mode().Perm())
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return path + "\terror"
		}
		return fmt.Sprintf("%s\tl\t-> %s", path, target)
	case info.Mode().IsRegular():
		sum, err := fileChecksum(path)
		if err != nil {
			return path + "\terror"
		}
		mtime := info.ModTime().Truncate(time.Second).Unix()
		return fmt.Sprintf("%s\tf\t%04o\t%d\t%d\t%s", path, info.Mode().Perm(), info.Size(), mtime, sum)
	default:
		return fmt.Sprintf("%s\t%s", path, info.Mode().String())
	}
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// firewallProbe captures the ruleset from nftables, falling back to
// iptables-save. Rule order is semantic for firewalls, so lines keep the
// tool's ordering instead of being sorted. The iptables-save header and
// footer comments carry timestamps and are stripped.
type firewallProbe struct {
	runner shell.Runner
}

func (p *firewallProbe) Domain() string { return DomainFirewall }

func (p *firewallProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "nft", "list", "ruleset")
	if err == nil {
		return nonEmptyLines(out), nil
	}
	out, err = p.runner.Output(ctx, "iptables-save")
	if err != nil {
		return nil, fmt.Errorf("no firewall tooling: %w", err)
	}
	var lines []string
	for _, raw := range strings.Split(out, "\n") {
		raw = strings.TrimRight(raw, " \t")
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		lines = append(lines, raw)
	}
	return lines, nil
}

// socketsProbe records listening sockets as "proto local-address". Queue
// depths and peer columns are volatile and excluded; process info is
// never requested.
type socketsProbe struct {
	runner shell.Runner
}

func (p *socketsProbe) Domain() string { return DomainSockets }

func (p *socketsProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "ss", "-H", "-tuln")
	if err != nil {
		return nil, fmt.Errorf("socket statistics unavailable: %w", err)
	}
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(out, "\n") {
		fields := strings.Fields(raw)
		if len(fields) < 5 {
			continue
		}
		seen[fields[0]+" "+fields[4]] = struct{}{}
	}
	lines := make([]string, 0, len(seen))
	for line := range seen {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return lines, nil
}

// Kernel parameters that change on their own between back-to-back reads.
var volatileKernelKeys = map[string]struct{}{
	"fs.dentry-state":    {},
	"fs.file-nr":         {},
	"fs.inode-nr":        {},
	"fs.inode-state":     {},
	"kernel.ns_last_pid": {},
	"kernel.pty.nr":      {},
}

var volatileKernelPrefixes = []string{
	"kernel.random.",
	"net.netfilter.nf_conntrack_",
}

// kernelProbe records sysctl parameters as key=value, excluding the
// known-volatile counters above.
type kernelProbe struct {
	runner shell.Runner
}

func (p *kernelProbe) Domain() string { return DomainKernel }

func (p *kernelProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "sysctl", "-e", "-a")
	if err != nil {
		return nil, fmt.Errorf("sysctl unavailable: %w", err)
	}
	var lines []string
	for _, raw := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(raw, " = ")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if volatileKernelKey(key) {
			continue
		}
		lines = append(lines, key+"="+value)
	}
	sort.Strings(lines)
	return lines, nil
}

func volatileKernelKey(key string) bool {
	if _, ok := volatileKernelKeys[key]; ok {
		return true
	}
	for _, prefix := range volatileKernelPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// cronProbe captures the system crontab, drop-in fragments, and the
// crontabs of the configured users. Each entry is prefixed with its
// source so that moving a job between files is visible. The domain is
// unavailable only when none of the sources can be observed; a user with
// no crontab simply contributes nothing.
type cronProbe struct {
	runner    shell.Runner
	crontab   string
	dropInDir string
	users     []string
}

func (p *cronProbe) Domain() string { return DomainCron }

func (p *cronProbe) Collect(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var lines []string
	observed := false

	if data, err := os.ReadFile(p.crontab); err == nil {
		observed = true
		for _, entry := range cronEntries(string(data)) {
			lines = append(lines, "crontab\t"+entry)
		}
	}

	if entries, err := os.ReadDir(p.dropInDir); err == nil {
		observed = true
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(p.dropInDir, e.Name()))
			if err != nil {
				lines = append(lines, "cron.d/"+e.Name()+"\terror")
				continue
			}
			for _, entry := range cronEntries(string(data)) {
				lines = append(lines, "cron.d/"+e.Name()+"\t"+entry)
			}
		}
	}

	users := append([]string(nil), p.users...)
	sort.Strings(users)
	for _, user := range users {
		res, err := p.runner.Run(ctx, "crontab", []string{"-l", "-u", user}, shell.Options{})
		if err != nil {
			continue
		}
		observed = true
		if res.ExitStatus != 0 {
			// No crontab for this user.
			continue
		}
		for _, entry := range cronEntries(res.Stdout) {
			lines = append(lines, "user/"+user+"\t"+entry)
		}
	}

	if !observed {
		return nil, errors.New("cron subsystem not observable")
	}
	sort.Strings(lines)
	return lines, nil
}

func cronEntries(content string) []string {
	var entries []string
	for _, raw := range strings.Split(content, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		entries = append(entries, raw)
	}
	return entries
}

func nonEmptyLines(content string) []string {
	var lines []string
	for _, raw := range strings.Split(content, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, strings.TrimRight(raw, " \t"))
	}
	return lines
}
