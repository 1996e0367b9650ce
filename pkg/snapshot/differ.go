package snapshot

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// maxExcerptLines caps how many changed lines a diff excerpt carries.
// Full domain content stays available in the serialized snapshots; the
// excerpt exists to make reports readable, not complete.
const maxExcerptLines = 20

// DiffResult describes how one domain differs between two snapshots.
type DiffResult struct {
	// Domain is the domain identifier.
	Domain string `json:"domain"`

	// Changed reports whether the domain differs at all.
	Changed bool `json:"changed"`

	// Excerpt is a bounded unified diff of the domain content. Empty
	// when the domain is unchanged, and also when it is present in only
	// one snapshot: there is no content pair to diff.
	Excerpt string `json:"excerpt,omitempty"`
}

// Compare produces one DiffResult per domain present in either snapshot,
// ordered by domain identifier. A domain present in only one snapshot is
// always a difference.
func Compare(a, b *Snapshot) []DiffResult {
	union := make(map[string]struct{}, len(a.Domains)+len(b.Domains))
	for id := range a.Domains {
		union[id] = struct{}{}
	}
	for id := range b.Domains {
		union[id] = struct{}{}
	}
	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]DiffResult, 0, len(ids))
	for _, id := range ids {
		linesA, inA := a.Domains[id]
		linesB, inB := b.Domains[id]
		switch {
		case !inA || !inB:
			results = append(results, DiffResult{Domain: id, Changed: true})
		case equalLines(linesA, linesB):
			results = append(results, DiffResult{Domain: id})
		default:
			results = append(results, DiffResult{
				Domain:  id,
				Changed: true,
				Excerpt: excerpt(linesA, linesB, a.Label+"/"+id, b.Label+"/"+id),
			})
		}
	}
	return results
}

// ChangedDomains returns the identifiers of the domains that differ.
func ChangedDomains(results []DiffResult) []string {
	var ids []string
	for _, r := range results {
		if r.Changed {
			ids = append(ids, r.Domain)
		}
	}
	return ids
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func excerpt(a, b []string, fromFile, toFile string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminated(a),
		B:        terminated(b),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return truncateExcerpt(text)
}

// terminated returns lines with trailing newlines, the shape difflib
// expects.
func terminated(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}

func truncateExcerpt(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	changed := 0
	for i, line := range lines {
		if !isChangeLine(line) {
			continue
		}
		changed++
		if changed > maxExcerptLines {
			return strings.Join(lines[:i], "\n") + "\n... excerpt truncated"
		}
	}
	return strings.Join(lines, "\n")
}

func isChangeLine(line string) bool {
	if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
		return false
	}
	return strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")
}
