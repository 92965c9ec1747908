// Package conflict resolves merge conflicts between a PR branch and its base
// with a small, explainable per-file policy.
package conflict

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Strategy names how a file was resolved.
type Strategy string

const (
	StrategyRegenerate      Strategy = "regenerate"
	StrategyIncludeBoth     Strategy = "include_both"
	StrategyCurrentPriority Strategy = "current_priority"
	StrategyManual          Strategy = "manual"
)

// LineRange is an inclusive, 1-based span of lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Info is the three-way view of one conflicted file.
type Info struct {
	Path   string
	Ours   string
	Theirs string
	// Base is nil for add/add conflicts.
	Base          *string
	OursDeleted   bool
	TheirsDeleted bool
	OursCommit    string
	TheirsCommit  string
	MarkerRanges  []LineRange
}

// Result is the resolution of one file.
type Result struct {
	Path        string   `json:"path"`
	Success     bool     `json:"success"`
	Strategy    Strategy `json:"strategy"`
	Content     *string  `json:"-"`
	Citation    string   `json:"citation"`
	NeedsReview bool     `json:"needs_review"`
	Error       string   `json:"error,omitempty"`
}

// Analysis describes how the two sides changed relative to the base.
type Analysis struct {
	Overlapping   bool
	Complementary bool
}

// DefaultLockFiles are regenerated rather than merged.
var DefaultLockFiles = []string{
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "poetry.lock", "Pipfile.lock",
	"uv.lock", "Cargo.lock", "Gemfile.lock", "composer.lock", "go.sum",
}

// IsLockFile reports whether path's base name is in lockFiles.
func IsLockFile(path string, lockFiles []string) bool {
	return slices.Contains(lockFiles, filepath.Base(path))
}

// ResolveFile applies the per-file policy: lock files are regenerated,
// complementary non-overlapping edits are combined, and anything else keeps
// the current branch. Every path that drops incoming content says so in the
// citation.
func ResolveFile(info Info, lockFiles []string) Result {
	ours, theirs := short(info.OursCommit), short(info.TheirsCommit)

	if info.OursDeleted {
		return Result{
			Path:     info.Path,
			Strategy: StrategyManual,
			Citation: fmt.Sprintf("%s: deleted on current branch (%s) but changed on incoming (%s); manual resolution required",
				info.Path, ours, theirs),
			NeedsReview: true,
			Error:       "current branch deleted the file",
		}
	}

	if IsLockFile(info.Path, lockFiles) {
		return Result{
			Path:     info.Path,
			Success:  true,
			Strategy: StrategyRegenerate,
			Content:  ptr(info.Ours),
			Citation: fmt.Sprintf("%s: lock file; kept current branch version (%s), discarded incoming version (%s); regenerate after merging",
				info.Path, ours, theirs),
		}
	}

	if info.TheirsDeleted {
		return Result{
			Path:        info.Path,
			Success:     true,
			Strategy:    StrategyCurrentPriority,
			Content:     ptr(info.Ours),
			Citation:    fmt.Sprintf("%s: kept current branch (%s); discarded deletion of the file from incoming (%s)", info.Path, ours, theirs),
			NeedsReview: true,
		}
	}

	base := ""
	if info.Base != nil {
		base = *info.Base
	}
	a := Analyze(base, info.Ours, info.Theirs)
	if a.Complementary && !a.Overlapping {
		content, added := includeBoth(base, info.Ours, info.Theirs)
		return Result{
			Path:     info.Path,
			Success:  true,
			Strategy: StrategyIncludeBoth,
			Content:  ptr(content),
			Citation: fmt.Sprintf("%s: include_both; kept current branch (%s) and appended %d line(s) from incoming (%s); placement needs review",
				info.Path, ours, added, theirs),
			NeedsReview: true,
		}
	}

	discarded := discardedLines(info.Ours, info.Theirs)
	return Result{
		Path:     info.Path,
		Success:  true,
		Strategy: StrategyCurrentPriority,
		Content:  ptr(info.Ours),
		Citation: fmt.Sprintf("%s: current_priority; kept current branch (%s) verbatim, discarded %d incoming line(s) %s from %s",
			info.Path, ours, len(discarded), formatRanges(discarded), theirs),
		NeedsReview: true,
	}
}

// Analyze compares each side's line set against the base. The comparison is
// on sets, so ordering and duplicate lines are not considered.
func Analyze(base, ours, theirs string) Analysis {
	baseSet := lineSet(base)
	oursSet, theirsSet := lineSet(ours), lineSet(theirs)

	oursChanged := symmetricDiff(oursSet, baseSet)
	theirsChanged := symmetricDiff(theirsSet, baseSet)

	overlapping := false
	for l := range oursChanged {
		if theirsChanged[l] {
			overlapping = true
			break
		}
	}

	complementary := true
	for l := range baseSet {
		if !oursSet[l] && !theirsSet[l] {
			complementary = false
			break
		}
	}
	return Analysis{Overlapping: overlapping, Complementary: complementary}
}

// includeBoth appends incoming-only lines to the current content.
func includeBoth(base, ours, theirs string) (string, int) {
	baseSet, oursSet := lineSet(base), lineSet(ours)
	var extra []string
	seen := map[string]bool{}
	for _, l := range lines(theirs) {
		if baseSet[l] || oursSet[l] || seen[l] {
			continue
		}
		seen[l] = true
		extra = append(extra, l)
	}
	if len(extra) == 0 {
		return ours, 0
	}
	out := ours
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out + strings.Join(extra, "\n") + "\n", len(extra)
}

// discardedLines returns the 1-based incoming line numbers absent from ours.
func discardedLines(ours, theirs string) []int {
	oursSet := lineSet(ours)
	var out []int
	for i, l := range lines(theirs) {
		if !oursSet[l] {
			out = append(out, i+1)
		}
	}
	return out
}

// MarkerRanges finds conflict-marker blocks in a working-tree file.
func MarkerRanges(content string) []LineRange {
	var out []LineRange
	start := 0
	for i, l := range lines(content) {
		switch {
		case strings.HasPrefix(l, "<<<<<<<"):
			start = i + 1
		case strings.HasPrefix(l, ">>>>>>>") && start > 0:
			out = append(out, LineRange{Start: start, End: i + 1})
			start = 0
		}
	}
	return out
}

func formatRanges(nums []int) string {
	if len(nums) == 0 {
		return "(none)"
	}
	var parts []string
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(nums[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", nums[i], nums[j]))
		}
		i = j + 1
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func lineSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, l := range lines(s) {
		set[l] = true
	}
	return set
}

func symmetricDiff(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for l := range a {
		if !b[l] {
			out[l] = true
		}
	}
	for l := range b {
		if !a[l] {
			out[l] = true
		}
	}
	return out
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}

func ptr(s string) *string { return &s }
