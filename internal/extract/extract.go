// Package extract turns free-text review bot comments into structured findings.
//
// Parsing is pattern based and deterministic: the same input always yields the
// same Finding and no I/O is performed.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/alanmeadows/rabbitloop/internal/classify"
)

// Severity of a finding.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// Rank orders severities from most (0) to least severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMinor:
		return 2
	default:
		return 3
	}
}

// FixKind tags the suggested-fix variant.
type FixKind string

const (
	FixDiff       FixKind = "diff"
	FixSuggestion FixKind = "suggestion"
	FixProseCode  FixKind = "prose_code"
)

// SuggestedFix is a proposed change carried by a comment.
type SuggestedFix struct {
	Kind     FixKind `json:"kind"`
	Language string  `json:"language,omitempty"`
	Content  string  `json:"content"`
	// Committable is false when a human must confirm the change.
	Committable bool `json:"committable"`
}

// Reference is a file location named in comment text.
type Reference struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Finding is the structured interpretation of one bot comment.
type Finding struct {
	RuleID            string        `json:"rule_id,omitempty"`
	Severity          Severity      `json:"severity"`
	Fix               *SuggestedFix `json:"fix,omitempty"`
	References        []Reference   `json:"references,omitempty"`
	SecuritySensitive bool          `json:"security_sensitive"`
	OutsideDiff       bool          `json:"outside_diff"`
	Summary           string        `json:"summary,omitempty"`
}

const maxSummaryRunes = 120

var (
	ruleRe     = regexp.MustCompile(`(?i)\brule\s*#\s*(\d+)`)
	severityRe = regexp.MustCompile(`(?i)\*\*[^*\w]*(critical|major|minor|suggestion)[^*\w]*\*\*`)
	cautionRe  = regexp.MustCompile(`(?i)outside the diff and can['’]?t be posted inline`)
)

// Parse extracts a Finding from a comment body.
func Parse(body string) Finding {
	f := Finding{
		RuleID:            ruleID(body),
		Severity:          severity(body),
		Fix:               suggestedFix(body),
		SecuritySensitive: classify.IsSecuritySensitive(body),
		OutsideDiff:       IsOutsideDiff(body),
		Summary:           summary(body),
	}
	if f.OutsideDiff {
		for _, r := range scanReferences(body) {
			f.References = append(f.References, r.Reference)
		}
	}
	return f
}

// ParseOutsideDiff splits an out-of-diff summary comment into one finding per
// referenced location. The text between consecutive references is parsed as
// that location's finding. A body without the caution sentence yields nil.
func ParseOutsideDiff(body string) []Finding {
	if !IsOutsideDiff(body) {
		return nil
	}
	refs := scanReferences(body)
	if len(refs) == 0 {
		return nil
	}

	// Segment boundaries follow text order, not priority order.
	ordered := append([]locatedRef(nil), refs...)
	sortByOffset(ordered)

	findings := make([]Finding, 0, len(ordered))
	for i, r := range ordered {
		end := len(body)
		if i+1 < len(ordered) {
			end = ordered[i+1].offset
		}
		segment := body[r.offset:end]
		f := Parse(segment)
		f.OutsideDiff = true
		f.References = []Reference{r.Reference}
		findings = append(findings, f)
	}
	return findings
}

// IsOutsideDiff reports whether body carries the bot's out-of-diff caution sentence.
func IsOutsideDiff(body string) bool {
	return cautionRe.MatchString(body)
}

func ruleID(body string) string {
	if m := ruleRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

func severity(body string) Severity {
	if m := severityRe.FindStringSubmatch(body); m != nil {
		return Severity(strings.ToLower(m[1]))
	}
	return SeverityMinor
}

// summary is the first prose line, stripped of emphasis and truncated.
func summary(body string) string {
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<") || strings.HasPrefix(trimmed, ">") {
			continue
		}
		text := strings.NewReplacer("**", "", "__", "", "`", "").Replace(trimmed)
		text = strings.Trim(text, "_* ")
		if text == "" || severityOnly(text) {
			continue
		}
		return truncate(text, maxSummaryRunes)
	}
	return ""
}

// severityOnly matches marker lines like "⚠️ Potential issue | 🟠 Major".
func severityOnly(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"potential issue", "refactor suggestion", "nitpick"} {
		if strings.Contains(lower, marker) && utf8.RuneCountInString(text) < 48 {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
