package extract

import (
	"strings"
)

// replacementPhrases signal that a plain code block is the intended replacement.
var replacementPhrases = []string{
	"should be",
	"replace with",
	"change to",
	"use instead",
}

type fence struct {
	lang    string
	content string
}

// fences returns fenced code blocks in order. An unterminated fence runs to
// the end of the body.
func fences(body string) (blocks []fence, prose string) {
	var out strings.Builder
	var cur *fence
	var buf []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if cur == nil {
			if strings.HasPrefix(trimmed, "```") {
				lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				if i := strings.IndexAny(lang, " \t{"); i >= 0 {
					lang = lang[:i]
				}
				cur = &fence{lang: strings.ToLower(lang)}
				buf = buf[:0]
				continue
			}
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		if trimmed == "```" {
			cur.content = strings.Join(buf, "\n")
			blocks = append(blocks, *cur)
			cur = nil
			continue
		}
		buf = append(buf, line)
	}
	if cur != nil {
		cur.content = strings.Join(buf, "\n")
		blocks = append(blocks, *cur)
	}
	return blocks, out.String()
}

// suggestedFix picks the fix in priority order: diff block, suggestion block,
// then a language-tagged block accompanied by replacement phrasing.
func suggestedFix(body string) *SuggestedFix {
	blocks, prose := fences(body)

	for _, b := range blocks {
		if b.lang == "diff" {
			return &SuggestedFix{Kind: FixDiff, Language: "diff", Content: ApplyDiff(b.content), Committable: true}
		}
	}
	for _, b := range blocks {
		if b.lang == "suggestion" {
			return &SuggestedFix{Kind: FixSuggestion, Content: b.content, Committable: true}
		}
	}
	if !hasReplacementIntent(prose) {
		return nil
	}
	for _, b := range blocks {
		if b.lang != "" {
			return &SuggestedFix{Kind: FixProseCode, Language: b.lang, Content: b.content}
		}
	}
	return nil
}

func hasReplacementIntent(prose string) bool {
	lower := strings.ToLower(prose)
	for _, p := range replacementPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ApplyDiff reconstructs post-change content from a unified diff hunk body.
// Removed lines and hunk headers are dropped, added lines lose their "+"
// marker, and context lines are kept verbatim in order. File headers
// ("--- a/x", "+++ b/x") are dropped only before the first hunk.
func ApplyDiff(diff string) string {
	var out []string
	seenHunk := false
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			seenHunk = true
		case !seenHunk && (strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "--- ")):
		case strings.HasPrefix(line, "-"):
		case strings.HasPrefix(line, `\ No newline`):
		case strings.HasPrefix(line, "+"):
			out = append(out, line[1:])
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
