package loop

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// Action is what an iteration did or why the loop stopped.
type Action string

const (
	ActionWait               Action = "wait"
	ActionFix                Action = "fix"
	ActionResolveThreads     Action = "resolve_threads"
	ActionConflictResolution Action = "conflict_resolution"

	// Terminal actions.
	ActionClean      Action = "clean"
	ActionClosed     Action = "closed"
	ActionExitSignal Action = "exit_signal"
	ActionPause      Action = "pause"
	ActionEscalate   Action = "escalate"
	// ActionPushRequired stops the loop until local commits reach the host,
	// which still reports the PR as conflicting until then.
	ActionPushRequired Action = "push_required"
	ActionNotOwned   Action = "not_owned"
	ActionError      Action = "error"
)

// Terminal reports whether a stops the loop.
func (a Action) Terminal() bool {
	switch a {
	case ActionClean, ActionClosed, ActionExitSignal, ActionPause, ActionEscalate, ActionPushRequired, ActionNotOwned, ActionError:
		return true
	}
	return false
}

// Entry kinds.
const (
	KindAudit   = "audit"
	KindSummary = "summary"
)

// AuditEntry is the machine-readable header of an audit comment.
type AuditEntry struct {
	Kind      string            `json:"kind"`
	RunID     string            `json:"run_id"`
	PR        int               `json:"pr"`
	Iteration int               `json:"iteration"`
	Action    Action            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

const auditMarker = "rabbitloop:audit"

var auditHeaderRe = regexp.MustCompile(`<!--\s*` + regexp.QuoteMeta(auditMarker) + `\s+(\{.*?\})\s*-->`)

// IsAuditComment reports whether body carries an audit header.
func IsAuditComment(body string) bool {
	return auditHeaderRe.MatchString(body)
}

// FormatAuditComment renders e as a PR comment with a JSON header and a
// human-readable table.
func FormatAuditComment(e AuditEntry) (string, error) {
	if e.Kind == "" {
		e.Kind = KindAudit
	}
	header, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding audit header: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- %s %s -->\n", auditMarker, header)
	fmt.Fprintf(&b, "### rabbitloop: %s\n\n", e.Action)
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Run | `%s` |\n", e.RunID)
	fmt.Fprintf(&b, "| Iteration | %d |\n", e.Iteration)
	fmt.Fprintf(&b, "| Time | %s |\n", e.Timestamp.UTC().Format(time.RFC3339))
	for _, k := range sortedKeys(e.Details) {
		fmt.Fprintf(&b, "| %s | %s |\n", k, tableCell(e.Details[k]))
	}
	return b.String(), nil
}

// Summary is the final record posted when the loop terminates.
type Summary struct {
	Final   AuditEntry
	History []AuditEntry
}

// FormatSummary renders the final summary comment. Its header is an audit
// entry of kind summary, so it shows up in History like any other entry.
func FormatSummary(s Summary) (string, error) {
	final := s.Final
	final.Kind = KindSummary
	body, err := FormatAuditComment(final)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(body)
	if len(s.History) > 0 {
		b.WriteString("\n#### Decision history\n\n| # | Time | Action | Details |\n|---|---|---|---|\n")
		for _, e := range s.History {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n",
				e.Iteration, e.Timestamp.UTC().Format(time.RFC3339), e.Action, tableCell(formatDetails(e.Details)))
		}
	}
	return b.String(), nil
}

// ParseAuditComment extracts the header from an audit comment.
func ParseAuditComment(body string) (AuditEntry, bool) {
	m := auditHeaderRe.FindStringSubmatch(body)
	if m == nil {
		return AuditEntry{}, false
	}
	var e AuditEntry
	if err := json.Unmarshal([]byte(m[1]), &e); err != nil {
		return AuditEntry{}, false
	}
	if e.Kind == "" {
		e.Kind = KindAudit
	}
	return e, true
}

// History reconstructs the decision log from PR comments, oldest first.
// When runID is set only that run's entries are returned.
func History(comments []provider.Comment, runID string) []AuditEntry {
	var out []AuditEntry
	for _, c := range comments {
		e, ok := ParseAuditComment(c.Body)
		if !ok || (runID != "" && e.RunID != runID) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func formatDetails(m map[string]string) string {
	var parts []string
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, "; ")
}

// tableCell keeps a value on one markdown table row.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "<br>")
}
