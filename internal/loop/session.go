package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/store"
)

// Session is the on-disk record of one loop run for a PR. It lets
// `loop run --once` resume across invocations and enforces the iteration
// budget over the whole run.
type Session struct {
	Path       string
	PR         int
	RunID      string
	Started    time.Time
	Updated    time.Time
	Iteration  int
	Status     Status
	LastAction Action
	// Recorded holds the keys of findings already sent to the tracker.
	Recorded []string
	History  []string
}

// SessionPath returns the session document path for pr under dir.
func SessionPath(dir string, pr int) string {
	return filepath.Join(dir, fmt.Sprintf("pr-%d.md", pr))
}

// LoadSession reads the session at path. ok is false when none exists.
func LoadSession(path string) (s *Session, ok bool, err error) {
	if !store.Exists(path) {
		return nil, false, nil
	}
	doc, err := store.ReadDocument(path)
	if err != nil {
		return nil, false, err
	}
	fm := doc.Frontmatter
	s = &Session{
		Path:       path,
		PR:         store.GetInt(fm, "pr"),
		RunID:      store.GetString(fm, "run_id"),
		Started:    store.GetTime(fm, "started"),
		Updated:    store.GetTime(fm, "updated"),
		Iteration:  store.GetInt(fm, "iteration"),
		Status:     Status(store.GetString(fm, "status")),
		LastAction: Action(store.GetString(fm, "last_action")),
	}
	if list, ok := fm["recorded"].([]any); ok {
		for _, v := range list {
			if k, ok := v.(string); ok {
				s.Recorded = append(s.Recorded, k)
			}
		}
	}
	for _, line := range strings.Split(doc.Body, "\n") {
		if entry, found := strings.CutPrefix(line, "- "); found {
			s.History = append(s.History, entry)
		}
	}
	return s, true, nil
}

// Finished reports whether the session ended with a terminal action other
// than a pause, which is expected to be resumed.
func (s *Session) Finished() bool {
	return s.LastAction.Terminal() && s.LastAction != ActionPause
}

// Record appends one history line and updates the counters.
func (s *Session) Record(now time.Time, iteration int, action Action, status Status, detail string) {
	s.Updated = now
	s.Iteration = iteration
	s.LastAction = action
	if status != "" {
		s.Status = status
	}
	line := fmt.Sprintf("%s iteration %d: %s", now.UTC().Format(time.RFC3339), iteration, action)
	if detail != "" {
		line += " (" + strings.ReplaceAll(detail, "\n", " ") + ")"
	}
	s.History = append(s.History, line)
}

// Save writes the session atomically.
func (s *Session) Save() error {
	doc := &store.Document{
		Frontmatter: map[string]any{
			"pr":          s.PR,
			"run_id":      s.RunID,
			"started":     store.FormatTime(s.Started),
			"updated":     store.FormatTime(s.Updated),
			"iteration":   s.Iteration,
			"status":      string(s.Status),
			"last_action": string(s.LastAction),
		},
	}
	if len(s.Recorded) > 0 {
		doc.Frontmatter["recorded"] = s.Recorded
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# rabbitloop session for PR #%d\n\n", s.PR)
	for _, h := range s.History {
		b.WriteString("- " + h + "\n")
	}
	doc.Body = b.String()
	return store.WriteDocument(s.Path, doc)
}

// Remove deletes the session document.
func (s *Session) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
