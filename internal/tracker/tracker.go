// Package tracker accumulates bot findings across PRs and periodically
// turns recurring ones into improvement suggestions.
package tracker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/extract"
	"github.com/alanmeadows/rabbitloop/internal/store"
)

// Record is one stored finding summary.
type Record struct {
	PR         int              `json:"pr"`
	RuleID     string           `json:"rule_id,omitempty"`
	Severity   extract.Severity `json:"severity"`
	Path       string           `json:"path,omitempty"`
	Summary    string           `json:"summary,omitempty"`
	Security   bool             `json:"security,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// FromFinding builds a Record. path is the thread location when the finding
// carries no reference of its own.
func FromFinding(pr int, path string, f extract.Finding) Record {
	if path == "" && len(f.References) > 0 {
		path = f.References[0].Path
	}
	return Record{
		PR:       pr,
		RuleID:   f.RuleID,
		Severity: f.Severity,
		Path:     path,
		Summary:  f.Summary,
		Security: f.SecuritySensitive,
	}
}

// Count is one aggregation bucket.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Analysis is the persisted result of the last trend analysis.
type Analysis struct {
	At         time.Time `json:"at"`
	PRs        int       `json:"prs"`
	Findings   int       `json:"findings"`
	ByRule     []Count   `json:"by_rule"`
	ByFile     []Count   `json:"by_file"`
	BySeverity []Count   `json:"by_severity"`
}

// State is the persisted tracker document.
type State struct {
	PRCount      int       `json:"pr_count"`
	Findings     []Record  `json:"findings"`
	LastAnalysis *Analysis `json:"last_analysis,omitempty"`
}

// Suggestion is a heuristic improvement for a recurring rule or file.
type Suggestion struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Options configure a Tracker.
type Options struct {
	MaxFindings int
	// Interval is the number of PRs between analyses.
	Interval  int
	MinRepeat int
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxFindings <= 0 {
		o.MaxFindings = 500
	}
	if o.Interval <= 0 {
		o.Interval = 5
	}
	if o.MinRepeat <= 0 {
		o.MinRepeat = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Tracker owns the tracker document. Every mutation is an exclusive
// read-modify-write transaction in the backend.
type Tracker struct {
	doc  *store.Persisted[State]
	opts Options
}

// New binds a Tracker to key in backend.
func New(backend store.Backend, key string, opts Options) *Tracker {
	return &Tracker{
		doc:  store.NewPersisted(backend, key, func() State { return State{} }),
		opts: opts.withDefaults(),
	}
}

// Record appends records, evicting the oldest beyond the cap.
func (t *Tracker) Record(ctx context.Context, records ...Record) (State, error) {
	now := t.opts.Now().UTC()
	return t.doc.Update(ctx, func(s *State) error {
		for _, r := range records {
			if r.RecordedAt.IsZero() {
				r.RecordedAt = now
			}
			if r.Severity == "" {
				r.Severity = extract.SeverityMinor
			}
			s.Findings = append(s.Findings, r)
		}
		if over := len(s.Findings) - t.opts.MaxFindings; over > 0 {
			s.Findings = slices.Clone(s.Findings[over:])
		}
		return nil
	})
}

// Increment bumps the PR counter since the last suggestion pass.
func (t *Tracker) Increment(ctx context.Context) (State, error) {
	return t.doc.Update(ctx, func(s *State) error {
		s.PRCount++
		return nil
	})
}

// Due reports whether enough PRs were processed to run an analysis.
func (t *Tracker) Due(ctx context.Context) bool {
	return t.doc.Snapshot(ctx).PRCount >= t.opts.Interval
}

// Analyze aggregates the stored findings and persists the summary. History
// is kept.
func (t *Tracker) Analyze(ctx context.Context) (Analysis, error) {
	var a Analysis
	_, err := t.doc.Update(ctx, func(s *State) error {
		a = aggregate(s, t.opts.Now().UTC())
		s.LastAnalysis = &a
		return nil
	})
	return a, err
}

// Suggest emits suggestions for rules and files seen at least MinRepeat
// times, then resets the counter and clears history.
func (t *Tracker) Suggest(ctx context.Context) ([]Suggestion, error) {
	var out []Suggestion
	_, err := t.doc.Update(ctx, func(s *State) error {
		a := aggregate(s, t.opts.Now().UTC())
		out = t.suggestions(a)
		s.LastAnalysis = &a
		s.PRCount = 0
		s.Findings = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PreviewSuggestions returns what Suggest would emit without changing state.
func (t *Tracker) PreviewSuggestions(ctx context.Context) []Suggestion {
	s := t.doc.Snapshot(ctx)
	return t.suggestions(aggregate(&s, t.opts.Now().UTC()))
}

func (t *Tracker) suggestions(a Analysis) []Suggestion {
	var out []Suggestion
	for _, c := range a.ByRule {
		if c.Count >= t.opts.MinRepeat {
			out = append(out, Suggestion{
				Kind: "rule", Key: c.Key, Count: c.Count,
				Message: fmt.Sprintf("Rule #%s was flagged %d times; add it to the project guidelines or enforce it with a linter", c.Key, c.Count),
			})
		}
	}
	for _, c := range a.ByFile {
		if c.Count >= t.opts.MinRepeat {
			out = append(out, Suggestion{
				Kind: "file", Key: c.Key, Count: c.Count,
				Message: fmt.Sprintf("%s drew %d findings; consider refactoring it or adding focused tests", c.Key, c.Count),
			})
		}
	}
	return out
}

// Reset restores the default state.
func (t *Tracker) Reset(ctx context.Context) error {
	_, err := t.doc.Update(ctx, func(s *State) error {
		*s = State{}
		return nil
	})
	return err
}

// Snapshot reads the state without locking.
func (t *Tracker) Snapshot(ctx context.Context) State {
	return t.doc.Snapshot(ctx)
}

func aggregate(s *State, now time.Time) Analysis {
	byRule, byFile, bySeverity := map[string]int{}, map[string]int{}, map[string]int{}
	for _, r := range s.Findings {
		if r.RuleID != "" {
			byRule[r.RuleID]++
		}
		if r.Path != "" {
			byFile[r.Path]++
		}
		bySeverity[string(r.Severity)]++
	}
	return Analysis{
		At:         now,
		PRs:        s.PRCount,
		Findings:   len(s.Findings),
		ByRule:     sortedCounts(byRule),
		ByFile:     sortedCounts(byFile),
		BySeverity: sortedCounts(bySeverity),
	}
}

// sortedCounts orders by count descending, then key.
func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}
