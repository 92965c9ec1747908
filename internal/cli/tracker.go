package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/extract"
	"github.com/alanmeadows/rabbitloop/internal/tracker"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Track recurring bot findings across PRs",
	Long: `The pattern tracker keeps a bounded log of bot findings and a count of
processed PRs. Once enough PRs have gone by, analyze summarizes the findings
by rule, file and severity, and suggest turns recurring ones into
improvement suggestions.`,
}

var (
	recordPath     string
	recordRule     string
	recordSeverity string
	recordSummary  string
	recordSecurity bool
	recordBody     string
)

func init() {
	f := trackerRecordCmd.Flags()
	f.StringVar(&recordPath, "path", "", "File the finding points at")
	f.StringVar(&recordRule, "rule", "", "Rule number")
	f.StringVar(&recordSeverity, "severity", "", "critical, major, minor or suggestion")
	f.StringVar(&recordSummary, "summary", "", "One-line summary")
	f.BoolVar(&recordSecurity, "security", false, "Mark the finding security-sensitive")
	f.StringVar(&recordBody, "body", "", "Bot comment body to parse instead of the flags above (\"-\" reads stdin)")

	trackerCmd.AddCommand(trackerRecordCmd)
	trackerCmd.AddCommand(trackerIncrementCmd)
	trackerCmd.AddCommand(trackerCheckCmd)
	trackerCmd.AddCommand(trackerAnalyzeCmd)
	trackerCmd.AddCommand(trackerSuggestCmd)
	trackerCmd.AddCommand(trackerResetCmd)
	trackerCmd.AddCommand(trackerShowCmd)
}

// withTracker opens the workspace tracker for one command.
func withTracker(cmd *cobra.Command, fn func(t *tracker.Tracker) error) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()
	t, err := w.tracker(cmd.Context())
	if err != nil {
		return err
	}
	return fn(t)
}

func recordFromFlags(cmd *cobra.Command) (tracker.Record, error) {
	pr, err := prNumberOffline()
	if err != nil {
		return tracker.Record{}, err
	}
	if recordBody != "" {
		body := recordBody
		if body == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return tracker.Record{}, fmt.Errorf("reading comment body: %w", err)
			}
			body = string(data)
		}
		return tracker.FromFinding(pr, recordPath, extract.Parse(body)), nil
	}

	sev := extract.Severity(recordSeverity)
	switch sev {
	case "", extract.SeverityCritical, extract.SeverityMajor, extract.SeverityMinor, extract.SeveritySuggestion:
	default:
		return tracker.Record{}, fmt.Errorf("unknown severity %q (want critical, major, minor or suggestion)", recordSeverity)
	}
	if recordRule == "" && recordPath == "" && recordSummary == "" {
		return tracker.Record{}, errors.New("nothing to record: pass --body or at least one of --rule, --path, --summary")
	}
	return tracker.Record{
		PR:       pr,
		RuleID:   recordRule,
		Severity: sev,
		Path:     recordPath,
		Summary:  recordSummary,
		Security: recordSecurity,
	}, nil
}

var trackerRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one finding",
	Example: `  rabbitloop tracker record --pr 42 --rule 7 --severity major --path auth.go
  gh api .../comments/123 --jq .body | rabbitloop tracker record --pr 42 --body -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := recordFromFlags(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if dryRun {
			return emit(out, rec, func() { fmt.Fprintf(out, "Dry run: would record %s\n", describeRecord(rec)) })
		}
		return withTracker(cmd, func(t *tracker.Tracker) error {
			state, err := t.Record(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return emit(out, state, func() {
				fmt.Fprintf(out, "Recorded %s (%d finding(s) stored)\n", describeRecord(rec), len(state.Findings))
			})
		})
	},
}

var trackerIncrementCmd = &cobra.Command{
	Use:   "increment",
	Short: "Count one more processed PR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			out := cmd.OutOrStdout()
			if dryRun {
				next := t.Snapshot(cmd.Context()).PRCount + 1
				return emit(out, map[string]any{"pr_count": next, "dry_run": true}, func() {
					fmt.Fprintf(out, "Dry run: PR count would be %d\n", next)
				})
			}
			state, err := t.Increment(cmd.Context())
			if err != nil {
				return err
			}
			return emit(out, state, func() { fmt.Fprintf(out, "PR count: %d\n", state.PRCount) })
		})
	},
}

var trackerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether an analysis is due",
	Long:  `Exits 1 when enough PRs were processed since the last suggestion pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			ctx := cmd.Context()
			due := t.Due(ctx)
			state := t.Snapshot(ctx)
			out := cmd.OutOrStdout()
			if err := emit(out, map[string]any{"due": due, "pr_count": state.PRCount, "findings": len(state.Findings)}, func() {
				if due {
					fmt.Fprintf(out, "Analysis due: %d PR(s), %d finding(s)\n", state.PRCount, len(state.Findings))
					return
				}
				fmt.Fprintf(out, "Analysis not due: %d PR(s) processed\n", state.PRCount)
			}); err != nil {
				return err
			}
			if due {
				return found()
			}
			return nil
		})
	},
}

var trackerAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize stored findings by rule, file and severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			a, err := t.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return emit(out, a, func() { printAnalysis(out, a) })
		})
	},
}

var trackerSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Emit suggestions for recurring findings and start a new window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			var suggestions []tracker.Suggestion
			if dryRun {
				suggestions = t.PreviewSuggestions(cmd.Context())
			} else {
				var err error
				if suggestions, err = t.Suggest(cmd.Context()); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			return emit(out, suggestions, func() {
				if len(suggestions) == 0 {
					fmt.Fprintln(out, "No recurring findings.")
					return
				}
				for _, s := range suggestions {
					fmt.Fprintf(out, "- %s\n", s.Message)
				}
			})
		})
	},
}

var trackerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all tracker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintln(out, "Dry run: tracker state would be cleared")
				return nil
			}
			if err := t.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "Tracker reset")
			return nil
		})
	},
}

var trackerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored tracker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(t *tracker.Tracker) error {
			state := t.Snapshot(cmd.Context())
			out := cmd.OutOrStdout()
			return emit(out, state, func() {
				printField(out, "PRs since last suggestion", state.PRCount)
				printField(out, "Stored findings", len(state.Findings))
				if state.LastAnalysis != nil {
					printField(out, "Last analysis", state.LastAnalysis.At.Local().Format("2006-01-02 15:04"))
				}
				if len(state.Findings) == 0 {
					return
				}
				rows := make([][]string, 0, len(state.Findings))
				for _, r := range state.Findings {
					rows = append(rows, []string{fmt.Sprintf("#%d", r.PR), r.RuleID, string(r.Severity), r.Path, r.Summary})
				}
				printTable(out, []string{"PR", "Rule", "Severity", "Path", "Summary"}, rows)
			})
		})
	},
}

func describeRecord(r tracker.Record) string {
	s := string(r.Severity)
	if s == "" {
		s = string(extract.SeverityMinor)
	}
	if r.RuleID != "" {
		s += " rule #" + r.RuleID
	}
	if r.Path != "" {
		s += " in " + r.Path
	}
	return s
}

func printAnalysis(w io.Writer, a tracker.Analysis) {
	printField(w, "PRs", a.PRs)
	printField(w, "Findings", a.Findings)
	section := func(title string, counts []tracker.Count) {
		if len(counts) == 0 {
			return
		}
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{c.Key, fmt.Sprint(c.Count)})
		}
		printTable(w, []string{title, "Count"}, rows)
	}
	section("Rule", a.ByRule)
	section("File", a.ByFile)
	section("Severity", a.BySeverity)
}
