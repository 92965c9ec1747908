package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/loop"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Post and read the audit trail kept in PR comments",
	Long: `Every automated decision is recorded as a PR comment carrying a
machine-readable header, so the loop's full history can be rebuilt from the
PR thread alone.`,
}

var (
	auditAction    string
	auditIteration int
	auditRunID     string
	auditDetails   []string
)

func init() {
	for _, c := range []*cobra.Command{auditPostCmd, auditSummaryCmd} {
		c.Flags().StringVar(&auditAction, "action", "", "Action recorded (e.g. conflict_resolution, clean, escalate)")
		c.Flags().IntVar(&auditIteration, "iteration", 0, "Iteration index")
		c.Flags().StringVar(&auditRunID, "run-id", "", "Loop run id (default: a new id for post, all runs for summary)")
		c.Flags().StringArrayVar(&auditDetails, "detail", nil, "Detail as key=value (repeatable)")
		_ = c.MarkFlagRequired("action")
	}
	auditHistoryCmd.Flags().StringVar(&auditRunID, "run-id", "", "Only show entries for this run")

	auditCmd.AddCommand(auditPostCmd)
	auditCmd.AddCommand(auditSummaryCmd)
	auditCmd.AddCommand(auditHistoryCmd)
}

func auditEntry(pr int, kind string) (loop.AuditEntry, error) {
	details := make(map[string]string, len(auditDetails))
	for _, d := range auditDetails {
		k, v, ok := strings.Cut(d, "=")
		if !ok || k == "" {
			return loop.AuditEntry{}, fmt.Errorf("invalid --detail %q: want key=value", d)
		}
		details[k] = v
	}
	return loop.AuditEntry{
		Kind:      kind,
		RunID:     auditRunID,
		PR:        pr,
		Iteration: auditIteration,
		Action:    loop.Action(auditAction),
		Timestamp: time.Now().UTC(),
		Details:   details,
	}, nil
}

var auditPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post one audit entry to the PR",
	Example: `  rabbitloop audit post --action conflict_resolution --iteration 2 \
    --detail "file app.go=current_priority: discarded 3 incoming line(s)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		api, number, err := w.connect(ctx)
		if err != nil {
			return err
		}

		if auditRunID == "" {
			auditRunID = uuid.NewString()
		}
		entry, err := auditEntry(number, loop.KindAudit)
		if err != nil {
			return err
		}
		body, err := loop.FormatAuditComment(entry)
		if err != nil {
			return err
		}
		return postOrPreview(cmd, number, body, func() error { return api.PostComment(ctx, number, body) })
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Post the final summary with the decision history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		api, number, err := w.connect(ctx)
		if err != nil {
			return err
		}

		comments, err := api.ListComments(ctx, number)
		if err != nil {
			return err
		}
		final, err := auditEntry(number, loop.KindSummary)
		if err != nil {
			return err
		}
		history := loop.History(comments, auditRunID)
		if final.RunID == "" && len(history) > 0 {
			final.RunID = history[len(history)-1].RunID
		}
		body, err := loop.FormatSummary(loop.Summary{Final: final, History: history})
		if err != nil {
			return err
		}
		return postOrPreview(cmd, number, body, func() error { return api.PostComment(ctx, number, body) })
	},
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Rebuild the decision history from PR comments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		api, number, err := w.connect(ctx)
		if err != nil {
			return err
		}

		comments, err := api.ListComments(ctx, number)
		if err != nil {
			return err
		}
		history := loop.History(comments, auditRunID)

		out := cmd.OutOrStdout()
		return emit(out, history, func() {
			if len(history) == 0 {
				fmt.Fprintf(out, "No audit entries on PR #%d.\n", number)
				return
			}
			rows := make([][]string, 0, len(history))
			for _, e := range history {
				rows = append(rows, []string{
					e.Timestamp.Local().Format(time.DateTime),
					shortID(e.RunID),
					fmt.Sprint(e.Iteration),
					string(e.Action),
					e.Details["reason"],
				})
			}
			printTable(out, []string{"Time", "Run", "Iter", "Action", "Reason"}, rows)
		})
	},
}

// postOrPreview prints body under --dry-run and posts it otherwise.
func postOrPreview(cmd *cobra.Command, pr int, body string, post func() error) error {
	out := cmd.OutOrStdout()
	if dryRun {
		if jsonOut {
			return printJSON(out, map[string]any{"pr": pr, "dry_run": true, "body": body})
		}
		fmt.Fprintf(out, "Dry run: would post to PR #%d:\n\n%s\n", pr, body)
		return nil
	}
	if err := post(); err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	if jsonOut {
		return printJSON(out, map[string]any{"pr": pr, "posted": true})
	}
	fmt.Fprintf(out, "Posted to PR #%d.\n", pr)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
