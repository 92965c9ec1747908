package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/classify"
	"github.com/alanmeadows/rabbitloop/internal/loop"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PR mergeability and unresolved bot threads",
	Long: `Report whether the PR is ready to merge.

Exits 0 when the PR is CLEAN (or closed), 1 when it is blocked by merge
conflicts, unresolved bot threads or pending mergeability.`,
	Example: `  rabbitloop status
  rabbitloop status --pr 42 --json`,
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

		report, err := loop.CheckStatus(ctx, api, number, bots())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if err := emit(out, report, func() {
			printField(out, "PR", fmt.Sprintf("#%d (%s → %s)", report.PR, report.HeadBranch, report.BaseBranch))
			printField(out, "Status", report.Status)
			printField(out, "Mergeable", report.Mergeable)
			printField(out, "Unresolved threads", report.UnresolvedThreads)
			for _, r := range report.Reasons {
				fmt.Fprintf(out, "  - %s\n", r)
			}
		}); err != nil {
			return err
		}
		if report.Status != loop.StatusClean && report.Status != loop.StatusClosed {
			return found()
		}
		return nil
	},
}

var responseCmd = &cobra.Command{
	Use:   "response",
	Short: "Classify the review bot's latest reply",
	Long: `Score recent bot comments, thread replies and reviews and decide whether
the bot approved the latest changes, rejected them, or has not answered yet.

Exits 1 when the bot rejected the changes.`,
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
		threads, err := api.ListReviewThreads(ctx, number)
		if err != nil {
			return err
		}
		reviews, err := api.ListReviews(ctx, number)
		if err != nil {
			return err
		}

		resp := classify.ClassifyResponse(classify.Input{
			Comments: comments,
			Reviews:  reviews,
			Threads:  threads,
			Now:      time.Now(),
		}, classify.Options{Bots: bots(), Lookback: appConfig.Loop.ParseLookbackWindow()})

		out := cmd.OutOrStdout()
		if err := emit(out, resp, func() {
			printField(out, "Decision", resp.Decision)
			printField(out, "Scores", fmt.Sprintf("approval %d, rejection %d", resp.ApprovalScore, resp.RejectionScore))
			printField(out, "Reason", resp.Reason)
		}); err != nil {
			return err
		}
		if resp.Decision == classify.Rejected {
			return found()
		}
		return nil
	},
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Check PR comments for a human exit signal",
	Long: `Look for "/rabbitloop stop", "/rabbitloop pause" or "/rabbitloop exit" in a
comment from a non-bot author. When a loop session exists for the PR, only
comments posted after the session started count.

Exits 1 when a signal is found, 0 when none is.`,
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

		var since time.Time
		if s, ok, err := loop.LoadSession(loop.SessionPath(filepath.Join(w.root, appConfig.Loop.SessionDir), number)); err == nil && ok && !s.Finished() {
			since = s.Started
		}

		comments, err := api.ListComments(ctx, number)
		if err != nil {
			return err
		}
		sig := loop.FindExitSignal(comments, bots(), appConfig.Signal.Token, since)

		out := cmd.OutOrStdout()
		if err := emit(out, map[string]any{"pr": number, "signal": sig}, func() {
			if sig == nil {
				fmt.Fprintln(out, "No exit signal found.")
				return
			}
			fmt.Fprintf(out, "%s requested %s (comment %s, %s)\n", sig.Author, sig.Command, sig.CommentID, sig.At.Format(time.RFC3339))
		}); err != nil {
			return err
		}
		if sig != nil {
			return found()
		}
		return nil
	},
}

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Show remaining REST and GraphQL quota",
	Long: `Show the remaining API quota. Exits 1 when either quota is below the
configured floor (ratelimit.min_core_remaining, ratelimit.min_graphql_remaining).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		api, _, err := w.connectRepo(ctx)
		if err != nil {
			return err
		}

		rl, err := api.RateLimits(ctx)
		if err != nil {
			return err
		}
		low := loop.BelowThreshold(rl, appConfig.RateLimit.MinCoreRemaining, appConfig.RateLimit.MinGraphQLRemaining)

		out := cmd.OutOrStdout()
		if err := emit(out, map[string]any{"limits": rl, "below_threshold": low != "", "reason": low}, func() {
			printTable(out, []string{"API", "Remaining", "Limit", "Resets"}, [][]string{
				{"REST", fmt.Sprint(rl.Core.Remaining), fmt.Sprint(rl.Core.Limit), rl.Core.Reset.Local().Format(time.Kitchen)},
				{"GraphQL", fmt.Sprint(rl.GraphQL.Remaining), fmt.Sprint(rl.GraphQL.Limit), rl.GraphQL.Reset.Local().Format(time.Kitchen)},
			})
			if low != "" {
				fmt.Fprintln(out, low)
			}
		}); err != nil {
			return err
		}
		if low != "" {
			return found()
		}
		return nil
	},
}

var commentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "List parsed review-bot findings",
	Long: `Fetch open bot review threads and the newest out-of-diff summary comment
and print each finding as a citation: severity, rule, summary and location.`,
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
		threads, err := api.ListReviewThreads(ctx, number)
		if err != nil {
			return err
		}

		parsed := loop.CollectFindings(comments, threads, bots())
		out := cmd.OutOrStdout()
		if len(parsed) == 0 && !jsonOut {
			fmt.Fprintln(out, "No open bot findings.")
			return nil
		}
		sink := loop.WriterSink{W: out, JSON: jsonOut}
		return sink.Findings(ctx, number, parsed)
	},
}

// reasonsLine joins status reasons for single-line output.
func reasonsLine(reasons []string) string {
	if len(reasons) == 0 {
		return "-"
	}
	return strings.Join(reasons, "; ")
}
