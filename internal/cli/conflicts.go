package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Resolve merge conflicts with the PR base branch",
}

var conflictsBase string

func init() {
	conflictsResolveCmd.Flags().StringVar(&conflictsBase, "base", "", "Base branch to merge (default: the PR's base branch)")
	conflictsCmd.AddCommand(conflictsResolveCmd)
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Merge the base branch and resolve every conflicted file",
	Long: `Fetch the base branch, merge it into the checked-out branch and resolve
each conflicted file with a cited strategy:

  regenerate        lock files keep the current branch's version
  include_both      complementary edits are combined (flagged for review)
  current_priority  overlapping edits keep the current branch's version and
                    cite the incoming lines that were dropped

All resolutions land in one merge commit. If any file cannot be resolved or
the commit fails, the merge is aborted and nothing is applied (exit 1).
Without --base the PR's head branch must be checked out and owned by this
workspace.
With --dry-run the merge is aborted after computing resolutions.`,
	Example: `  rabbitloop conflicts resolve --dry-run
  rabbitloop conflicts resolve --base main`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		base := conflictsBase
		if base == "" {
			api, number, err := w.connect(ctx)
			if err != nil {
				return err
			}
			pr, err := api.GetPullRequest(ctx, number)
			if err != nil {
				return err
			}
			current, err := w.git.CurrentBranch(ctx)
			if err != nil {
				return fmt.Errorf("determining current branch: %w", err)
			}
			owners, err := w.ownership(ctx)
			if err != nil {
				return err
			}
			if err := checkoutMatchesPR(ctx, owners, current, pr); err != nil {
				return err
			}
			base = pr.BaseBranch
		}

		resolver := conflict.NewResolver(w.git, appConfig.Conflict.Remote, appConfig.Conflict.LockFiles)
		report, resolveErr := resolver.Resolve(ctx, base, conflict.Options{DryRun: dryRun})
		if report == nil {
			return resolveErr
		}

		out := cmd.OutOrStdout()
		if err := emit(out, report, func() { printConflictReport(cmd, report) }); err != nil {
			return err
		}
		switch {
		case resolveErr == nil:
			return nil
		case errors.Is(resolveErr, conflict.ErrRolledBack):
			return &ExitError{Code: ExitFound, Err: resolveErr}
		default:
			return resolveErr
		}
	},
}

// checkoutMatchesPR refuses to resolve a PR's conflicts unless its head
// branch is checked out and owned by this workspace.
func checkoutMatchesPR(ctx context.Context, owners *ownership.Tracker, current string, pr *provider.PullRequest) error {
	if current != pr.HeadBranch {
		return &ExitError{Code: ExitFound, Err: fmt.Errorf(
			"checked-out branch %q is not the head of PR #%d (%q); run `git checkout %s` first",
			current, pr.Number, pr.HeadBranch, pr.HeadBranch)}
	}
	return owners.Check(ctx, pr.HeadBranch)
}

func printConflictReport(cmd *cobra.Command, r *conflict.Report) {
	out := cmd.OutOrStdout()
	switch {
	case r.Clean:
		fmt.Fprintf(out, "Merging %s is clean; nothing to resolve.\n", r.Base)
		return
	case r.RolledBack:
		fmt.Fprintf(out, "Conflict resolution against %s rolled back; no resolution was applied.\n", r.Base)
	case r.DryRun:
		fmt.Fprintf(out, "Dry run: %d conflicted file(s) against %s.\n", len(r.Results), r.Base)
	default:
		fmt.Fprintf(out, "Resolved %d file(s) against %s in %s.\n", r.ResolvedCount, r.Base, r.Commit)
	}

	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		status := "ok"
		if !res.Success {
			status = "failed"
		} else if res.NeedsReview {
			status = "review"
		}
		detail := res.Citation
		if res.Error != "" {
			detail = res.Error
		}
		rows = append(rows, []string{res.Path, string(res.Strategy), status, detail})
	}
	if len(rows) > 0 {
		printTable(out, []string{"File", "Strategy", "Status", "Citation"}, rows)
	}
	if r.NeedsCleanup {
		fmt.Fprintln(out, "The working tree may hold a partial merge; run `git merge --abort`.")
	}
}
