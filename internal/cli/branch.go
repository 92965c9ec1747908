package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage which branches this workspace owns",
	Long: `A workspace owns its primary branch (the branch checked out when the
registry was first written), every registered branch, and any branch that
shares the primary's numeric prefix ("05--feature" owns "05--hotfix").
The loop refuses to act on PRs whose head branch it does not own.`,
}

func init() {
	branchCmd.AddCommand(branchRegisterCmd)
	branchCmd.AddCommand(branchUnregisterCmd)
	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchIsOwnedCmd)
}

var branchRegisterCmd = &cobra.Command{
	Use:   "register <branch>",
	Short: "Register a branch as owned by this workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		owners, err := w.ownership(ctx)
		if err != nil {
			return err
		}
		reg, err := owners.Register(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return emit(out, reg, func() {
			fmt.Fprintf(out, "Registered %s (primary %s)\n", args[0], reg.Primary)
		})
	},
}

var branchUnregisterCmd = &cobra.Command{
	Use:   "unregister <branch>",
	Short: "Remove a registered branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		owners, err := w.ownership(ctx)
		if err != nil {
			return err
		}
		reg, err := owners.Unregister(ctx, args[0])
		if err != nil {
			return &ExitError{Code: ExitFound, Err: err}
		}
		out := cmd.OutOrStdout()
		return emit(out, reg, func() {
			fmt.Fprintf(out, "Unregistered %s\n", args[0])
		})
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the primary and registered branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		owners, err := w.ownership(ctx)
		if err != nil {
			return err
		}
		reg := owners.List(ctx)
		out := cmd.OutOrStdout()
		return emit(out, reg, func() {
			rows := [][]string{{reg.Primary, "primary"}}
			for _, b := range reg.Branches {
				rows = append(rows, []string{b, "registered"})
			}
			printTable(out, []string{"Branch", "Ownership"}, rows)
		})
	},
}

var branchIsOwnedCmd = &cobra.Command{
	Use:   "is-owned [branch]",
	Short: "Check whether a branch is owned (default: current branch)",
	Long: `Exits 0 when the branch is owned by this workspace and 1 when it is not.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		owners, err := w.ownership(ctx)
		if err != nil {
			return err
		}

		branch := ""
		if len(args) > 0 {
			branch = args[0]
		} else if branch, err = w.git.CurrentBranch(ctx); err != nil {
			return err
		}

		checkErr := owners.Check(ctx, branch)
		out := cmd.OutOrStdout()
		result := map[string]any{"branch": branch, "owned": checkErr == nil}
		if checkErr != nil {
			result["reason"] = checkErr.Error()
		}
		if err := emit(out, result, func() {
			if checkErr == nil {
				fmt.Fprintf(out, "%s is owned by this workspace\n", branch)
				return
			}
			fmt.Fprintln(out, checkErr)
		}); err != nil {
			return err
		}
		if checkErr != nil {
			return found()
		}
		return nil
	},
}
