package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alanmeadows/rabbitloop/internal/threads"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage review bot threads",
}

var (
	threadsIncludeSecurity bool
	threadsYes             bool
	threadsReply           string
)

func init() {
	threadsResolveCmd.Flags().BoolVar(&threadsIncludeSecurity, "include-security", false, "Also resolve security-sensitive threads")
	threadsResolveCmd.Flags().BoolVarP(&threadsYes, "yes", "y", false, "Skip the confirmation for --include-security")
	threadsResolveCmd.Flags().StringVar(&threadsReply, "reply", "", "Reply posted to each thread before it is resolved")
	threadsCmd.AddCommand(threadsResolveCmd)
}

var threadsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve addressed bot threads",
	Long: `Resolve every open bot thread on the PR. Threads whose bot comment
mentions a security concern are left open for a human unless
--include-security is given; outdated threads are always left open.

A failure on one thread is reported and does not stop the others. Exits 1
when any thread failed to resolve.`,
	Example: `  rabbitloop threads resolve --dry-run
  rabbitloop threads resolve --reply "Addressed in the latest commit."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if threadsIncludeSecurity && !threadsYes && !dryRun {
			ok, err := confirmSecurity()
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted: security-sensitive threads were not confirmed")
			}
		}

		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		api, number, err := w.connect(ctx)
		if err != nil {
			return err
		}

		report, err := threads.NewResolver(api, bots()).Resolve(ctx, number, threads.Options{
			IncludeSecurity: threadsIncludeSecurity,
			DryRun:          dryRun,
			Reply:           threadsReply,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if err := emit(out, report, func() { printThreadReport(cmd, report) }); err != nil {
			return err
		}
		if report.Failed > 0 {
			return found()
		}
		return nil
	},
}

// confirmSecurity asks before resolving security threads on a terminal.
// Non-interactive callers must pass --yes.
func confirmSecurity() (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("--include-security needs confirmation; pass --yes when not running on a terminal")
	}
	var ok bool
	err := huh.NewConfirm().
		Title("Resolve security-sensitive threads too?").
		Description("These threads are normally left open for a human reviewer.").
		Affirmative("Resolve them").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation cancelled: %w", err)
	}
	return ok, nil
}

func printThreadReport(cmd *cobra.Command, r *threads.Report) {
	out := cmd.OutOrStdout()
	prefix := ""
	if r.DryRun {
		prefix = "Dry run: "
	}
	fmt.Fprintf(out, "%sPR #%d: resolved %d, failed %d, skipped %d\n", prefix, r.PR, r.Resolved, r.Failed, r.Skipped)
	if len(r.Outcomes) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		state := "resolved"
		switch {
		case o.Error != "":
			state = "failed: " + o.Error
		case o.Skipped:
			state = "skipped: " + o.Reason
		case r.DryRun:
			state = "would resolve"
		}
		loc := o.Path
		if o.Line > 0 {
			loc = fmt.Sprintf("%s:%d", o.Path, o.Line)
		}
		sec := ""
		if o.Security {
			sec = "yes"
		}
		rows = append(rows, []string{o.ThreadID, loc, sec, state})
	}
	printTable(out, []string{"Thread", "Location", "Security", "Result"}, rows)
}
