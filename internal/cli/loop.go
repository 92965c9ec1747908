package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/loop"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Drive the fix-and-reverify loop",
}

var (
	loopOnce            bool
	loopReset           bool
	loopIncludeSecurity bool
)

func init() {
	loopRunCmd.Flags().BoolVar(&loopOnce, "once", false, "Run a single iteration and exit (resumes the saved session)")
	loopRunCmd.Flags().BoolVar(&loopReset, "reset", false, "Discard an unfinished session and start a new run")
	loopRunCmd.Flags().BoolVar(&loopIncludeSecurity, "include-security", false, "Allow resolving security-sensitive threads on approval")
	loopCmd.AddCommand(loopRunCmd)
}

var loopRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the PR until it is clean or needs a human",
	Long: `Each iteration checks rate limits, looks for a human exit signal, then
acts on the PR status: merge conflicts are resolved locally, bot rejections
are printed as findings for the fixing agent, and bot approvals resolve the
addressed threads. The loop stops when the PR is clean or closed, on an exit
signal, when quota runs low, once a conflict resolution needs pushing, after
loop.max_iterations iterations, or on an unrecoverable error. Every stop and every conflict resolution is recorded as
an audit comment on the PR.

Exit codes: 0 when the PR is clean or closed (or after a non-terminal
--once iteration), 1 for any other stop, 2 for unexpected errors.`,
	Example: `  rabbitloop loop run
  rabbitloop loop run --once --json
  rabbitloop loop run --pr 42 --dry-run`,
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
		branch, err := w.git.CurrentBranch(ctx)
		if err != nil {
			return fmt.Errorf("determining current branch: %w", err)
		}
		owners, err := w.ownership(ctx)
		if err != nil {
			return err
		}
		findings, err := w.tracker(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		opts := loop.OptionsFromConfig(appConfig)
		opts.PR = number
		opts.Branch = branch
		opts.DryRun = dryRun
		opts.Reset = loopReset
		opts.IncludeSecurity = loopIncludeSecurity
		opts.SessionDir = filepath.Join(w.root, appConfig.Loop.SessionDir)

		ctrl, err := loop.New(loop.Deps{
			API:       api,
			Conflicts: conflict.NewResolver(w.git, appConfig.Conflict.Remote, appConfig.Conflict.LockFiles),
			Tracker:   findings,
			Ownership: owners,
			Sink:      loop.WriterSink{W: out, JSON: jsonOut},
		}, opts)
		if err != nil {
			return err
		}

		var outcome *loop.Outcome
		if loopOnce {
			outcome, err = ctrl.Iterate(ctx)
		} else {
			outcome, err = ctrl.Run(ctx)
		}
		if outcome != nil {
			if perr := emit(out, outcome, func() { printOutcome(out, outcome) }); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}

		switch {
		case !outcome.Terminal, outcome.Action == loop.ActionClean, outcome.Action == loop.ActionClosed:
			return nil
		default:
			return found()
		}
	},
}

func printOutcome(w io.Writer, o *loop.Outcome) {
	printField(w, "PR", fmt.Sprintf("#%d", o.PR))
	printField(w, "Run", shortID(o.RunID))
	printField(w, "Iteration", o.Iteration)
	printField(w, "Action", o.Action)
	if o.Status != nil {
		printField(w, "Status", fmt.Sprintf("%s (%s)", o.Status.Status, reasonsLine(o.Status.Reasons)))
	}
	printField(w, "Reason", o.Reason)
	if o.Conflicts != nil && len(o.Conflicts.Results) > 0 {
		for _, c := range o.Conflicts.Citations() {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}
