package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/logging"
)

var (
	verbose    bool
	jsonOut    bool
	dryRun     bool
	prFlag     string
	configPath string

	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "rabbitloop",
		Short: "Fix-and-reverify loop for pull requests reviewed by CodeRabbit",
		Long: `rabbitloop drives a pull request through review-bot feedback until it is
clean: it checks mergeability and unresolved bot threads, resolves merge
conflicts with cited strategies, classifies the bot's follow-up replies,
resolves addressed threads and records every automated decision as an
audit comment on the PR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Preview side effects without applying them")
	rootCmd.PersistentFlags().StringVar(&prFlag, "pr", "", "PR number, owner/repo#number or URL (default: PR for the current branch)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .rabbitloop/config.jsonc in the repo)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(responseCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(ratelimitCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(trackerCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command. Interrupts cancel the command context so
// in-flight git and API calls stop at their next check.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
