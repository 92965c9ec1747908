package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
	Long: `Configuration is read from ~/.config/rabbitloop/config.jsonc, then
.rabbitloop/config.jsonc in the repository, then environment overrides.`,
}

func init() {
	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd)
}

// effectiveConfig returns the merged configuration with the token masked,
// encoded as JSON.
func effectiveConfig() ([]byte, error) {
	cfg := appConfig
	if cfg == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	return json.Marshal(redactConfig(cfg))
}

// redactConfig returns a shallow copy with the GitHub token masked.
func redactConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if masked.GitHub.Token != "" {
		masked.GitHub.Token = "***"
	}
	return &masked
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := effectiveConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			fmt.Fprintln(out, string(data))
			return nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		return printJSON(out, v)
	},
}

var configGetCmd = &cobra.Command{
	Use:     "get <key>",
	Short:   "Print one merged configuration value",
	Example: `  rabbitloop config get loop.max_iterations`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := effectiveConfig()
		if err != nil {
			return err
		}
		res := gjson.GetBytes(data, args[0])
		if !res.Exists() {
			return fmt.Errorf("unknown config key %q", args[0])
		}
		if res.IsObject() || res.IsArray() {
			fmt.Fprintln(cmd.OutOrStdout(), res.Raw)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.String())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a value to the repository config",
	Long: `Set a dotted key in .rabbitloop/config.jsonc at the repository root,
creating the file when needed. Comments in the file are not kept.`,
	Example: `  rabbitloop config set loop.max_iterations 15
  rabbitloop config set loop.poll_interval 90s
  rabbitloop config set store.backend sqlite
  rabbitloop config set bot.logins.-1 my-review-bot`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := config.RepoRoot()
		if root == "" {
			return errors.New("not in a git repository")
		}
		path := filepath.Join(root, config.RepoConfigPath)
		key, value := args[0], parseValue(args[1])

		updated, err := setConfigValue(path, key, value)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprintf(out, "Dry run: %s would become:\n%s\n", config.RepoConfigPath, updated)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := store.AtomicWriteFile(path, updated, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s = %v\n", key, value)
		return nil
	},
}

// setConfigValue returns the contents of the config file at path with key
// set to value. A missing file starts from an empty object.
func setConfigValue(path, key string, value any) ([]byte, error) {
	current := []byte("{}")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		current = jsonc.ToJSON(data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	updated, err := sjson.SetBytes(current, key, value)
	if err != nil {
		return nil, fmt.Errorf("setting %q: %w", key, err)
	}
	return updated, nil
}

// parseValue types a raw value: integer, then float, then bool, else string.
// Numbers come first so "1" stays a number.
func parseValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
