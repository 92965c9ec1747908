package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// RepoConfigPath is the repo-level config location relative to the repo root.
const RepoConfigPath = ".rabbitloop/config.jsonc"

// Load reads and merges configuration from user-level and repo-level JSONC files.
// Resolution order: defaults → user config (~/.config/rabbitloop/config.jsonc)
// → repo config (.rabbitloop/config.jsonc) → environment. An explicit path
// replaces the repo-level file.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if userDir, err := os.UserConfigDir(); err == nil {
		userPath := filepath.Join(userDir, "rabbitloop", "config.jsonc")
		if err := mergeFile(&cfg, userPath); err != nil {
			return nil, fmt.Errorf("merging user config: %w", err)
		}
	}

	repoPath := explicitPath
	if repoPath == "" {
		if root := RepoRoot(); root != "" {
			repoPath = filepath.Join(root, RepoConfigPath)
		}
	}
	if repoPath != "" {
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, fmt.Errorf("merging repo config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// mergeFile merges path into cfg. A missing file is not an error.
func mergeFile(cfg *Config, path string) error {
	m, err := loadJSONC(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	slog.Debug("loaded config file", "path", path)
	return mergeIntoConfig(cfg, m)
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map over it,
// then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	for _, key := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if token := os.Getenv(key); token != "" {
			cfg.GitHub.Token = token
			break
		}
	}
	if v := os.Getenv("RABBITLOOP_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Loop.MaxIterations = n
		} else {
			slog.Warn("ignoring invalid RABBITLOOP_MAX_ITERATIONS", "value", v)
		}
	}
	if v := os.Getenv("RABBITLOOP_STORE"); v != "" {
		cfg.Store.Backend = StoreBackend(strings.ToLower(v))
	}
}

// repoRootTimeout bounds the git call that locates the repository root.
var repoRootTimeout = 10 * time.Second

// findRepoRoot finds the git repository root via git rev-parse.
func findRepoRoot() string {
	ctx, cancel := context.WithTimeout(context.Background(), repoRootTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// RepoRoot returns the detected git repository root, or empty string if not in a repo.
// In a linked worktree this is the worktree's own root, which scopes persisted
// state per workspace.
func RepoRoot() string {
	return findRepoRoot()
}
