package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"found condition", found(), ExitFound},
		{"explicit code", &ExitError{Code: ExitUnexpected, Err: errors.New("x")}, ExitUnexpected},
		{"missing PR", fmt.Errorf("finding PR: %w", provider.ErrPRNotFound), ExitUnexpected},
		{"transient", fmt.Errorf("listing: %w", provider.ErrTransient), ExitFound},
		{"timeout", context.DeadlineExceeded, ExitFound},
		{"not owned", ownership.ErrNotOwned, ExitFound},
		{"rolled back", fmt.Errorf("%w: commit failed", conflict.ErrRolledBack), ExitFound},
		{"unexpected", errors.New("boom"), ExitUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFoundErrorIsSilent(t *testing.T) {
	assert.Empty(t, found().Error())
	wrapped := &ExitError{Code: ExitFound, Err: errors.New("rolled back")}
	assert.Equal(t, "rolled back", wrapped.Error())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(1), parseValue("1"))
	assert.Equal(t, 2.5, parseValue("2.5"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "90s", parseValue("90s"))
}

func TestRedactConfigLeavesOriginal(t *testing.T) {
	defaults := config.DefaultConfig()
	cfg := &defaults
	cfg.GitHub.Token = "ghp_secret"
	got := redactConfig(cfg)
	assert.Equal(t, "***", got.GitHub.Token)
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token)
}

func TestSetConfigValueKeepsExistingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{\n  // bots\n  \"bot\": {\"logins\": [\"rabbit\"]}\n}\n"), 0o644))

	got, err := setConfigValue(path, "loop.max_iterations", int64(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bot":{"logins":["rabbit"]},"loop":{"max_iterations":3}}`, string(got))

	fresh, err := setConfigValue(filepath.Join(t.TempDir(), "missing.jsonc"), "store.backend", "sqlite")
	require.NoError(t, err)
	assert.JSONEq(t, `{"store":{"backend":"sqlite"}}`, string(fresh))
}
