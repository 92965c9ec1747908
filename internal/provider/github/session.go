package github

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// ghCLITimeout bounds the `gh auth token` fallback.
const ghCLITimeout = 10 * time.Second

// Session holds the credential discovered for one process. Discovery runs at
// most once; every Backend built from the same Session shares the result.
type Session struct {
	configToken string
	lookupGH    func(ctx context.Context) (string, error)

	once   sync.Once
	token  string
	source string
	tried  []string
	err    error
}

// NewSession creates a Session. configToken is the token from configuration,
// which may be empty.
func NewSession(configToken string) *Session {
	return &Session{configToken: configToken, lookupGH: ghAuthToken}
}

// Token returns the credential, discovering it on first use. Sources are
// tried in order: configuration, GITHUB_TOKEN, GH_TOKEN, `gh auth token`.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.once.Do(func() {
		s.token, s.source, s.err = s.discover(ctx)
		if s.err == nil {
			slog.Debug("github credential found", "source", s.source)
		}
	})
	return s.token, s.err
}

// Source names where the token came from. Empty until Token succeeds.
func (s *Session) Source() string {
	return s.source
}

func (s *Session) discover(ctx context.Context) (string, string, error) {
	candidates := []struct {
		name  string
		value func() string
	}{
		{"config github.token", func() string { return s.configToken }},
		{"GITHUB_TOKEN", func() string { return os.Getenv("GITHUB_TOKEN") }},
		{"GH_TOKEN", func() string { return os.Getenv("GH_TOKEN") }},
	}
	for _, c := range candidates {
		s.tried = append(s.tried, c.name)
		if v := strings.TrimSpace(c.value()); v != "" {
			return v, c.name, nil
		}
	}

	s.tried = append(s.tried, "gh auth token")
	if s.lookupGH != nil {
		if v, err := s.lookupGH(ctx); err == nil && v != "" {
			return v, "gh auth token", nil
		} else if err != nil {
			slog.Debug("gh auth token failed", "error", err)
		}
	}

	return "", "", fmt.Errorf("%w: no GitHub token found (tried %s); set GITHUB_TOKEN or run `gh auth login`",
		provider.ErrAuth, strings.Join(s.tried, ", "))
}

func ghAuthToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ghCLITimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
