package repo

import (
	"context"
	"fmt"
	"strings"
)

// RemoteURL returns the URL of the named remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	url, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("git remote get-url %s: %w", remote, err)
	}
	return url, nil
}

// OwnerRepo maps the named remote to a GitHub owner and repository.
func (g *Git) OwnerRepo(ctx context.Context, remote string) (owner, name string, err error) {
	url, err := g.RemoteURL(ctx, remote)
	if err != nil {
		return "", "", err
	}
	return ParseOwnerRepo(url)
}

// ParseOwnerRepo extracts owner/repo from an HTTPS or SSH remote URL.
func ParseOwnerRepo(url string) (owner, name string, err error) {
	parts := strings.Split(normalizeGitURL(url), "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("cannot determine owner/repo from remote %q", url)
	}
	owner, name = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("cannot determine owner/repo from remote %q", url)
	}
	return owner, name, nil
}

// normalizeGitURL reduces a remote URL to host/owner/repo.
// Case is preserved so the owner and repo names round-trip to the API.
func normalizeGitURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")

	// ssh://git@host/owner/repo and git@host:owner/repo → host/owner/repo
	url = strings.TrimPrefix(url, "ssh://")
	if at := strings.Index(url, "@"); at >= 0 && !strings.Contains(url[:at], "/") {
		url = url[at+1:]
		if !strings.Contains(url, "://") {
			url = strings.Replace(url, ":", "/", 1)
		}
	}

	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	// Credentials embedded in HTTPS remotes.
	if at := strings.Index(url, "@"); at >= 0 && at < strings.Index(url+"/", "/") {
		url = url[at+1:]
	}
	return url
}
