// Package repo wraps the git CLI for the operations the loop needs: branch
// queries, fetch, a non-committing merge, stage inspection, and commits.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a git command exceeds its deadline.
var ErrTimeout = errors.New("git command timed out")

// DefaultTimeout bounds each git invocation when none is configured.
const DefaultTimeout = 2 * time.Minute

// Git runs git commands in a working directory.
type Git struct {
	dir     string
	timeout time.Duration
}

// New creates a Git rooted at dir. An empty dir uses the process CWD.
func New(dir string, timeout time.Duration) *Git {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Git{dir: dir, timeout: timeout}
}

// Dir returns the working directory.
func (g *Git) Dir() string { return g.dir }

// run executes git and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, _, err := g.exec(ctx, nil, args...)
	return strings.TrimSpace(out), err
}

func (g *Git) exec(ctx context.Context, stdin []byte, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("git", "args", args, "dir", g.dir)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), 0, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), -1, fmt.Errorf("git %s: %w", args[0], ErrTimeout)
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return stdout.String(), code, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Branches lists local branch names.
func (g *Git) Branches(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// TopLevel returns the absolute path of the repository root.
func (g *Git) TopLevel(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--show-toplevel")
}

// RevParse resolves ref to a full commit hash.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
}

// Fetch fetches one branch from remote.
func (g *Git) Fetch(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "fetch", remote, branch)
	return err
}

// Merge attempts a merge of ref without committing. It reports whether the
// merge stopped on conflicts; any other failure is returned as an error.
func (g *Git) Merge(ctx context.Context, ref string) (conflicted bool, err error) {
	_, code, err := g.exec(ctx, nil, "merge", "--no-commit", "--no-ff", ref)
	if err == nil {
		return false, nil
	}
	if code == 1 {
		files, lerr := g.ConflictedFiles(ctx)
		if lerr == nil && len(files) > 0 {
			return true, nil
		}
	}
	return false, err
}

// MergeInProgress reports whether MERGE_HEAD exists.
func (g *Git) MergeInProgress(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	return err == nil
}

// AbortMerge abandons an in-progress merge. It is a no-op when none is active.
func (g *Git) AbortMerge(ctx context.Context) error {
	if !g.MergeInProgress(ctx) {
		return nil
	}
	_, err := g.run(ctx, "merge", "--abort")
	return err
}

// ConflictedFiles lists paths with unmerged entries.
func (g *Git) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Index stages for ShowStage.
const (
	StageBase   = 1
	StageOurs   = 2
	StageTheirs = 3
)

// ShowStage returns the content of path at an index stage. ok is false when
// the stage does not exist, as for the base of an add/add conflict.
func (g *Git) ShowStage(ctx context.Context, stage int, path string) (content string, ok bool, err error) {
	out, code, err := g.exec(ctx, nil, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil {
		if code == 128 {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// Add stages paths.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records the index with message read from stdin, so long messages
// and leading dashes are passed through unchanged.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, _, err := g.exec(ctx, []byte(message), "commit", "--no-edit", "-F", "-")
	return err
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
