package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanmeadows/rabbitloop/internal/repo"
	"github.com/alanmeadows/rabbitloop/internal/store"
)

// ErrRolledBack means no resolution was applied; the working tree is back
// where it started and the caller may retry.
var ErrRolledBack = errors.New("conflict resolution rolled back")

// Report is the outcome of one resolution run.
type Report struct {
	Base          string   `json:"base"`
	Clean         bool     `json:"clean"`
	DryRun        bool     `json:"dry_run"`
	Results       []Result `json:"results"`
	ResolvedCount int      `json:"resolved_count"`
	RolledBack    bool     `json:"rolled_back"`
	// NeedsCleanup is set when the rollback itself failed and the working
	// tree may still hold a partial merge.
	NeedsCleanup bool   `json:"needs_cleanup"`
	Commit       string `json:"commit,omitempty"`
	Message      string `json:"message,omitempty"`
}

// NeedsReview reports whether any result asks for human review.
func (r *Report) NeedsReview() bool {
	for _, res := range r.Results {
		if res.NeedsReview {
			return true
		}
	}
	return false
}

// Citations returns every result citation in order.
func (r *Report) Citations() []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Citation)
	}
	return out
}

// Options control a resolution run.
type Options struct {
	// DryRun computes resolutions and then aborts the merge without staging.
	DryRun bool
}

// Resolver drives fetch, merge, per-file resolution and the single commit.
type Resolver struct {
	git       *repo.Git
	remote    string
	lockFiles []string
}

// NewResolver creates a Resolver. An empty lockFiles uses DefaultLockFiles.
func NewResolver(git *repo.Git, remote string, lockFiles []string) *Resolver {
	if remote == "" {
		remote = "origin"
	}
	if len(lockFiles) == 0 {
		lockFiles = DefaultLockFiles
	}
	return &Resolver{git: git, remote: remote, lockFiles: lockFiles}
}

// Resolve merges remote/base into the current branch. A clean merge is
// aborted and reported as clean. Conflicts are resolved file by file and
// committed once; if any file is unresolvable or the commit fails, the merge
// is aborted and ErrRolledBack is returned with every result marked failed.
func (r *Resolver) Resolve(ctx context.Context, base string, opts Options) (*Report, error) {
	report := &Report{Base: base, DryRun: opts.DryRun}

	if r.git.MergeInProgress(ctx) {
		return nil, fmt.Errorf("a merge is already in progress; finish or abort it first")
	}
	dirty, err := r.git.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("working tree has uncommitted changes; commit or stash them first")
	}
	if err := r.git.Fetch(ctx, r.remote, base); err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", r.remote, base, err)
	}

	ref := r.remote + "/" + base
	oursCommit, err := r.git.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	theirsCommit, err := r.git.RevParse(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	conflicted, err := r.git.Merge(ctx, ref)
	if err != nil {
		if abortErr := r.git.AbortMerge(ctx); abortErr != nil {
			report.NeedsCleanup = true
			slog.Error("merge abort failed", "error", abortErr)
		}
		return report, fmt.Errorf("merging %s: %w", ref, err)
	}
	if !conflicted {
		report.Clean = true
		if err := r.git.AbortMerge(ctx); err != nil {
			report.NeedsCleanup = true
			return report, fmt.Errorf("aborting clean merge: %w", err)
		}
		slog.Info("no conflicts with base", "base", ref)
		return report, nil
	}

	top, err := r.git.TopLevel(ctx)
	if err != nil {
		return r.rollback(ctx, report, fmt.Errorf("locating repository root: %w", err))
	}

	files, err := r.git.ConflictedFiles(ctx)
	if err != nil {
		return r.rollback(ctx, report, fmt.Errorf("listing conflicted files: %w", err))
	}

	for _, path := range files {
		info, err := r.loadInfo(ctx, top, path, oursCommit, theirsCommit)
		if err != nil {
			return r.rollback(ctx, report, err)
		}
		res := ResolveFile(info, r.lockFiles)
		slog.Info("resolved conflict", "path", path, "strategy", res.Strategy, "success", res.Success, "needs_review", res.NeedsReview)
		report.Results = append(report.Results, res)
	}

	if opts.DryRun {
		if err := r.git.AbortMerge(ctx); err != nil {
			report.NeedsCleanup = true
			return report, fmt.Errorf("aborting dry-run merge: %w", err)
		}
		return report, nil
	}

	for _, res := range report.Results {
		if !res.Success {
			return r.rollback(ctx, report, fmt.Errorf("%s: %s", res.Path, res.Error))
		}
	}

	for _, res := range report.Results {
		if err := store.AtomicWriteFile(filepath.Join(top, res.Path), []byte(*res.Content), 0o644); err != nil {
			return r.rollback(ctx, report, fmt.Errorf("writing %s: %w", res.Path, err))
		}
	}
	if err := r.git.Add(ctx, files...); err != nil {
		return r.rollback(ctx, report, fmt.Errorf("staging resolutions: %w", err))
	}

	report.Message = commitMessage(ref, report.Results)
	if err := r.git.Commit(ctx, report.Message); err != nil {
		return r.rollback(ctx, report, fmt.Errorf("committing resolutions: %w", err))
	}
	if head, err := r.git.RevParse(ctx, "HEAD"); err == nil {
		report.Commit = head
	}
	report.ResolvedCount = len(report.Results)
	return report, nil
}

func (r *Resolver) loadInfo(ctx context.Context, top, path, oursCommit, theirsCommit string) (Info, error) {
	info := Info{Path: path, OursCommit: oursCommit, TheirsCommit: theirsCommit}

	ours, ok, err := r.git.ShowStage(ctx, repo.StageOurs, path)
	if err != nil {
		return info, fmt.Errorf("reading current version of %s: %w", path, err)
	}
	info.Ours, info.OursDeleted = ours, !ok

	theirs, ok, err := r.git.ShowStage(ctx, repo.StageTheirs, path)
	if err != nil {
		return info, fmt.Errorf("reading incoming version of %s: %w", path, err)
	}
	info.Theirs, info.TheirsDeleted = theirs, !ok

	base, ok, err := r.git.ShowStage(ctx, repo.StageBase, path)
	if err != nil {
		return info, fmt.Errorf("reading base version of %s: %w", path, err)
	}
	if ok {
		info.Base = &base
	}

	if data, err := os.ReadFile(filepath.Join(top, path)); err == nil {
		info.MarkerRanges = MarkerRanges(string(data))
	}
	return info, nil
}

// rollback aborts the merge and marks every result failed.
func (r *Resolver) rollback(ctx context.Context, report *Report, cause error) (*Report, error) {
	slog.Warn("rolling back conflict resolution", "error", cause)
	if err := r.git.AbortMerge(ctx); err != nil {
		report.NeedsCleanup = true
		slog.Error("merge abort failed; run git merge --abort manually", "error", err)
	}
	for i := range report.Results {
		report.Results[i].Success = false
		report.Results[i].Content = nil
		if report.Results[i].Error == "" {
			report.Results[i].Error = "rolled back"
		}
	}
	report.ResolvedCount = 0
	report.RolledBack = true
	report.Commit = ""
	return report, fmt.Errorf("%w: %w", ErrRolledBack, cause)
}

func commitMessage(ref string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge %s: resolve %d conflicted file(s)\n\n", ref, len(results))
	for _, res := range results {
		fmt.Fprintf(&b, "- [%s] %s\n", res.Strategy, res.Citation)
	}
	return b.String()
}
