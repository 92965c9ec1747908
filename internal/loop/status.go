package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanmeadows/rabbitloop/internal/provider"
	"github.com/alanmeadows/rabbitloop/internal/threads"
)

// Status is the merge-readiness of a PR.
type Status string

const (
	StatusClean               Status = "CLEAN"
	StatusConflictsBlocked    Status = "CONFLICTS_BLOCKED"
	StatusConflicting         Status = "CONFLICTING"
	StatusUnresolvedThreads   Status = "UNRESOLVED_THREADS"
	StatusPendingMergeability Status = "PENDING_MERGEABILITY"
	StatusClosed              Status = "CLOSED"
)

// StatusReport explains a Status.
type StatusReport struct {
	PR                int                `json:"pr"`
	Status            Status             `json:"status"`
	Reasons           []string           `json:"reasons"`
	Mergeable         provider.Mergeable `json:"mergeable"`
	UnresolvedThreads int                `json:"unresolved_threads"`
	HeadBranch        string             `json:"head_branch"`
	BaseBranch        string             `json:"base_branch"`
}

// Evaluate derives the status of pr from its unresolved bot threads.
func Evaluate(pr *provider.PullRequest, all []provider.ReviewThread, bots provider.Bots) StatusReport {
	r := StatusReport{
		PR:         pr.Number,
		Mergeable:  pr.Mergeable,
		HeadBranch: pr.HeadBranch,
		BaseBranch: pr.BaseBranch,
	}
	if pr.State != "" && pr.State != provider.PRStateOpen {
		r.Status = StatusClosed
		r.Reasons = []string{fmt.Sprintf("pull request is %s", pr.State)}
		return r
	}

	p := threads.Split(all, bots)
	r.UnresolvedThreads = p.Unresolved()

	conflicting := pr.Mergeable == provider.MergeableConflicting
	if conflicting {
		r.Reasons = append(r.Reasons, fmt.Sprintf("mergeable state is %s against %s", pr.Mergeable, pr.BaseBranch))
	}
	if r.UnresolvedThreads > 0 {
		r.Reasons = append(r.Reasons, fmt.Sprintf("%d unresolved bot thread(s): %s", r.UnresolvedThreads, locations(p)))
	}

	switch {
	case conflicting && r.UnresolvedThreads > 0:
		r.Status = StatusConflictsBlocked
	case conflicting:
		r.Status = StatusConflicting
	case r.UnresolvedThreads > 0:
		r.Status = StatusUnresolvedThreads
	case pr.Mergeable == provider.MergeableUnknown || pr.Mergeable == "":
		r.Status = StatusPendingMergeability
		r.Reasons = append(r.Reasons, "mergeability has not been computed yet")
	default:
		r.Status = StatusClean
	}
	return r
}

func locations(p threads.Partition) string {
	var locs []string
	for _, group := range [][]provider.ReviewThread{p.Security, p.NonSecurity, p.Outdated} {
		for _, th := range group {
			loc := th.Path
			if th.Line > 0 {
				loc = fmt.Sprintf("%s:%d", th.Path, th.Line)
			}
			locs = append(locs, loc)
		}
	}
	return strings.Join(locs, ", ")
}

// CheckStatus fetches the PR and its threads and evaluates them.
func CheckStatus(ctx context.Context, api provider.ReviewAPI, number int, bots provider.Bots) (StatusReport, error) {
	pr, err := api.GetPullRequest(ctx, number)
	if err != nil {
		return StatusReport{PR: number}, err
	}
	all, err := api.ListReviewThreads(ctx, number)
	if err != nil {
		return StatusReport{PR: number}, fmt.Errorf("listing review threads: %w", err)
	}
	return Evaluate(pr, all, bots), nil
}
