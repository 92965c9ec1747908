// Package threads decides which review threads may be resolved automatically
// and resolves them one at a time.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanmeadows/rabbitloop/internal/classify"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// Partition groups the unresolved bot threads of a PR.
type Partition struct {
	Security    []provider.ReviewThread
	NonSecurity []provider.ReviewThread
	// Outdated threads are anchored to code that no longer exists; they are
	// never resolved automatically.
	Outdated []provider.ReviewThread
}

// Split partitions unresolved, actionable threads. Resolved threads and
// threads without a bot comment are dropped.
func Split(threads []provider.ReviewThread, bots provider.Bots) Partition {
	var p Partition
	for _, th := range threads {
		if th.IsResolved || !th.Actionable(bots) {
			continue
		}
		switch {
		case th.IsOutdated:
			p.Outdated = append(p.Outdated, th)
		case IsSecurity(th, bots):
			p.Security = append(p.Security, th)
		default:
			p.NonSecurity = append(p.NonSecurity, th)
		}
	}
	return p
}

// Unresolved returns the number of unresolved bot threads in p.
func (p Partition) Unresolved() int {
	return len(p.Security) + len(p.NonSecurity) + len(p.Outdated)
}

// IsSecurity reports whether any bot comment in the thread is security sensitive.
func IsSecurity(th provider.ReviewThread, bots provider.Bots) bool {
	var b strings.Builder
	for _, c := range th.Comments {
		if bots.Is(c.Author) {
			b.WriteString(c.Body)
			b.WriteByte('\n')
		}
	}
	return classify.IsSecuritySensitive(b.String())
}

// Options control a resolution pass.
type Options struct {
	// IncludeSecurity overrides the default of leaving security threads open.
	IncludeSecurity bool
	DryRun          bool
	// Reply, when set, is posted to each thread before it is resolved.
	Reply string
}

// Outcome is the per-thread result of a resolution pass.
type Outcome struct {
	ThreadID string `json:"thread_id"`
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Security bool   `json:"security"`
	Resolved bool   `json:"resolved"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a resolution pass.
type Report struct {
	PR       int       `json:"pr"`
	DryRun   bool      `json:"dry_run"`
	Outcomes []Outcome `json:"outcomes"`
	Resolved int       `json:"resolved"`
	Failed   int       `json:"failed"`
	Skipped  int       `json:"skipped"`
}

// Resolver resolves eligible threads through a ReviewAPI.
type Resolver struct {
	api  provider.ReviewAPI
	bots provider.Bots
}

// NewResolver creates a Resolver.
func NewResolver(api provider.ReviewAPI, bots provider.Bots) *Resolver {
	return &Resolver{api: api, bots: bots}
}

// Resolve lists the PR's threads and resolves the eligible ones.
func (r *Resolver) Resolve(ctx context.Context, pr int, opts Options) (*Report, error) {
	threads, err := r.api.ListReviewThreads(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("listing review threads: %w", err)
	}
	report := r.ResolveThreads(ctx, Split(threads, r.bots), opts)
	report.PR = pr
	return report, nil
}

// ResolveThreads resolves the eligible threads of p. A failure on one thread
// is recorded in its Outcome and never stops the others.
func (r *Resolver) ResolveThreads(ctx context.Context, p Partition, opts Options) *Report {
	report := &Report{DryRun: opts.DryRun}

	skip := func(th provider.ReviewThread, security bool, reason string) {
		report.Outcomes = append(report.Outcomes, Outcome{
			ThreadID: th.ID, Path: th.Path, Line: th.Line,
			Security: security, Skipped: true, Reason: reason,
		})
		report.Skipped++
	}

	for _, th := range p.Outdated {
		skip(th, IsSecurity(th, r.bots), "outdated")
	}

	eligible := append([]provider.ReviewThread(nil), p.NonSecurity...)
	if opts.IncludeSecurity {
		eligible = append(eligible, p.Security...)
	} else {
		for _, th := range p.Security {
			skip(th, true, "security-sensitive; requires override")
		}
	}

	for _, th := range eligible {
		security := IsSecurity(th, r.bots)
		out := Outcome{ThreadID: th.ID, Path: th.Path, Line: th.Line, Security: security}

		if opts.DryRun {
			out.Reason = "dry run"
			report.Outcomes = append(report.Outcomes, out)
			continue
		}

		if opts.Reply != "" {
			if err := r.api.ReplyToThread(ctx, th.ID, opts.Reply); err != nil {
				slog.Warn("reply before resolve failed", "thread", th.ID, "error", err)
			}
		}

		if err := r.api.ResolveThread(ctx, th.ID); err != nil {
			slog.Error("failed to resolve thread", "thread", th.ID, "path", th.Path, "error", err)
			out.Error = err.Error()
			report.Failed++
		} else {
			slog.Info("resolved thread", "thread", th.ID, "path", th.Path, "security", security)
			out.Resolved = true
			report.Resolved++
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}
