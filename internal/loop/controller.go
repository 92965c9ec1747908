// Package loop drives the fix-and-reverify cycle for one pull request and
// keeps an audit trail of every automated decision on the PR itself.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanmeadows/rabbitloop/internal/classify"
	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/extract"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
	"github.com/alanmeadows/rabbitloop/internal/repo"
	"github.com/alanmeadows/rabbitloop/internal/threads"
	"github.com/alanmeadows/rabbitloop/internal/tracker"
)

// ConflictResolver merges the base branch into the checked-out PR branch.
type ConflictResolver interface {
	Resolve(ctx context.Context, base string, opts conflict.Options) (*conflict.Report, error)
}

// Options tune a Controller.
type Options struct {
	PR int
	// Branch is the checked-out branch. Conflicts are only resolved when it
	// is the PR's head branch.
	Branch              string
	Bots                provider.Bots
	MaxIterations       int
	PollInterval        time.Duration
	Lookback            time.Duration
	MinCoreRemaining    int
	MinGraphQLRemaining int
	SignalToken         string
	IncludeSecurity     bool
	DryRun              bool
	// SessionDir holds session documents; empty keeps the session in memory.
	SessionDir string
	// Reset discards an unfinished session and starts a new run.
	Reset bool

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps configuration onto Options. PR and Branch are left
// for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Bots:                provider.Bots(cfg.Bot.Logins),
		MaxIterations:       cfg.Loop.MaxIterations,
		PollInterval:        cfg.Loop.ParsePollInterval(),
		Lookback:            cfg.Loop.ParseLookbackWindow(),
		MinCoreRemaining:    cfg.RateLimit.MinCoreRemaining,
		MinGraphQLRemaining: cfg.RateLimit.MinGraphQLRemaining,
		SignalToken:         cfg.Signal.Token,
		SessionDir:          cfg.Loop.SessionDir,
	}
}

// Deps are the collaborators a Controller composes. Only API is required.
type Deps struct {
	API       provider.ReviewAPI
	Conflicts ConflictResolver
	Threads   *threads.Resolver
	Tracker   *tracker.Tracker
	Ownership *ownership.Tracker
	Sink      FindingsSink
}

// Outcome describes one iteration.
type Outcome struct {
	PR         int                  `json:"pr"`
	RunID      string               `json:"run_id"`
	Iteration  int                  `json:"iteration"`
	Action     Action               `json:"action"`
	Terminal   bool                 `json:"terminal"`
	Reason     string               `json:"reason"`
	Status     *StatusReport        `json:"status,omitempty"`
	Response   *classify.Response   `json:"response,omitempty"`
	RateLimits *provider.RateLimits `json:"rate_limits,omitempty"`
	Signal     *ExitSignal          `json:"signal,omitempty"`
	Conflicts  *conflict.Report     `json:"conflicts,omitempty"`
	Threads    *threads.Report      `json:"threads,omitempty"`
	Findings   int                  `json:"findings,omitempty"`
}

// Controller runs the polling loop for a single PR. It is not safe for
// concurrent use; one invocation drives one loop.
type Controller struct {
	deps    Deps
	opts    Options
	session *Session

	comments []provider.Comment
	posted   []AuditEntry
}

// New creates a Controller, resuming an unfinished session for the PR when
// one exists.
func New(deps Deps, opts Options) (*Controller, error) {
	if deps.API == nil {
		return nil, errors.New("loop: review API is required")
	}
	if opts.PR <= 0 {
		return nil, errors.New("loop: a pull request number is required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.SignalToken == "" {
		opts.SignalToken = "/rabbitloop"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if deps.Threads == nil {
		deps.Threads = threads.NewResolver(deps.API, opts.Bots)
	}

	c := &Controller{deps: deps, opts: opts}
	if err := c.loadSession(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) loadSession() error {
	path := ""
	if c.opts.SessionDir != "" {
		path = SessionPath(c.opts.SessionDir, c.opts.PR)
		s, ok, err := LoadSession(path)
		if err != nil {
			return fmt.Errorf("loading loop session: %w", err)
		}
		if ok && !c.opts.Reset && !s.Finished() && s.RunID != "" {
			slog.Info("resuming loop session", "pr", c.opts.PR, "run_id", s.RunID, "iteration", s.Iteration)
			c.session = s
			return nil
		}
	}
	c.session = &Session{
		Path:    path,
		PR:      c.opts.PR,
		RunID:   uuid.NewString(),
		Started: c.opts.Now().UTC(),
	}
	return nil
}

// Session returns the current loop session.
func (c *Controller) Session() *Session { return c.session }

// Run iterates until a terminal outcome, sleeping PollInterval between
// iterations.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	for {
		out, err := c.Iterate(ctx)
		if err != nil || out.Terminal {
			return out, err
		}
		slog.Debug("waiting for next poll", "pr", c.opts.PR, "interval", c.opts.PollInterval)
		if err := c.opts.Sleep(ctx, c.opts.PollInterval); err != nil {
			return out, err
		}
	}
}

// Iterate performs one polling iteration: rate limits, exit signal, status,
// then conflicts or bot feedback as the status requires.
func (c *Controller) Iterate(ctx context.Context) (*Outcome, error) {
	out := &Outcome{PR: c.opts.PR, RunID: c.session.RunID, Iteration: c.session.Iteration + 1}

	if c.session.Iteration >= c.opts.MaxIterations {
		out.Iteration = c.session.Iteration
		return c.finish(ctx, out, ActionEscalate,
			fmt.Sprintf("reached %d iterations without a clean PR; escalating to human review", c.opts.MaxIterations), nil)
	}

	rl, err := c.deps.API.RateLimits(ctx)
	if err != nil {
		return c.fail(ctx, out, fmt.Errorf("checking rate limits: %w", err))
	}
	out.RateLimits = rl
	if reason := c.lowQuota(rl); reason != "" {
		return c.finish(ctx, out, ActionPause, reason, map[string]string{
			"core_remaining":    strconv.Itoa(rl.Core.Remaining),
			"graphql_remaining": strconv.Itoa(rl.GraphQL.Remaining),
		})
	}

	comments, err := c.deps.API.ListComments(ctx, c.opts.PR)
	if err != nil {
		return c.fail(ctx, out, fmt.Errorf("listing comments: %w", err))
	}
	c.comments = comments
	if sig := FindExitSignal(comments, c.opts.Bots, c.opts.SignalToken, c.session.Started); sig != nil {
		out.Signal = sig
		return c.finish(ctx, out, ActionExitSignal,
			fmt.Sprintf("%s requested %s", sig.Author, sig.Command),
			map[string]string{"comment": sig.CommentID})
	}

	pr, err := c.deps.API.GetPullRequest(ctx, c.opts.PR)
	if err != nil {
		return c.fail(ctx, out, err)
	}
	if c.deps.Ownership != nil {
		if err := c.deps.Ownership.Check(ctx, pr.HeadBranch); err != nil {
			return c.fail(ctx, out, err)
		}
	}

	all, err := c.deps.API.ListReviewThreads(ctx, c.opts.PR)
	if err != nil {
		return c.fail(ctx, out, fmt.Errorf("listing review threads: %w", err))
	}
	status := Evaluate(pr, all, c.opts.Bots)
	out.Status = &status
	slog.Info("pr status", "pr", pr.Number, "iteration", out.Iteration, "status", status.Status)

	switch status.Status {
	case StatusClosed:
		return c.finish(ctx, out, ActionClosed, strings.Join(status.Reasons, "; "), nil)
	case StatusClean:
		return c.finish(ctx, out, ActionClean, "mergeable with no unresolved bot threads", nil)
	case StatusPendingMergeability:
		return c.step(out, ActionWait, strings.Join(status.Reasons, "; "))
	case StatusConflicting, StatusConflictsBlocked:
		return c.resolveConflicts(ctx, out, pr)
	default:
		return c.handleReview(ctx, out, pr, all)
	}
}

func (c *Controller) lowQuota(rl *provider.RateLimits) string {
	return BelowThreshold(rl, c.opts.MinCoreRemaining, c.opts.MinGraphQLRemaining)
}

// BelowThreshold describes which quotas in rl are under their floors, or
// returns "" when both are healthy.
func BelowThreshold(rl *provider.RateLimits, minCore, minGraphQL int) string {
	var low []string
	if rl.Core.Remaining < minCore {
		low = append(low, fmt.Sprintf("REST %d/%d (resets %s)", rl.Core.Remaining, rl.Core.Limit, rl.Core.Reset.UTC().Format(time.RFC3339)))
	}
	if rl.GraphQL.Remaining < minGraphQL {
		low = append(low, fmt.Sprintf("GraphQL %d/%d (resets %s)", rl.GraphQL.Remaining, rl.GraphQL.Limit, rl.GraphQL.Reset.UTC().Format(time.RFC3339)))
	}
	if len(low) == 0 {
		return ""
	}
	return "rate limit below threshold: " + strings.Join(low, ", ")
}

func (c *Controller) resolveConflicts(ctx context.Context, out *Outcome, pr *provider.PullRequest) (*Outcome, error) {
	if c.deps.Conflicts == nil {
		return c.finish(ctx, out, ActionEscalate, "merge conflicts need resolution but no local checkout is available", nil)
	}
	if c.opts.Branch != "" && c.opts.Branch != pr.HeadBranch {
		return c.finish(ctx, out, ActionEscalate,
			fmt.Sprintf("checked-out branch %q is not the PR head %q; cannot resolve conflicts here", c.opts.Branch, pr.HeadBranch), nil)
	}

	report, err := c.deps.Conflicts.Resolve(ctx, pr.BaseBranch, conflict.Options{DryRun: c.opts.DryRun})
	out.Conflicts = report

	details := map[string]string{"base": pr.BaseBranch}
	if report != nil {
		details["clean"] = strconv.FormatBool(report.Clean)
		details["resolved"] = strconv.Itoa(report.ResolvedCount)
		if report.Commit != "" {
			details["commit"] = report.Commit
		}
		for _, res := range report.Results {
			details["file "+res.Path] = fmt.Sprintf("%s: %s", res.Strategy, res.Citation)
		}
	}

	switch {
	case err == nil:
		c.audit(ctx, out, ActionConflictResolution, details)
		if report.DryRun {
			return c.step(out, ActionConflictResolution, fmt.Sprintf("dry run: %d conflicted file(s) would be resolved", len(report.Results)))
		}
		// The host keeps reporting conflicts until the branch is pushed.
		reason := fmt.Sprintf("resolved %d conflicted file(s) in %s; push the branch to update the PR", report.ResolvedCount, shortCommit(report.Commit))
		if report.Clean {
			reason = "local branch merges cleanly with base but the host reports conflicts; push local commits to update the PR"
		}
		final := map[string]string{"base": pr.BaseBranch}
		if report.Commit != "" {
			final["commit"] = report.Commit
		}
		return c.finish(ctx, out, ActionPushRequired, reason, final)

	case report != nil && report.NeedsCleanup:
		details["error"] = err.Error()
		return c.finish(ctx, out, ActionError, "conflict resolution failed and the working tree needs manual cleanup (git merge --abort)", details)

	case errors.Is(err, conflict.ErrRolledBack):
		details["error"] = err.Error()
		details["advice"] = "no resolution was applied; retrying from a clean state"
		c.audit(ctx, out, ActionConflictResolution, details)
		return c.step(out, ActionConflictResolution, "conflict resolution rolled back; will retry")

	default:
		return c.fail(ctx, out, fmt.Errorf("resolving conflicts: %w", err))
	}
}

func shortCommit(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	if sha == "" {
		return "a merge commit"
	}
	return sha
}

func (c *Controller) handleReview(ctx context.Context, out *Outcome, pr *provider.PullRequest, all []provider.ReviewThread) (*Outcome, error) {
	reviews, err := c.deps.API.ListReviews(ctx, pr.Number)
	if err != nil {
		return c.fail(ctx, out, fmt.Errorf("listing reviews: %w", err))
	}
	resp := classify.ClassifyResponse(classify.Input{
		Comments: c.comments,
		Reviews:  reviews,
		Threads:  all,
		Now:      c.opts.Now(),
	}, classify.Options{Bots: c.opts.Bots, Lookback: c.opts.Lookback})
	out.Response = &resp
	slog.Info("bot response", "pr", pr.Number, "decision", resp.Decision, "approval", resp.ApprovalScore, "rejection", resp.RejectionScore)

	switch resp.Decision {
	case classify.Approved:
		rep := c.deps.Threads.ResolveThreads(ctx, threads.Split(all, c.opts.Bots), threads.Options{
			IncludeSecurity: c.opts.IncludeSecurity,
			DryRun:          c.opts.DryRun,
		})
		out.Threads = rep
		if rep.Resolved == 0 && rep.Failed == 0 && rep.Skipped > 0 && !rep.DryRun {
			return c.finish(ctx, out, ActionEscalate,
				fmt.Sprintf("bot approved but %d thread(s) need a human (security-sensitive or outdated)", rep.Skipped), nil)
		}
		return c.step(out, ActionResolveThreads,
			fmt.Sprintf("resolved %d, failed %d, skipped %d thread(s)", rep.Resolved, rep.Failed, rep.Skipped))

	case classify.Rejected:
		parsed := CollectFindings(c.comments, all, c.opts.Bots)
		out.Findings = len(parsed)
		if c.deps.Sink != nil {
			if err := c.deps.Sink.Findings(ctx, pr.Number, parsed); err != nil {
				return c.fail(ctx, out, fmt.Errorf("surfacing findings: %w", err))
			}
		}
		c.recordFindings(ctx, pr.Number, parsed)
		return c.step(out, ActionFix, fmt.Sprintf("bot requested changes; surfaced %d finding(s)", len(parsed)))

	default:
		return c.step(out, ActionWait, resp.Reason)
	}
}

// CollectFindings parses every open, current bot thread plus the newest
// out-of-diff summary comment into findings.
func CollectFindings(comments []provider.Comment, all []provider.ReviewThread, bots provider.Bots) []ParsedComment {
	var out []ParsedComment
	for _, th := range all {
		if th.IsResolved || th.IsOutdated {
			continue
		}
		for _, cm := range th.Comments {
			if bots.Is(cm.Author) {
				out = append(out, ParsedComment{
					ThreadID: th.ID, Path: th.Path, Line: th.Line,
					Comment: cm, Finding: extract.Parse(cm.Body),
				})
				break
			}
		}
	}

	var latest *provider.Comment
	for i := range comments {
		cm := &comments[i]
		if bots.Is(cm.Author) && extract.IsOutsideDiff(cm.Body) && (latest == nil || cm.CreatedAt.After(latest.CreatedAt)) {
			latest = cm
		}
	}
	if latest != nil {
		for _, f := range extract.ParseOutsideDiff(latest.Body) {
			pc := ParsedComment{Comment: *latest, Finding: f}
			if len(f.References) > 0 {
				pc.Path, pc.Line = f.References[0].Path, f.References[0].Line
			}
			out = append(out, pc)
		}
	}
	return out
}

// recordFindings stores findings not yet recorded in this run.
func (c *Controller) recordFindings(ctx context.Context, pr int, parsed []ParsedComment) {
	if c.deps.Tracker == nil || c.opts.DryRun {
		return
	}
	var records []tracker.Record
	var keys []string
	for _, p := range parsed {
		key := p.Comment.ID
		if p.Path != "" {
			key += "@" + p.Path + ":" + strconv.Itoa(p.Line)
		}
		if slices.Contains(c.session.Recorded, key) {
			continue
		}
		keys = append(keys, key)
		records = append(records, tracker.FromFinding(pr, p.Path, p.Finding))
	}
	if len(records) == 0 {
		return
	}
	if _, err := c.deps.Tracker.Record(ctx, records...); err != nil {
		slog.Warn("failed to record findings", "pr", pr, "error", err)
		return
	}
	c.session.Recorded = append(c.session.Recorded, keys...)
}

// step records a non-terminal iteration.
func (c *Controller) step(out *Outcome, action Action, reason string) (*Outcome, error) {
	out.Action, out.Reason = action, reason
	c.saveSession(out)
	return out, nil
}

// fail maps an error onto a terminal outcome. Transient failures pause the
// loop; a missing PR and cancellation are returned as errors.
func (c *Controller) fail(ctx context.Context, out *Outcome, err error) (*Outcome, error) {
	switch {
	case errors.Is(err, context.Canceled):
		return out, err
	case errors.Is(err, provider.ErrPRNotFound):
		out.Action, out.Terminal, out.Reason = ActionError, true, err.Error()
		return out, err
	case errors.Is(err, provider.ErrTransient), errors.Is(err, repo.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		o, _ := c.finish(ctx, out, ActionPause, "transient failure: "+err.Error(), nil)
		return o, nil
	case errors.Is(err, ownership.ErrNotOwned):
		o, _ := c.finish(ctx, out, ActionNotOwned, err.Error(), nil)
		return o, nil
	default:
		o, _ := c.finish(ctx, out, ActionError, err.Error(), nil)
		return o, err
	}
}

// finish records a terminal outcome and posts the audit entry and final
// summary. A branch that is not owned is never written to.
func (c *Controller) finish(ctx context.Context, out *Outcome, action Action, reason string, details map[string]string) (*Outcome, error) {
	out.Action, out.Terminal, out.Reason = action, true, reason
	slog.Info("loop finished", "pr", out.PR, "iteration", out.Iteration, "action", action, "reason", reason)

	if action != ActionNotOwned {
		if details == nil {
			details = map[string]string{}
		}
		details["reason"] = reason
		final := c.audit(ctx, out, action, details)
		c.postSummary(ctx, final)
	}

	switch action {
	case ActionClean, ActionClosed, ActionEscalate, ActionExitSignal:
		c.incrementTracker(ctx)
	}
	c.saveSession(out)
	return out, nil
}

func (c *Controller) incrementTracker(ctx context.Context) {
	if c.deps.Tracker == nil || c.opts.DryRun {
		return
	}
	if _, err := c.deps.Tracker.Increment(ctx); err != nil {
		slog.Warn("failed to increment tracker", "error", err)
		return
	}
	if c.deps.Tracker.Due(ctx) {
		slog.Info("pattern analysis is due; run `rabbitloop tracker analyze`")
	}
}

// audit posts one audit comment. Failures are logged, never fatal.
func (c *Controller) audit(ctx context.Context, out *Outcome, action Action, details map[string]string) AuditEntry {
	e := AuditEntry{
		Kind:      KindAudit,
		RunID:     c.session.RunID,
		PR:        c.opts.PR,
		Iteration: out.Iteration,
		Action:    action,
		Timestamp: c.opts.Now().UTC(),
		Details:   details,
	}
	c.posted = append(c.posted, e)

	body, err := FormatAuditComment(e)
	if err != nil {
		slog.Warn("failed to render audit comment", "error", err)
		return e
	}
	c.post(ctx, body, "audit", action)
	return e
}

func (c *Controller) postSummary(ctx context.Context, final AuditEntry) {
	history := History(c.comments, c.session.RunID)
	for _, e := range c.posted {
		if !containsEntry(history, e) {
			history = append(history, e)
		}
	}
	body, err := FormatSummary(Summary{Final: final, History: history})
	if err != nil {
		slog.Warn("failed to render summary", "error", err)
		return
	}
	c.post(ctx, body, "summary", final.Action)
}

func (c *Controller) post(ctx context.Context, body, kind string, action Action) {
	if c.opts.DryRun {
		slog.Info("dry run: not posting comment", "pr", c.opts.PR, "kind", kind, "action", action)
		return
	}
	if err := c.deps.API.PostComment(ctx, c.opts.PR, body); err != nil {
		slog.Warn("failed to post comment", "pr", c.opts.PR, "kind", kind, "action", action, "error", err)
	}
}

func containsEntry(entries []AuditEntry, e AuditEntry) bool {
	for _, x := range entries {
		if x.Iteration == e.Iteration && x.Action == e.Action && x.Timestamp.Equal(e.Timestamp) {
			return true
		}
	}
	return false
}

func (c *Controller) saveSession(out *Outcome) {
	var status Status
	if out.Status != nil {
		status = out.Status.Status
	}
	c.session.Record(c.opts.Now(), out.Iteration, out.Action, status, out.Reason)
	if c.session.Path == "" || c.opts.DryRun {
		return
	}
	if err := c.session.Save(); err != nil {
		slog.Warn("failed to save loop session", "path", c.session.Path, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
