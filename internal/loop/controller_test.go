package loop

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
	"github.com/alanmeadows/rabbitloop/internal/provider/mock_provider"
	"github.com/alanmeadows/rabbitloop/internal/store"
	"github.com/alanmeadows/rabbitloop/internal/tracker"
)

const prNum = 42

func healthyLimits() *provider.RateLimits {
	return &provider.RateLimits{
		Core:    provider.RateLimit{Limit: 5000, Remaining: 4000, Reset: t0.Add(time.Hour)},
		GraphQL: provider.RateLimit{Limit: 5000, Remaining: 4000, Reset: t0.Add(time.Hour)},
	}
}

type harness struct {
	api     *mock_provider.MockReviewAPI
	posted  []string
	tracker *tracker.Tracker
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:     mock_provider.NewMockReviewAPI(gomock.NewController(t)),
		tracker: tracker.New(store.NewMemoryBackend(), "tracker", tracker.Options{Interval: 1}),
		now:     t0,
	}
	h.api.EXPECT().PostComment(gomock.Any(), prNum, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int, body string) error {
			h.posted = append(h.posted, body)
			return nil
		}).AnyTimes()
	return h
}

func (h *harness) options() Options {
	return Options{
		PR:                  prNum,
		Bots:                testBots,
		MaxIterations:       5,
		PollInterval:        time.Second,
		Lookback:            15 * time.Minute,
		MinCoreRemaining:    100,
		MinGraphQLRemaining: 100,
		Now:                 func() time.Time { return h.now },
		Sleep:               func(context.Context, time.Duration) error { return nil },
	}
}

func (h *harness) controller(t *testing.T, deps Deps, opts Options) *Controller {
	t.Helper()
	deps.API = h.api
	if deps.Tracker == nil {
		deps.Tracker = h.tracker
	}
	c, err := New(deps, opts)
	require.NoError(t, err)
	return c
}

// expectPoll wires one full iteration's reads.
func (h *harness) expectPoll(pr *provider.PullRequest, comments []provider.Comment, threads []provider.ReviewThread) {
	h.api.EXPECT().RateLimits(gomock.Any()).Return(healthyLimits(), nil)
	h.api.EXPECT().ListComments(gomock.Any(), prNum).Return(comments, nil)
	h.api.EXPECT().GetPullRequest(gomock.Any(), prNum).Return(pr, nil)
	h.api.EXPECT().ListReviewThreads(gomock.Any(), prNum).Return(threads, nil)
}

func TestIterateCleanTerminates(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableClean), nil, nil)

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.True(t, out.Terminal)
	assert.Equal(t, ActionClean, out.Action)
	assert.Equal(t, 1, out.Iteration)

	require.Len(t, h.posted, 2, "audit entry plus final summary")
	audit, ok := ParseAuditComment(h.posted[0])
	require.True(t, ok)
	assert.Equal(t, ActionClean, audit.Action)
	assert.Equal(t, out.RunID, audit.RunID)
	summary, ok := ParseAuditComment(h.posted[1])
	require.True(t, ok)
	assert.Equal(t, KindSummary, summary.Kind)

	assert.Equal(t, 1, h.tracker.Snapshot(t.Context()).PRCount)
}

func TestIterateConflictsBlockedRunsResolver(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableConflicting), nil,
		[]provider.ReviewThread{botThread("T1", "auth.py", 10, "**Major** check token expiry")})

	fake := &fakeResolver{report: &conflict.Report{
		Base: "main", ResolvedCount: 1, Commit: "abc123",
		Results: []conflict.Result{{Path: "app.go", Success: true, Strategy: conflict.StrategyCurrentPriority,
			Citation: "app.go: current_priority; kept current branch (1111111) verbatim, discarded 1 incoming line(s) [3] from 2222222", NeedsReview: true}},
	}}
	opts := h.options()
	opts.Branch = "05--feature"

	out, err := h.controller(t, Deps{Conflicts: fake}, opts).Iterate(t.Context())
	require.NoError(t, err)
	assert.True(t, out.Terminal)
	assert.Equal(t, ActionPushRequired, out.Action)
	assert.Contains(t, out.Reason, "abc123")
	assert.Equal(t, StatusConflictsBlocked, out.Status.Status)
	assert.Equal(t, "main", fake.base)

	require.Len(t, h.posted, 3, "resolution audit, push audit, summary")
	e, ok := ParseAuditComment(h.posted[0])
	require.True(t, ok)
	assert.Equal(t, ActionConflictResolution, e.Action)
	assert.Contains(t, e.Details["file app.go"], "discarded 1 incoming line(s)")
	stop, ok := ParseAuditComment(h.posted[1])
	require.True(t, ok)
	assert.Equal(t, ActionPushRequired, stop.Action)
	assert.Equal(t, "abc123", stop.Details["commit"])
}

// A local merge that is already clean while the host still reports
// conflicts means unpushed commits; the run must stop instead of repeating
// the same pass until it escalates.
func TestRunStopsForPushWhenHostStillConflicting(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableConflicting), nil, nil)

	fake := &fakeResolver{}
	out, err := h.controller(t, Deps{Conflicts: fake}, h.options()).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionPushRequired, out.Action)
	assert.Equal(t, 1, out.Iteration)
	assert.Contains(t, out.Reason, "push")

	require.Len(t, h.posted, 3)
	var conflictAudits int
	for _, body := range h.posted {
		if e, ok := ParseAuditComment(body); ok && e.Action == ActionConflictResolution {
			conflictAudits++
		}
	}
	assert.Equal(t, 1, conflictAudits)
}

func TestIterateConflictRollbackRetries(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableConflicting), nil, nil)

	fake := &fakeResolver{
		report: &conflict.Report{RolledBack: true},
		err:    errors.Join(conflict.ErrRolledBack, errors.New("commit failed")),
	}
	out, err := h.controller(t, Deps{Conflicts: fake}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.False(t, out.Terminal)
	assert.Equal(t, ActionConflictResolution, out.Action)
	require.Len(t, h.posted, 1)
	e, _ := ParseAuditComment(h.posted[0])
	assert.Contains(t, e.Details["advice"], "no resolution was applied")
}

func TestIterateConflictOnForeignCheckoutEscalates(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableConflicting), nil, nil)

	opts := h.options()
	opts.Branch = "main"
	out, err := h.controller(t, Deps{Conflicts: &fakeResolver{}}, opts).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionEscalate, out.Action)
	assert.Contains(t, out.Reason, "not the PR head")
}

func TestIterateRateLimitPauses(t *testing.T) {
	h := newHarness(t)
	limits := healthyLimits()
	limits.GraphQL.Remaining = 12
	h.api.EXPECT().RateLimits(gomock.Any()).Return(limits, nil)

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionPause, out.Action)
	assert.Contains(t, out.Reason, "GraphQL 12/5000")
	assert.Zero(t, h.tracker.Snapshot(t.Context()).PRCount, "a pause does not count as a processed PR")
}

func TestIterateExitSignal(t *testing.T) {
	h := newHarness(t)
	h.api.EXPECT().RateLimits(gomock.Any()).Return(healthyLimits(), nil)
	h.api.EXPECT().ListComments(gomock.Any(), prNum).Return([]provider.Comment{
		{ID: "IC_1", Author: "alice", Body: "/rabbitloop stop", CreatedAt: t0.Add(time.Second)},
	}, nil)
	h.now = t0

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionExitSignal, out.Action)
	require.NotNil(t, out.Signal)
	assert.Equal(t, "stop", out.Signal.Command)
	assert.Len(t, h.posted, 2)
}

func TestIterateTransientFailurePauses(t *testing.T) {
	h := newHarness(t)
	h.api.EXPECT().RateLimits(gomock.Any()).Return(healthyLimits(), nil)
	h.api.EXPECT().ListComments(gomock.Any(), prNum).Return(nil, nil)
	h.api.EXPECT().GetPullRequest(gomock.Any(), prNum).Return(nil, provider.ErrTransient)

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionPause, out.Action)
	assert.True(t, out.Terminal)
}

func TestIteratePRNotFoundIsHardError(t *testing.T) {
	h := newHarness(t)
	h.api.EXPECT().RateLimits(gomock.Any()).Return(healthyLimits(), nil)
	h.api.EXPECT().ListComments(gomock.Any(), prNum).Return(nil, nil)
	h.api.EXPECT().GetPullRequest(gomock.Any(), prNum).Return(nil, provider.ErrPRNotFound)

	_, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	assert.ErrorIs(t, err, provider.ErrPRNotFound)
	assert.Empty(t, h.posted)
}

func TestIterateRefusesUnownedBranch(t *testing.T) {
	h := newHarness(t)
	h.api.EXPECT().RateLimits(gomock.Any()).Return(healthyLimits(), nil)
	h.api.EXPECT().ListComments(gomock.Any(), prNum).Return(nil, nil)
	pr := openPR(prNum, provider.MergeableClean)
	pr.HeadBranch = "06--other"
	h.api.EXPECT().GetPullRequest(gomock.Any(), prNum).Return(pr, nil)

	owners := ownership.NewTracker(store.NewMemoryBackend(), "branches",
		func(context.Context) (string, error) { return "05--mine", nil })

	out, err := h.controller(t, Deps{Ownership: owners}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionNotOwned, out.Action)
	assert.Contains(t, out.Reason, "06--other")
	assert.Empty(t, h.posted, "nothing is written to a PR this workspace does not own")
}

func TestIterateRejectedSurfacesFindings(t *testing.T) {
	h := newHarness(t)
	threads := []provider.ReviewThread{
		botThread("T1", "auth.py", 10, "**Critical** Rule #4: SQL injection in login query"),
		botThread("T2", "util.py", 3, "**Minor** rename helper"),
	}
	comments := []provider.Comment{
		{ID: "IC_9", Author: "coderabbitai[bot]", Body: "This still has issues and needs to be changed", CreatedAt: t0.Add(-time.Minute)},
	}
	h.expectPoll(openPR(prNum, provider.MergeableClean), comments, threads)
	h.api.EXPECT().ListReviews(gomock.Any(), prNum).Return(nil, nil)

	var buf bytes.Buffer
	c := h.controller(t, Deps{Sink: WriterSink{W: &buf}}, h.options())
	out, err := c.Iterate(t.Context())
	require.NoError(t, err)

	assert.False(t, out.Terminal)
	assert.Equal(t, ActionFix, out.Action)
	assert.Equal(t, 2, out.Findings)
	assert.Contains(t, buf.String(), "[auth.py:10]")
	assert.Contains(t, buf.String(), "Rule #4")

	state := h.tracker.Snapshot(t.Context())
	require.Len(t, state.Findings, 2)
	assert.Equal(t, "4", state.Findings[0].RuleID)
	assert.True(t, state.Findings[0].Security)

	// The same findings are not recorded twice in one run.
	h.expectPoll(openPR(prNum, provider.MergeableClean), comments, threads)
	h.api.EXPECT().ListReviews(gomock.Any(), prNum).Return(nil, nil)
	_, err = c.Iterate(t.Context())
	require.NoError(t, err)
	assert.Len(t, h.tracker.Snapshot(t.Context()).Findings, 2)
}

func TestIterateApprovedResolvesNonSecurityThreads(t *testing.T) {
	h := newHarness(t)
	threads := []provider.ReviewThread{
		botThread("T1", "auth.py", 10, "**Critical** hardcoded password"),
		botThread("T2", "util.py", 3, "**Minor** rename helper"),
	}
	h.expectPoll(openPR(prNum, provider.MergeableClean), nil, threads)
	h.api.EXPECT().ListReviews(gomock.Any(), prNum).Return([]provider.Review{
		{ID: "R1", Author: "coderabbitai[bot]", State: provider.ReviewApproved, SubmittedAt: t0.Add(-time.Minute)},
	}, nil)
	h.api.EXPECT().ResolveThread(gomock.Any(), "T2").Return(nil)

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionResolveThreads, out.Action)
	require.NotNil(t, out.Threads)
	assert.Equal(t, 1, out.Threads.Resolved)
	assert.Equal(t, 1, out.Threads.Skipped)
}

func TestIterateApprovedWithOnlySecurityThreadsEscalates(t *testing.T) {
	h := newHarness(t)
	threads := []provider.ReviewThread{botThread("T1", "auth.py", 10, "**Critical** hardcoded password")}
	h.expectPoll(openPR(prNum, provider.MergeableClean), nil, threads)
	h.api.EXPECT().ListReviews(gomock.Any(), prNum).Return([]provider.Review{
		{ID: "R1", Author: "coderabbitai", State: provider.ReviewApproved, SubmittedAt: t0.Add(-time.Minute)},
	}, nil)

	out, err := h.controller(t, Deps{}, h.options()).Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionEscalate, out.Action)
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	h := newHarness(t)
	opts := h.options()
	opts.MaxIterations = 2

	pending := openPR(prNum, provider.MergeableUnknown)
	h.expectPoll(pending, nil, nil)
	h.expectPoll(pending, nil, nil)

	sleeps := 0
	opts.Sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

	out, err := h.controller(t, Deps{}, opts).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ActionEscalate, out.Action)
	assert.Equal(t, 2, out.Iteration)
	assert.Equal(t, 2, sleeps)

	require.Len(t, h.posted, 2)
	summary, ok := ParseAuditComment(h.posted[1])
	require.True(t, ok)
	assert.Equal(t, KindSummary, summary.Kind)
}

func TestRunHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	h.expectPoll(openPR(prNum, provider.MergeableUnknown), nil, nil)

	opts := h.options()
	opts.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	out, err := h.controller(t, Deps{}, opts).Run(t.Context())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ActionWait, out.Action)
}

func TestSessionResumesAcrossInvocations(t *testing.T) {
	h := newHarness(t)
	opts := h.options()
	opts.SessionDir = t.TempDir()

	pending := openPR(prNum, provider.MergeableUnknown)
	h.expectPoll(pending, nil, nil)
	first := h.controller(t, Deps{}, opts)
	out, err := first.Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Iteration)

	h.expectPoll(pending, nil, nil)
	second := h.controller(t, Deps{}, opts)
	out, err = second.Iterate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Iteration)
	assert.Equal(t, first.Session().RunID, second.Session().RunID)

	opts.Reset = true
	third := h.controller(t, Deps{}, opts)
	assert.NotEqual(t, first.Session().RunID, third.Session().RunID)
	assert.Zero(t, third.Session().Iteration)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Deps{}, Options{PR: 1})
	assert.Error(t, err)
	h := newHarness(t)
	_, err = New(Deps{API: h.api}, Options{})
	assert.Error(t, err)
}

func TestCollectFindingsIncludesOutsideDiff(t *testing.T) {
	body := "> [!CAUTION]\n> Some comments are outside the diff and can’t be posted inline due to the platform limitations.\n\n" +
		"`cmd/main.go:12`: **Major** handle the error\n\n`pkg/x.go:40`: **Minor** typo in log message\n"
	comments := []provider.Comment{{ID: "IC_1", Author: "coderabbitai[bot]", Body: body, CreatedAt: t0}}
	resolved := botThread("T9", "a.go", 1, "old")
	resolved.IsResolved = true

	got := CollectFindings(comments, []provider.ReviewThread{resolved, botThread("T1", "b.go", 2, "**Major** nil deref")}, testBots)
	require.Len(t, got, 3)
	assert.Equal(t, "T1", got[0].ThreadID)
	assert.Equal(t, "cmd/main.go", got[1].Path)
	assert.Equal(t, 12, got[1].Line)
	assert.Equal(t, "pkg/x.go", got[2].Path)
}

type fakeResolver struct {
	base   string
	report *conflict.Report
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, base string, _ conflict.Options) (*conflict.Report, error) {
	f.base = base
	if f.report == nil {
		return &conflict.Report{Base: base, Clean: true}, f.err
	}
	return f.report, f.err
}
