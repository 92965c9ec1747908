package threads

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanmeadows/rabbitloop/internal/provider"
	"github.com/alanmeadows/rabbitloop/internal/provider/mock_provider"
)

var bots = provider.Bots{"coderabbitai"}

func thread(id, body string) provider.ReviewThread {
	return provider.ReviewThread{
		ID:       id,
		Path:     id + ".go",
		Line:     1,
		Comments: []provider.Comment{{Author: "coderabbitai[bot]", Body: body}},
	}
}

func fixtureThreads() []provider.ReviewThread {
	resolved := thread("done", "nit")
	resolved.IsResolved = true
	human := provider.ReviewThread{ID: "human", Comments: []provider.Comment{{Author: "alice", Body: "password?"}}}
	outdated := thread("old", "rename this")
	outdated.IsOutdated = true
	return []provider.ReviewThread{
		thread("style", "**Minor** rename variable"),
		thread("sqli", "**Critical** SQL injection in query"),
		resolved,
		human,
		outdated,
	}
}

func TestSplit(t *testing.T) {
	p := Split(fixtureThreads(), bots)

	require.Len(t, p.NonSecurity, 1)
	assert.Equal(t, "style", p.NonSecurity[0].ID)
	require.Len(t, p.Security, 1)
	assert.Equal(t, "sqli", p.Security[0].ID)
	require.Len(t, p.Outdated, 1)
	assert.Equal(t, "old", p.Outdated[0].ID)
	assert.Equal(t, 3, p.Unresolved())
}

func TestResolveSkipsSecurityByDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)
	api.EXPECT().ListReviewThreads(gomock.Any(), 42).Return(fixtureThreads(), nil)
	api.EXPECT().ResolveThread(gomock.Any(), "style").Return(nil)

	report, err := NewResolver(api, bots).Resolve(t.Context(), 42, Options{})
	require.NoError(t, err)

	assert.Equal(t, 42, report.PR)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Failed)

	byID := map[string]Outcome{}
	for _, o := range report.Outcomes {
		byID[o.ThreadID] = o
	}
	assert.True(t, byID["style"].Resolved)
	assert.True(t, byID["sqli"].Skipped)
	assert.True(t, byID["sqli"].Security)
	assert.Equal(t, "outdated", byID["old"].Reason)
}

func TestResolveWithOverrideIncludesSecurity(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)
	api.EXPECT().ListReviewThreads(gomock.Any(), 7).Return(fixtureThreads(), nil)
	api.EXPECT().ResolveThread(gomock.Any(), "style").Return(nil)
	api.EXPECT().ResolveThread(gomock.Any(), "sqli").Return(nil)

	report, err := NewResolver(api, bots).Resolve(t.Context(), 7, Options{IncludeSecurity: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Resolved)
	assert.Equal(t, 1, report.Skipped, "outdated threads stay open even with the override")
}

func TestResolveFailureDoesNotAbortOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)

	p := Partition{NonSecurity: []provider.ReviewThread{thread("a", "x"), thread("b", "y"), thread("c", "z")}}
	gomock.InOrder(
		api.EXPECT().ResolveThread(gomock.Any(), "a").Return(nil),
		api.EXPECT().ResolveThread(gomock.Any(), "b").Return(errors.New("boom")),
		api.EXPECT().ResolveThread(gomock.Any(), "c").Return(nil),
	)

	report := NewResolver(api, bots).ResolveThreads(t.Context(), p, Options{})
	assert.Equal(t, 2, report.Resolved)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "boom", report.Outcomes[1].Error)
	assert.False(t, report.Outcomes[1].Resolved)
}

func TestResolveDryRunMakesNoCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)

	p := Partition{NonSecurity: []provider.ReviewThread{thread("a", "x")}}
	report := NewResolver(api, bots).ResolveThreads(t.Context(), p, Options{DryRun: true})

	assert.True(t, report.DryRun)
	assert.Zero(t, report.Resolved)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Resolved)
}

func TestResolveRepliesBeforeResolving(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)

	p := Partition{NonSecurity: []provider.ReviewThread{thread("a", "x")}}
	gomock.InOrder(
		api.EXPECT().ReplyToThread(gomock.Any(), "a", "Addressed in latest push").Return(errors.New("reply failed")),
		api.EXPECT().ResolveThread(gomock.Any(), "a").Return(nil),
	)

	report := NewResolver(api, bots).ResolveThreads(t.Context(), p, Options{Reply: "Addressed in latest push"})
	assert.Equal(t, 1, report.Resolved)
}

func TestResolveListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock_provider.NewMockReviewAPI(ctrl)
	api.EXPECT().ListReviewThreads(gomock.Any(), 9).Return(nil, provider.ErrTransient)

	_, err := NewResolver(api, bots).Resolve(t.Context(), 9, Options{})
	assert.ErrorIs(t, err, provider.ErrTransient)
}
