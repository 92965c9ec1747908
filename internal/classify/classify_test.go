package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

var (
	testBots = provider.Bots{"coderabbitai", "coderabbitai[bot]"}
	testNow  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func opts() Options {
	return Options{Bots: testBots, Lookback: 15 * time.Minute}
}

func botComment(body string, ago time.Duration) provider.Comment {
	return provider.Comment{Author: "coderabbitai[bot]", Body: body, CreatedAt: testNow.Add(-ago)}
}

func TestClassifyLGTMIsApproved(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{botComment("LGTM, no further changes needed", time.Minute)},
		Now:      testNow,
	}, opts())

	assert.Equal(t, Approved, resp.Decision)
	assert.Zero(t, resp.RejectionScore)
	assert.GreaterOrEqual(t, resp.ApprovalScore, DecisionThreshold)
}

func TestClassifyStillHasIssuesIsRejected(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{botComment("This still has issues and needs to be changed", time.Minute)},
		Now:      testNow,
	}, opts())

	assert.Equal(t, Rejected, resp.Decision)
	assert.GreaterOrEqual(t, resp.RejectionScore, 3)
	assert.Zero(t, resp.ApprovalScore)
}

func TestClassifyNegationVoidsApproval(t *testing.T) {
	a, r := ScoreText("This does not look good to me. I can't approve this")
	assert.Zero(t, a)
	assert.Zero(t, r)

	a, _ = ScoreText("Looks good. However, approve after tests")
	assert.Equal(t, 2, a, "negation only affects its own sentence")
}

func TestClassifyContextRequirement(t *testing.T) {
	_, r := ScoreText("Missing!")
	assert.Zero(t, r, "a bare one-word sentence lacks context")

	_, r = ScoreText("The nil check on the response is missing")
	assert.Equal(t, 1, r)
}

func TestClassifySilenceIsPending(t *testing.T) {
	resp := ClassifyResponse(Input{Now: testNow}, opts())
	assert.Equal(t, Pending, resp.Decision)

	resp = ClassifyResponse(Input{
		Comments: []provider.Comment{{Author: "alice", Body: "LGTM", CreatedAt: testNow}},
		Now:      testNow,
	}, opts())
	assert.Equal(t, Pending, resp.Decision, "human comments are not bot evidence")
}

func TestClassifyAmbiguousIsPending(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{
			botComment("Looks good overall", time.Minute),
			botComment("The retry logic still has issues", 2*time.Minute),
		},
		Now: testNow,
	}, opts())
	// approval 2, rejection 3: rejection wins outright.
	assert.Equal(t, Rejected, resp.Decision)

	resp = ClassifyResponse(Input{
		Comments: []provider.Comment{
			botComment("LGTM", time.Minute),
			botComment("The retry logic still has issues", 2*time.Minute),
		},
		Now: testNow,
	}, opts())
	assert.Equal(t, Pending, resp.Decision, "tied scores stay pending")
}

func TestClassifyOldCommentsOutsideWindowFallBack(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{botComment("LGTM", time.Hour)},
		Reviews: []provider.Review{
			{ID: "R1", Author: "coderabbitai", State: provider.ReviewApproved, SubmittedAt: testNow.Add(-3 * time.Hour)},
			{ID: "R2", Author: "coderabbitai", State: provider.ReviewChangesRequested, SubmittedAt: testNow.Add(-2 * time.Hour)},
		},
		Now: testNow,
	}, opts())
	assert.Equal(t, Rejected, resp.Decision, "latest bot review state wins without recent activity")
	assert.Contains(t, resp.Reason, "R2")
}

func TestClassifyReviewStateShortCircuits(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{botComment("LGTM", time.Minute)},
		Reviews: []provider.Review{
			{ID: "R1", Author: "coderabbitai[bot]", State: provider.ReviewChangesRequested, SubmittedAt: testNow.Add(-time.Minute)},
		},
		Now: testNow,
	}, opts())
	assert.Equal(t, Rejected, resp.Decision)
}

// Adding an APPROVED bot review forces approval regardless of text scores.
func TestClassifyApprovedReviewIsMonotonic(t *testing.T) {
	inputs := []Input{
		{},
		{Comments: []provider.Comment{botComment("This still has issues and needs to be changed", time.Minute)}},
		{Comments: []provider.Comment{botComment("Issue remains. Not resolved. Please fix the handler now", time.Minute)}},
		{Reviews: []provider.Review{{ID: "R0", Author: "coderabbitai", State: provider.ReviewChangesRequested, SubmittedAt: testNow.Add(-time.Minute)}}},
	}
	for i, in := range inputs {
		in.Now = testNow
		in.Reviews = append(in.Reviews, provider.Review{
			ID: "RA", Author: "coderabbitai", State: provider.ReviewApproved, SubmittedAt: testNow.Add(-30 * time.Second),
		})
		assert.Equal(t, Approved, ClassifyResponse(in, opts()).Decision, "input %d", i)
	}
}

func TestClassifyNewerChangesRequestedBeatsOlderApproval(t *testing.T) {
	in := Input{
		Reviews: []provider.Review{
			{ID: "R1", Author: "coderabbitai", State: provider.ReviewApproved, SubmittedAt: testNow.Add(-10 * time.Minute)},
			{ID: "R2", Author: "coderabbitai", State: provider.ReviewChangesRequested, SubmittedAt: testNow.Add(-time.Minute)},
		},
		Comments: []provider.Comment{botComment("LGTM", 12*time.Minute)},
		Now:      testNow,
	}
	resp := ClassifyResponse(in, opts())
	assert.Equal(t, Rejected, resp.Decision)
	assert.Contains(t, resp.Reason, "R2")

	// Order in the input does not matter, only submission time.
	in.Reviews[0], in.Reviews[1] = in.Reviews[1], in.Reviews[0]
	assert.Equal(t, Rejected, ClassifyResponse(in, opts()).Decision)
}

func TestClassifyResolvedThreadBonus(t *testing.T) {
	resp := ClassifyResponse(Input{
		Comments: []provider.Comment{botComment("Thanks for the update", time.Minute)},
		Threads: []provider.ReviewThread{
			{ID: "T1", IsResolved: true, Comments: []provider.Comment{{Author: "coderabbitai", CreatedAt: testNow.Add(-time.Hour)}}},
			{ID: "T2", IsResolved: true, Comments: []provider.Comment{{Author: "coderabbitai", CreatedAt: testNow.Add(-time.Hour)}}},
		},
		Now: testNow,
	}, opts())
	assert.Equal(t, ResolvedThreadBonus, resp.ApprovalScore, "bonus applies once")
	assert.Equal(t, Approved, resp.Decision)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		approval, rejection int
		want                Decision
	}{
		{0, 0, Pending},
		{1, 0, Approved},
		{3, 2, Approved},
		{3, 3, Pending},
		{2, 3, Rejected},
		{0, 2, Pending},
		{2, 1, Pending},
		{5, 4, Approved},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.approval, tt.rejection), "approval=%d rejection=%d", tt.approval, tt.rejection)
	}
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"one", "two", "three"}, Sentences("One. Two!\n\nThree."))
	assert.Empty(t, Sentences("  ...  "))
}

func TestIsSecuritySensitive(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Possible SQL Injection in query builder", true},
		{"Hardcoded API key in config", true},
		{"Use of eval( on user input", true},
		{"Unvalidated redirect enables XSS", true},
		{"Rename variable for clarity", false},
		{"Missing docstring", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSecuritySensitive(tt.text), tt.text)
	}
}
