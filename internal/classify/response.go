// Package classify scores review bot follow-ups and labels security findings.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// Decision is the classifier outcome.
type Decision string

const (
	Approved Decision = "approved"
	Rejected Decision = "rejected"
	Pending  Decision = "pending"
)

// Tunable thresholds. They were chosen empirically; changing them shifts how
// eagerly the loop treats bot prose as a verdict.
const (
	// DecisionThreshold is the score either side needs to win outright.
	DecisionThreshold = 3
	// MinContextMargin is how much longer than the phrase its sentence must
	// be for a context-requiring phrase to count.
	MinContextMargin = 10
	// ResolvedThreadBonus is added to the approval score once when a bot
	// thread has been resolved.
	ResolvedThreadBonus = 1
)

// Phrase is one row of a scoring table.
type Phrase struct {
	Pattern string
	Weight  int
	// NeedsContext requires the sentence to be at least MinContextMargin
	// characters longer than Pattern, filtering terse one-word matches.
	NeedsContext bool
}

// ApprovalPhrases score toward approval unless a negation shares the sentence.
var ApprovalPhrases = []Phrase{
	{Pattern: "lgtm", Weight: 3},
	{Pattern: "looks good to me", Weight: 3},
	{Pattern: "all issues have been addressed", Weight: 3},
	{Pattern: "looks good", Weight: 2},
	{Pattern: "no further changes", Weight: 2},
	{Pattern: "no further comments", Weight: 2},
	{Pattern: "no issues found", Weight: 2},
	{Pattern: "has been addressed", Weight: 2},
	{Pattern: "has been resolved", Weight: 2},
	{Pattern: "thanks for fixing", Weight: 2},
	{Pattern: "approve", Weight: 2},
	{Pattern: "great job", Weight: 1},
	{Pattern: "well done", Weight: 1},
	{Pattern: "fixed", Weight: 1, NeedsContext: true},
}

// RejectionPhrases score toward rejection.
var RejectionPhrases = []Phrase{
	{Pattern: "still has issues", Weight: 3},
	{Pattern: "still present", Weight: 3},
	{Pattern: "issue remains", Weight: 3},
	{Pattern: "not resolved", Weight: 3},
	{Pattern: "not addressed", Weight: 3},
	{Pattern: "not been addressed", Weight: 3},
	{Pattern: "not been fixed", Weight: 3},
	{Pattern: "must be fixed", Weight: 2, NeedsContext: true},
	{Pattern: "needs to be changed", Weight: 2, NeedsContext: true},
	{Pattern: "needs to be fixed", Weight: 2, NeedsContext: true},
	{Pattern: "needs changes", Weight: 2, NeedsContext: true},
	{Pattern: "please fix", Weight: 2, NeedsContext: true},
	{Pattern: "should be changed", Weight: 1, NeedsContext: true},
	{Pattern: "incorrect", Weight: 1, NeedsContext: true},
	{Pattern: "missing", Weight: 1, NeedsContext: true},
}

var (
	negationRe      = regexp.MustCompile(`\b(not|never|cannot|however)\b|n['’]t\b`)
	sentenceSplitRe = regexp.MustCompile(`[.!\n]+`)
)

// Input is everything the classifier looks at for one PR.
type Input struct {
	Comments []provider.Comment
	Reviews  []provider.Review
	Threads  []provider.ReviewThread
	Now      time.Time
}

// Options tune a classification.
type Options struct {
	Bots     provider.Bots
	Lookback time.Duration
}

// Response is the classifier result with the evidence behind it.
type Response struct {
	Decision       Decision `json:"decision"`
	ApprovalScore  int      `json:"approval_score"`
	RejectionScore int      `json:"rejection_score"`
	Reason         string   `json:"reason"`
}

// ClassifyResponse decides whether the bot approved, rejected, or has not yet
// answered. Ambiguous evidence yields Pending; silence is never approval.
func ClassifyResponse(in Input, opts Options) Response {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-opts.Lookback)
	inWindow := func(t time.Time) bool { return opts.Lookback <= 0 || !t.Before(cutoff) }

	var botReviews, recentReviews []provider.Review
	for _, r := range in.Reviews {
		if !opts.Bots.Is(r.Author) {
			continue
		}
		botReviews = append(botReviews, r)
		if inWindow(r.SubmittedAt) {
			recentReviews = append(recentReviews, r)
		}
	}

	// An explicit review state short-circuits scoring. The newest one wins,
	// so a fresh CHANGES_REQUESTED overrides an approval of older commits.
	if r, ok := latestVerdict(recentReviews); ok {
		return Response{
			Decision: decisionForState(r.State),
			Reason:   fmt.Sprintf("bot review %s is %s", r.ID, r.State),
		}
	}

	var texts []string
	for _, c := range in.Comments {
		if opts.Bots.Is(c.Author) && inWindow(c.CreatedAt) {
			texts = append(texts, c.Body)
		}
	}
	for _, th := range in.Threads {
		for _, c := range th.Comments {
			if opts.Bots.Is(c.Author) && inWindow(c.CreatedAt) {
				texts = append(texts, c.Body)
			}
		}
	}
	for _, r := range recentReviews {
		if strings.TrimSpace(r.Body) != "" {
			texts = append(texts, r.Body)
		}
	}

	if len(texts) == 0 && len(recentReviews) == 0 {
		return fallbackToLatestReview(botReviews)
	}

	approval, rejection := 0, 0
	for _, text := range texts {
		a, r := ScoreText(text)
		approval += a
		rejection += r
	}
	for _, th := range in.Threads {
		if th.IsResolved && th.Actionable(opts.Bots) {
			approval += ResolvedThreadBonus
			break
		}
	}

	return Response{
		Decision:       Decide(approval, rejection),
		ApprovalScore:  approval,
		RejectionScore: rejection,
		Reason:         fmt.Sprintf("scored %d recent bot messages: approval %d, rejection %d", len(texts), approval, rejection),
	}
}

// latestVerdict returns the newest review with an APPROVED or
// CHANGES_REQUESTED state. On equal timestamps the later entry wins.
func latestVerdict(reviews []provider.Review) (provider.Review, bool) {
	var latest provider.Review
	found := false
	for _, r := range reviews {
		if r.State != provider.ReviewApproved && r.State != provider.ReviewChangesRequested {
			continue
		}
		if !found || !r.SubmittedAt.Before(latest.SubmittedAt) {
			latest, found = r, true
		}
	}
	return latest, found
}

// fallbackToLatestReview uses only the state of the newest bot review.
func fallbackToLatestReview(reviews []provider.Review) Response {
	if len(reviews) == 0 {
		return Response{Decision: Pending, Reason: "no bot activity"}
	}
	sorted := append([]provider.Review(nil), reviews...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt) })
	latest := sorted[len(sorted)-1]
	return Response{
		Decision: decisionForState(latest.State),
		Reason:   fmt.Sprintf("no recent bot activity; latest bot review %s is %s", latest.ID, latest.State),
	}
}

func decisionForState(s provider.ReviewState) Decision {
	switch s {
	case provider.ReviewApproved:
		return Approved
	case provider.ReviewChangesRequested:
		return Rejected
	default:
		return Pending
	}
}

// ScoreText scores one message against both phrase tables.
func ScoreText(text string) (approval, rejection int) {
	for _, sentence := range Sentences(text) {
		negated := negationRe.MatchString(sentence)
		for _, p := range ApprovalPhrases {
			if !negated && p.matches(sentence) {
				approval += p.Weight
			}
		}
		for _, p := range RejectionPhrases {
			if p.matches(sentence) {
				rejection += p.Weight
			}
		}
	}
	return approval, rejection
}

func (p Phrase) matches(sentence string) bool {
	if !strings.Contains(sentence, p.Pattern) {
		return false
	}
	if p.NeedsContext {
		return len(sentence) >= len(p.Pattern)+MinContextMargin
	}
	return true
}

// Sentences lowercases text and splits it on sentence terminators.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitRe.Split(strings.ToLower(text), -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Decide applies the thresholds to a pair of scores.
func Decide(approval, rejection int) Decision {
	switch {
	case rejection >= DecisionThreshold && rejection > approval:
		return Rejected
	case approval >= DecisionThreshold && approval > rejection:
		return Approved
	case approval > 0 && rejection == 0:
		return Approved
	default:
		return Pending
	}
}
