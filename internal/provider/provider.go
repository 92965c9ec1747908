package provider

//go:generate mockgen -source=provider.go -destination=mock_provider/mock_provider.go -package=mock_provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Typed failures. Backends wrap one of these so callers can branch with
// errors.Is; an operation never reports failure as an empty success.
var (
	// ErrPRNotFound is a hard error: the loop cannot continue without a PR.
	ErrPRNotFound = errors.New("pull request not found")
	// ErrTransient covers timeouts, 5xx responses and rate limiting.
	ErrTransient = errors.New("transient API failure")
	// ErrMalformed means the API answered with data that could not be interpreted.
	ErrMalformed = errors.New("malformed API response")
	// ErrAuth means no usable credential was found or it was rejected.
	ErrAuth = errors.New("not authorized")
)

// ReviewAPI is the repository/review client used by the loop.
// All list operations are paginated up to a fixed page cap.
type ReviewAPI interface {
	// PullRequestForBranch returns the number of the open PR whose head is branch.
	PullRequestForBranch(ctx context.Context, branch string) (int, error)

	// GetPullRequest returns a read-only snapshot of the PR.
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)

	// ListReviewThreads returns every review thread on the PR with its comments.
	ListReviewThreads(ctx context.Context, number int) ([]ReviewThread, error)

	// ListComments returns top-level (non-review) PR comments.
	ListComments(ctx context.Context, number int) ([]Comment, error)

	// ListReviews returns submitted reviews in chronological order.
	ListReviews(ctx context.Context, number int) ([]Review, error)

	// ResolveThread marks a review thread resolved. Resolving an already
	// resolved thread succeeds.
	ResolveThread(ctx context.Context, threadID string) error

	// ReplyToThread posts a reply inside a review thread.
	ReplyToThread(ctx context.Context, threadID, body string) error

	// PostComment posts a top-level comment on the PR.
	PostComment(ctx context.Context, number int, body string) error

	// RateLimits reports the remaining REST and GraphQL quota.
	RateLimits(ctx context.Context) (*RateLimits, error)
}

// Mergeable is the PR mergeability as computed by the host.
type Mergeable string

const (
	MergeableClean       Mergeable = "MERGEABLE"
	MergeableConflicting Mergeable = "CONFLICTING"
	MergeableUnknown     Mergeable = "UNKNOWN"
)

// PRState is the lifecycle state of a PR.
type PRState string

const (
	PRStateOpen   PRState = "OPEN"
	PRStateClosed PRState = "CLOSED"
	PRStateMerged PRState = "MERGED"
)

// PullRequest is a snapshot fetched each poll. It is never mutated locally.
type PullRequest struct {
	Number         int
	Title          string
	State          PRState
	Mergeable      Mergeable
	HeadBranch     string
	BaseBranch     string
	ReviewDecision string
	IsDraft        bool
	URL            string
}

// Comment is a single comment, either top-level or inside a review thread.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// ReviewThread is a review comment chain anchored to a file and line.
type ReviewThread struct {
	// ID is the global node id used by the resolve and reply mutations.
	ID         string
	Path       string
	Line       int
	IsResolved bool
	IsOutdated bool
	Comments   []Comment
}

// Actionable reports whether any comment in the thread was written by the bot.
func (t ReviewThread) Actionable(bots Bots) bool {
	for _, c := range t.Comments {
		if bots.Is(c.Author) {
			return true
		}
	}
	return false
}

// ReviewState is the state of a submitted review.
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
	ReviewPending          ReviewState = "PENDING"
)

// Review is a submitted PR review.
type Review struct {
	ID          string
	Author      string
	State       ReviewState
	Body        string
	SubmittedAt time.Time
}

// RateLimit is one quota bucket.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// RateLimits holds both quota buckets the loop consumes.
type RateLimits struct {
	Core    RateLimit `json:"core"`
	GraphQL RateLimit `json:"graphql"`
}

// Bots is the set of login aliases the review bot posts under.
type Bots []string

// Is reports whether login belongs to the bot. Matching ignores case and the
// "[bot]" suffix GitHub appends to app accounts.
func (b Bots) Is(login string) bool {
	l := normalizeLogin(login)
	if l == "" {
		return false
	}
	for _, alias := range b {
		if normalizeLogin(alias) == l {
			return true
		}
	}
	return false
}

func normalizeLogin(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(s, "[bot]")
}
