package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shurcooL/githubv4"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// threadCommentsPerThread caps comments fetched per review thread. Bot
// threads rarely exceed a handful of replies.
const threadCommentsPerThread = 50

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage bool
}

type commentNode struct {
	ID     githubv4.ID
	Author struct {
		Login string
	}
	Body      string
	CreatedAt githubv4.DateTime
}

type threadNode struct {
	ID         githubv4.ID
	Path       string
	Line       *int
	IsResolved bool
	IsOutdated bool
	Comments   struct {
		Nodes []commentNode
	} `graphql:"comments(first: $commentCount)"`
}

type reviewNode struct {
	ID     githubv4.ID
	Author struct {
		Login string
	}
	State       githubv4.PullRequestReviewState
	Body        string
	SubmittedAt *githubv4.DateTime
}

// GetPullRequest fetches the PR snapshot used for status checks.
func (b *Backend) GetPullRequest(ctx context.Context, number int) (*provider.PullRequest, error) {
	var q struct {
		Repository struct {
			PullRequest *struct {
				Number         int
				Title          string
				State          githubv4.PullRequestState
				Mergeable      githubv4.MergeableState
				HeadRefName    string
				BaseRefName    string
				ReviewDecision *githubv4.PullRequestReviewDecision
				IsDraft        bool
				URL            string
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]any{
		"owner":  githubv4.String(b.owner),
		"name":   githubv4.String(b.repo),
		"number": githubv4.Int(int32(number)),
	}

	err := b.read(ctx, "get pull request", func(ctx context.Context) error {
		return b.graphQL().Query(ctx, &q, vars)
	})
	if err != nil {
		return nil, err
	}
	pr := q.Repository.PullRequest
	if pr == nil {
		return nil, fmt.Errorf("%w: #%d in %s/%s", provider.ErrPRNotFound, number, b.owner, b.repo)
	}

	out := &provider.PullRequest{
		Number:     pr.Number,
		Title:      pr.Title,
		State:      provider.PRState(pr.State),
		Mergeable:  provider.Mergeable(pr.Mergeable),
		HeadBranch: pr.HeadRefName,
		BaseBranch: pr.BaseRefName,
		IsDraft:    pr.IsDraft,
		URL:        pr.URL,
	}
	if pr.ReviewDecision != nil {
		out.ReviewDecision = string(*pr.ReviewDecision)
	}
	switch out.Mergeable {
	case provider.MergeableClean, provider.MergeableConflicting:
	default:
		out.Mergeable = provider.MergeableUnknown
	}
	return out, nil
}

// ListReviewThreads follows the reviewThreads cursor until hasNextPage is
// false or the page cap is hit.
func (b *Backend) ListReviewThreads(ctx context.Context, number int) ([]provider.ReviewThread, error) {
	type threadsQuery struct {
		Repository struct {
			PullRequest *struct {
				ReviewThreads struct {
					Nodes    []threadNode
					PageInfo pageInfo
				} `graphql:"reviewThreads(first: $pageSize, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := b.pageVars(number)
	vars["commentCount"] = githubv4.Int(threadCommentsPerThread)

	var threads []provider.ReviewThread
	for page := 0; ; page++ {
		if page == b.opts.MaxPages {
			slog.Warn("page cap reached listing review threads", "pr", number, "pages", page)
			break
		}
		var q threadsQuery
		err := b.read(ctx, "list review threads", func(ctx context.Context) error {
			return b.graphQL().Query(ctx, &q, vars)
		})
		if err != nil {
			return nil, err
		}
		pr := q.Repository.PullRequest
		if pr == nil {
			return nil, fmt.Errorf("%w: #%d in %s/%s", provider.ErrPRNotFound, number, b.owner, b.repo)
		}
		for _, n := range pr.ReviewThreads.Nodes {
			threads = append(threads, mapThread(n))
		}
		if !pr.ReviewThreads.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(pr.ReviewThreads.PageInfo.EndCursor)
	}
	return threads, nil
}

// ListReviews returns submitted reviews in the order GitHub reports them,
// which is chronological.
func (b *Backend) ListReviews(ctx context.Context, number int) ([]provider.Review, error) {
	type reviewsQuery struct {
		Repository struct {
			PullRequest *struct {
				Reviews struct {
					Nodes    []reviewNode
					PageInfo pageInfo
				} `graphql:"reviews(first: $pageSize, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := b.pageVars(number)

	var reviews []provider.Review
	for page := 0; ; page++ {
		if page == b.opts.MaxPages {
			slog.Warn("page cap reached listing reviews", "pr", number, "pages", page)
			break
		}
		var q reviewsQuery
		err := b.read(ctx, "list reviews", func(ctx context.Context) error {
			return b.graphQL().Query(ctx, &q, vars)
		})
		if err != nil {
			return nil, err
		}
		pr := q.Repository.PullRequest
		if pr == nil {
			return nil, fmt.Errorf("%w: #%d in %s/%s", provider.ErrPRNotFound, number, b.owner, b.repo)
		}
		for _, n := range pr.Reviews.Nodes {
			reviews = append(reviews, provider.Review{
				ID:          nodeID(n.ID),
				Author:      n.Author.Login,
				State:       provider.ReviewState(n.State),
				Body:        n.Body,
				SubmittedAt: timeOrZero(n.SubmittedAt),
			})
		}
		if !pr.Reviews.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(pr.Reviews.PageInfo.EndCursor)
	}
	return reviews, nil
}

// ResolveThread resolves a review thread. threadID must be the thread's node
// ID (e.g., "PRRT_..."); the REST API cannot resolve threads.
func (b *Backend) ResolveThread(ctx context.Context, threadID string) error {
	var mutation struct {
		ResolveReviewThread struct {
			Thread struct {
				IsResolved bool
			}
		} `graphql:"resolveReviewThread(input: $input)"`
	}
	input := githubv4.ResolveReviewThreadInput{
		ThreadID: githubv4.ID(threadID),
	}
	return b.write(ctx, "resolve review thread", func(ctx context.Context) error {
		return b.graphQL().Mutate(ctx, &mutation, input, nil)
	})
}

// ReplyToThread adds a reply to a review thread by node ID.
func (b *Backend) ReplyToThread(ctx context.Context, threadID, body string) error {
	var mutation struct {
		AddPullRequestReviewThreadReply struct {
			Comment struct {
				ID githubv4.ID
			}
		} `graphql:"addPullRequestReviewThreadReply(input: $input)"`
	}
	input := githubv4.AddPullRequestReviewThreadReplyInput{
		PullRequestReviewThreadID: githubv4.ID(threadID),
		Body:                      githubv4.String(body),
	}
	return b.write(ctx, "reply to review thread", func(ctx context.Context) error {
		return b.graphQL().Mutate(ctx, &mutation, input, nil)
	})
}

func (b *Backend) pageVars(number int) map[string]any {
	return map[string]any{
		"owner":    githubv4.String(b.owner),
		"name":     githubv4.String(b.repo),
		"number":   githubv4.Int(int32(number)),
		"pageSize": githubv4.Int(int32(b.opts.PageSize)),
		"cursor":   (*githubv4.String)(nil),
	}
}

func mapThread(n threadNode) provider.ReviewThread {
	t := provider.ReviewThread{
		ID:         nodeID(n.ID),
		Path:       n.Path,
		IsResolved: n.IsResolved,
		IsOutdated: n.IsOutdated,
	}
	if n.Line != nil {
		t.Line = *n.Line
	}
	for _, c := range n.Comments.Nodes {
		t.Comments = append(t.Comments, provider.Comment{
			ID:        nodeID(c.ID),
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt.Time,
		})
	}
	return t
}

func nodeID(id githubv4.ID) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func timeOrZero(dt *githubv4.DateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	return dt.Time
}
