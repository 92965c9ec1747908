package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// Options bounds API usage for one Backend.
type Options struct {
	PageSize          int
	MaxPages          int
	RetryAttempts     uint
	RetryDelay        time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OptionsFromConfig derives Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	attempts := cfg.GitHub.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return Options{
		PageSize:          cfg.GitHub.PageSize,
		MaxPages:          cfg.GitHub.MaxPages,
		RetryAttempts:     uint(attempts),
		RetryDelay:        time.Second,
		Timeout:           cfg.Timeouts.ParseAPI(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
	}
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 || o.PageSize > 100 {
		o.PageSize = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 10
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Backend implements provider.ReviewAPI for GitHub. Reads use GraphQL where
// the data lives there (threads, reviews, mergeability) and REST elsewhere.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	limiter   *rate.Limiter
	owner     string
	repo      string
	token     string
	opts      Options
}

// NewBackend creates a GitHub backend for owner/repo. The credential comes
// from session, which resolves it at most once per process.
// Uses go-github-ratelimit middleware for secondary rate limit handling.
func NewBackend(ctx context.Context, session *Session, owner, repo string, opts Options) (*Backend, error) {
	token, err := session.Token(ctx)
	if err != nil {
		return nil, err
	}
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	opts = opts.withDefaults()
	return &Backend{
		client:  client,
		limiter: newLimiter(opts.RequestsPerSecond),
		owner:   owner,
		repo:    repo,
		token:   token,
		opts:    opts,
	}, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Owner returns the repository owner.
func (b *Backend) Owner() string { return b.owner }

// Repo returns the repository name.
func (b *Backend) Repo() string { return b.repo }

// PullRequestForBranch finds the open PR whose head is branch.
func (b *Backend) PullRequestForBranch(ctx context.Context, branch string) (int, error) {
	var prs []*gh.PullRequest
	err := b.read(ctx, "list pull requests", func(ctx context.Context) error {
		var err error
		prs, _, err = b.client.PullRequests.List(ctx, b.owner, b.repo, &gh.PullRequestListOptions{
			State:       "open",
			Head:        b.owner + ":" + branch,
			ListOptions: gh.ListOptions{PerPage: 10},
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(prs) == 0 {
		return 0, fmt.Errorf("%w: no open pull request for branch %q", provider.ErrPRNotFound, branch)
	}
	if len(prs) > 1 {
		slog.Warn("multiple open pull requests for branch, using the first", "branch", branch, "count", len(prs))
	}
	return prs[0].GetNumber(), nil
}

// ListComments returns top-level PR comments, oldest first.
func (b *Backend) ListComments(ctx context.Context, number int) ([]provider.Comment, error) {
	var comments []provider.Comment

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: b.opts.PageSize},
	}
	for page := 0; ; page++ {
		if page == b.opts.MaxPages {
			slog.Warn("page cap reached listing comments", "pr", number, "pages", page)
			break
		}
		var batch []*gh.IssueComment
		var resp *gh.Response
		err := b.read(ctx, "list comments", func(ctx context.Context) error {
			var err error
			batch, resp, err = b.client.Issues.ListComments(ctx, b.owner, b.repo, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range batch {
			comments = append(comments, provider.Comment{
				ID:        strconv.FormatInt(c.GetID(), 10),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}

// PostComment posts a top-level comment. Mutations are never retried.
func (b *Backend) PostComment(ctx context.Context, number int, body string) error {
	return b.write(ctx, "post comment", func(ctx context.Context) error {
		_, _, err := b.client.Issues.CreateComment(ctx, b.owner, b.repo, number, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		return err
	})
}

// RateLimits reports the REST core and GraphQL quotas.
func (b *Backend) RateLimits(ctx context.Context) (*provider.RateLimits, error) {
	var limits *gh.RateLimits
	err := b.read(ctx, "get rate limits", func(ctx context.Context) error {
		var err error
		limits, _, err = b.client.RateLimit.Get(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if limits == nil || limits.Core == nil {
		return nil, fmt.Errorf("get rate limits: %w: missing core quota", provider.ErrMalformed)
	}
	return &provider.RateLimits{
		Core:    mapRate(limits.Core),
		GraphQL: mapRate(limits.GraphQL),
	}, nil
}

func mapRate(r *gh.Rate) provider.RateLimit {
	if r == nil {
		return provider.RateLimit{}
	}
	return provider.RateLimit{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Reset:     r.Reset.Time,
	}
}

// --- Internal helpers ---

// read runs a read-only call with pacing, a per-call timeout, and retry with
// backoff on transient failures.
func (b *Backend) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error { return b.call(ctx, op, fn) },
		retry.Context(ctx),
		retry.Attempts(b.opts.RetryAttempts),
		retry.Delay(b.opts.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, provider.ErrTransient)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying github call", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

// write runs a mutation exactly once.
func (b *Backend) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.call(ctx, op, fn)
}

func (b *Backend) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrTransient, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	return classifyError(op, fn(callCtx))
}

// graphQL returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) graphQL() *githubv4.Client {
	b.gqlOnce.Do(func() {
		if b.gqlClient != nil {
			return
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(context.Background(), ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}

// Verify Backend implements ReviewAPI at compile time.
var _ provider.ReviewAPI = (*Backend)(nil)
