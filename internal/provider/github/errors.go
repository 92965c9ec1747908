package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// classifyError maps a go-github or githubv4 error onto the provider
// sentinels. op names the failed call for the message.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrTransient, err)
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrTransient, err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if sentinel := sentinelForStatus(respErr.Response.StatusCode); sentinel != nil {
			return fmt.Errorf("%s: %w: %w", op, sentinel, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrTransient, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrMalformed, err)
	}

	// githubv4 reports HTTP failures and GraphQL errors as plain strings.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not resolve to a PullRequest"),
		strings.Contains(msg, "Could not resolve to a Repository"):
		return fmt.Errorf("%s: %w: %w", op, provider.ErrPRNotFound, err)
	case strings.Contains(msg, "RATE_LIMITED"),
		strings.Contains(msg, "rate limit exceeded"),
		strings.Contains(msg, "non-200 OK status code: 5"),
		strings.Contains(msg, "non-200 OK status code: 429"):
		return fmt.Errorf("%s: %w: %w", op, provider.ErrTransient, err)
	case strings.Contains(msg, "non-200 OK status code: 401"),
		strings.Contains(msg, "non-200 OK status code: 403"):
		return fmt.Errorf("%s: %w: %w", op, provider.ErrAuth, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sentinelForStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return provider.ErrPRNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return provider.ErrAuth
	case code == http.StatusTooManyRequests, code >= 500:
		return provider.ErrTransient
	}
	return nil
}
