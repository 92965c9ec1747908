package github

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PRRef holds parsed components of a GitHub PR reference.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePRRef accepts a bare number, "owner/repo#number", or a full PR URL.
// A bare number takes owner and repo from the defaults.
func ParsePRRef(id, defaultOwner, defaultRepo string) (PRRef, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "#")
	if num, err := strconv.Atoi(id); err == nil && num > 0 {
		return PRRef{Owner: defaultOwner, Repo: defaultRepo, Number: num}, nil
	}

	if parts := strings.SplitN(id, "#", 2); len(parts) == 2 {
		ownerRepo := strings.SplitN(parts[0], "/", 2)
		if len(ownerRepo) == 2 {
			if num, err := strconv.Atoi(parts[1]); err == nil && num > 0 {
				return PRRef{Owner: ownerRepo[0], Repo: ownerRepo[1], Number: num}, nil
			}
		}
	}

	u, err := url.Parse(id)
	if err != nil || u.Host == "" {
		return PRRef{}, fmt.Errorf("could not parse PR reference: %q", id)
	}
	// {owner}/{repo}/pull/{number}
	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(pathParts) >= 4 && pathParts[2] == "pull" {
		num, err := strconv.Atoi(pathParts[3])
		if err != nil || num <= 0 {
			return PRRef{}, fmt.Errorf("invalid PR number in URL: %s", pathParts[3])
		}
		return PRRef{Owner: pathParts[0], Repo: pathParts[1], Number: num}, nil
	}

	return PRRef{}, fmt.Errorf("could not parse PR reference: %q", id)
}
