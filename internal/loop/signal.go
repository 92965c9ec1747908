package loop

import (
	"regexp"
	"strings"
	"time"

	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// ExitSignal is a human request to stop the loop.
type ExitSignal struct {
	Command   string    `json:"command"`
	Author    string    `json:"author"`
	CommentID string    `json:"comment_id"`
	At        time.Time `json:"at"`
}

func signalPattern(token string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^\s*` + regexp.QuoteMeta(token) + `\s+(stop|pause|exit)\b`)
}

// FindExitSignal returns the newest exit command posted by a non-bot author
// after since, or nil. A zero since accepts any age. Audit comments are
// ignored since they are posted with the operator's own credentials.
func FindExitSignal(comments []provider.Comment, bots provider.Bots, token string, since time.Time) *ExitSignal {
	if token == "" {
		token = "/rabbitloop"
	}
	re := signalPattern(token)

	var found *ExitSignal
	for _, c := range comments {
		if bots.Is(c.Author) || IsAuditComment(c.Body) {
			continue
		}
		if !since.IsZero() && c.CreatedAt.Before(since) {
			continue
		}
		m := re.FindStringSubmatch(c.Body)
		if m == nil {
			continue
		}
		if found == nil || c.CreatedAt.After(found.At) {
			found = &ExitSignal{
				Command:   strings.ToLower(m[1]),
				Author:    c.Author,
				CommentID: c.ID,
				At:        c.CreatedAt,
			}
		}
	}
	return found
}
