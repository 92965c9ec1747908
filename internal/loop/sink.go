package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanmeadows/rabbitloop/internal/extract"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// ParsedComment pairs a bot comment with the finding extracted from it.
type ParsedComment struct {
	ThreadID string           `json:"thread_id,omitempty"`
	Path     string           `json:"path,omitempty"`
	Line     int              `json:"line,omitempty"`
	Comment  provider.Comment `json:"comment"`
	Finding  extract.Finding  `json:"finding"`
}

// FindingsSink receives the findings the fixing agent must address after the
// bot rejects a revision.
type FindingsSink interface {
	Findings(ctx context.Context, pr int, findings []ParsedComment) error
}

// WriterSink prints findings as citations, or as JSON lines.
type WriterSink struct {
	W    io.Writer
	JSON bool
}

func (s WriterSink) Findings(_ context.Context, pr int, findings []ParsedComment) error {
	if s.JSON {
		enc := json.NewEncoder(s.W)
		for _, f := range findings {
			if err := enc.Encode(struct {
				PR int `json:"pr"`
				ParsedComment
			}{pr, f}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, f := range findings {
		loc := f.Path
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
		}
		if loc != "" {
			loc = " [" + loc + "]"
		}
		if _, err := fmt.Fprintf(s.W, "PR #%d%s %s\n", pr, loc, f.Finding.Citation()); err != nil {
			return err
		}
	}
	return nil
}
