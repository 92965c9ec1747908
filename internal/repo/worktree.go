package repo

import (
	"context"
	"fmt"
)

// IsDirty reports whether tracked files have uncommitted modifications.
func (g *Git) IsDirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, fmt.Errorf("git status --porcelain: %w", err)
	}
	return out != "", nil
}
