// Package ownership scopes which branches a workspace may act on, so that
// several worktrees sharing a repository never touch each other's PRs.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/alanmeadows/rabbitloop/internal/store"
)

// ErrNotOwned is returned when a branch belongs to another workspace.
var ErrNotOwned = errors.New("branch is not owned by this workspace")

// prefixRe matches a numeric workspace prefix. RE2 alternation is
// leftmost-first, so "---" is tried before its substring "--".
var prefixRe = regexp.MustCompile(`^(\d+)(---|--)`)

// Registry is the persisted ownership record.
type Registry struct {
	Primary  string   `json:"primary"`
	Branches []string `json:"branches"`
}

// Prefix returns the numeric prefix of branch including its delimiter, or ""
// if branch has none.
func Prefix(branch string) string {
	return prefixRe.FindString(branch)
}

// IsOwned reports whether branch equals primary, is registered, or shares
// primary's numeric prefix.
func IsOwned(primary string, registered []string, branch string) bool {
	if branch == "" {
		return false
	}
	if branch == primary || slices.Contains(registered, branch) {
		return true
	}
	p := Prefix(primary)
	return p != "" && Prefix(branch) == p
}

// CurrentBranchFunc reports the branch checked out in the workspace.
type CurrentBranchFunc func(ctx context.Context) (string, error)

// Tracker manages the registry document.
type Tracker struct {
	doc     *store.Persisted[Registry]
	current CurrentBranchFunc
}

// NewTracker binds a Tracker to key in backend. current supplies the primary
// branch when the registry has none yet.
func NewTracker(backend store.Backend, key string, current CurrentBranchFunc) *Tracker {
	return &Tracker{
		doc:     store.NewPersisted(backend, key, func() Registry { return Registry{} }),
		current: current,
	}
}

// Register adds branch to the registry, binding the primary first if needed.
func (t *Tracker) Register(ctx context.Context, branch string) (Registry, error) {
	if branch == "" {
		return Registry{}, errors.New("branch name is required")
	}
	return t.doc.Update(ctx, func(r *Registry) error {
		if err := t.bindPrimary(ctx, r); err != nil {
			return err
		}
		if branch != r.Primary && !slices.Contains(r.Branches, branch) {
			r.Branches = append(r.Branches, branch)
			sort.Strings(r.Branches)
		}
		return nil
	})
}

// Unregister removes branch. The primary branch cannot be unregistered.
func (t *Tracker) Unregister(ctx context.Context, branch string) (Registry, error) {
	return t.doc.Update(ctx, func(r *Registry) error {
		if err := t.bindPrimary(ctx, r); err != nil {
			return err
		}
		if branch == r.Primary {
			return fmt.Errorf("%q is the primary branch of this workspace and cannot be unregistered", branch)
		}
		i := slices.Index(r.Branches, branch)
		if i < 0 {
			return fmt.Errorf("branch %q is not registered", branch)
		}
		r.Branches = slices.Delete(r.Branches, i, i+1)
		return nil
	})
}

// List returns a snapshot of the registry with the primary filled in.
func (t *Tracker) List(ctx context.Context) Registry {
	r := t.doc.Snapshot(ctx)
	if r.Primary == "" && t.current != nil {
		if b, err := t.current(ctx); err == nil {
			r.Primary = b
		}
	}
	return r
}

// IsOwned reports whether branch is owned by this workspace.
func (t *Tracker) IsOwned(ctx context.Context, branch string) bool {
	r := t.List(ctx)
	return IsOwned(r.Primary, r.Branches, branch)
}

// Check returns ErrNotOwned with remediation advice when branch is not owned.
func (t *Tracker) Check(ctx context.Context, branch string) error {
	r := t.List(ctx)
	if IsOwned(r.Primary, r.Branches, branch) {
		return nil
	}
	return fmt.Errorf("%w: %q (primary %q); run `rabbitloop branch register %s` from the workspace that should own it",
		ErrNotOwned, branch, r.Primary, branch)
}

func (t *Tracker) bindPrimary(ctx context.Context, r *Registry) error {
	if r.Primary != "" || t.current == nil {
		return nil
	}
	b, err := t.current(ctx)
	if err != nil {
		return fmt.Errorf("determining primary branch: %w", err)
	}
	r.Primary = b
	return nil
}
