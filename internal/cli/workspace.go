package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alanmeadows/rabbitloop/internal/config"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
	ghbackend "github.com/alanmeadows/rabbitloop/internal/provider/github"
	"github.com/alanmeadows/rabbitloop/internal/repo"
	"github.com/alanmeadows/rabbitloop/internal/store"
	"github.com/alanmeadows/rabbitloop/internal/tracker"
)

// workspace is the repository checkout a command runs in.
type workspace struct {
	cfg  *config.Config
	root string
	git  *repo.Git

	backend store.Backend
	closers []func() error
}

func openWorkspace() (*workspace, error) {
	root := config.RepoRoot()
	if root == "" {
		return nil, errors.New("not in a git repository; rabbitloop requires a git repo")
	}
	return &workspace{
		cfg:  appConfig,
		root: root,
		git:  repo.New(root, appConfig.Timeouts.ParseGit()),
	}, nil
}

func (w *workspace) Close() {
	for _, c := range w.closers {
		_ = c()
	}
}

// store opens the configured persistence backend once.
func (w *workspace) store(ctx context.Context) (store.Backend, error) {
	if w.backend != nil {
		return w.backend, nil
	}
	switch w.cfg.Store.Backend {
	case config.StoreSQLite:
		db, err := store.OpenSQLite(ctx, filepath.Join(w.root, w.cfg.Store.SQLitePath))
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, db.Close)
		w.backend = db
	case config.StoreMemory:
		w.backend = store.NewMemoryBackend()
	case config.StoreFile, "":
		w.backend = store.NewFileBackend(w.root)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want file, sqlite or memory)", w.cfg.Store.Backend)
	}
	return w.backend, nil
}

func (w *workspace) ownership(ctx context.Context) (*ownership.Tracker, error) {
	b, err := w.store(ctx)
	if err != nil {
		return nil, err
	}
	return ownership.NewTracker(b, w.cfg.Store.BranchFile, w.git.CurrentBranch), nil
}

func (w *workspace) tracker(ctx context.Context) (*tracker.Tracker, error) {
	b, err := w.store(ctx)
	if err != nil {
		return nil, err
	}
	return tracker.New(b, w.cfg.Tracker.File, tracker.Options{
		MaxFindings: w.cfg.Tracker.MaxFindings,
		Interval:    w.cfg.Tracker.AnalysisInterval,
		MinRepeat:   w.cfg.Tracker.MinRepeat,
	}), nil
}

// connectRepo builds the GitHub client for the repository named by --pr,
// config, or the remote, in that order. number is the --pr number or 0.
func (w *workspace) connectRepo(ctx context.Context) (*ghbackend.Backend, int, error) {
	owner, name := w.cfg.GitHub.Owner, w.cfg.GitHub.Repo
	var detectErr error
	if owner == "" || name == "" {
		owner, name, detectErr = w.git.OwnerRepo(ctx, w.cfg.Conflict.Remote)
	}

	number := 0
	if prFlag != "" {
		ref, err := ghbackend.ParsePRRef(prFlag, owner, name)
		if err != nil {
			return nil, 0, err
		}
		owner, name, number = ref.Owner, ref.Repo, ref.Number
	}
	if owner == "" || name == "" {
		return nil, 0, fmt.Errorf("cannot determine the GitHub repository (set github.owner and github.repo): %w", detectErr)
	}

	session := ghbackend.NewSession(w.cfg.GitHub.Token)
	backend, err := ghbackend.NewBackend(ctx, session, owner, name, ghbackend.OptionsFromConfig(w.cfg))
	if err != nil {
		return nil, 0, err
	}
	return backend, number, nil
}

// connect is connectRepo plus PR resolution: --pr when given, otherwise the
// open PR whose head is the current branch.
func (w *workspace) connect(ctx context.Context) (*ghbackend.Backend, int, error) {
	backend, number, err := w.connectRepo(ctx)
	if err != nil || number != 0 {
		return backend, number, err
	}
	branch, err := w.git.CurrentBranch(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("determining current branch: %w", err)
	}
	number, err = backend.PullRequestForBranch(ctx, branch)
	if err != nil {
		return nil, 0, fmt.Errorf("finding PR for branch %q: %w", branch, err)
	}
	return backend, number, nil
}

// prNumberOffline returns the --pr number without contacting the host.
func prNumberOffline() (int, error) {
	if prFlag == "" {
		return 0, nil
	}
	ref, err := ghbackend.ParsePRRef(prFlag, "", "")
	if err != nil {
		return 0, err
	}
	return ref.Number, nil
}

func bots() provider.Bots {
	return provider.Bots(appConfig.Bot.Logins)
}
