package repo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gitCmd runs git in dir and fails the test on error.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(out))
	return string(out)
}

// initGitRepo creates a repository on branch main with one commit.
func initGitRepo(t *testing.T, dir string) {
	t.Helper()

	// Mark directory as safe (needed for WSL / temp dirs with different ownership)
	safeDirCmd := exec.Command("git", "config", "--global", "--add", "safe.directory", dir)
	_ = safeDirCmd.Run() // best effort

	gitCmd(t, dir, "init", "-b", "main")
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	gitCmd(t, dir, "commit", "--allow-empty", "-m", "initial")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func commitFile(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	writeFile(t, dir, name, content)
	gitCmd(t, dir, "add", name)
	gitCmd(t, dir, "commit", "-m", msg)
}

// conflictRepo builds main and feature branches that both edit app.txt and
// leaves feature checked out.
func conflictRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	initGitRepo(t, dir)
	commitFile(t, dir, "app.txt", "a\nb\nc\n", "base")
	gitCmd(t, dir, "checkout", "-b", "feature")
	commitFile(t, dir, "app.txt", "a\nfeature\nc\n", "feature edit")
	gitCmd(t, dir, "checkout", "main")
	commitFile(t, dir, "app.txt", "a\nmain\nc\n", "main edit")
	gitCmd(t, dir, "checkout", "feature")
	return dir
}

func TestCurrentBranchAndBranches(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	gitCmd(t, dir, "branch", "05--feature-a")

	g := New(dir, 0)
	branch, err := g.CurrentBranch(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	branches, err := g.Branches(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "05--feature-a"}, branches)

	top, err := g.TopLevel(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, top)
}

func TestMergeCleanThenAbort(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	commitFile(t, dir, "a.txt", "one\n", "a")
	gitCmd(t, dir, "checkout", "-b", "feature")
	commitFile(t, dir, "b.txt", "two\n", "b")
	gitCmd(t, dir, "checkout", "main")
	commitFile(t, dir, "c.txt", "three\n", "c")
	gitCmd(t, dir, "checkout", "feature")

	g := New(dir, time.Minute)
	conflicted, err := g.Merge(t.Context(), "main")
	require.NoError(t, err)
	assert.False(t, conflicted)
	assert.True(t, g.MergeInProgress(t.Context()))

	require.NoError(t, g.AbortMerge(t.Context()))
	assert.False(t, g.MergeInProgress(t.Context()))
	assert.NoFileExists(t, filepath.Join(dir, "c.txt"))

	// Aborting again is a no-op.
	require.NoError(t, g.AbortMerge(t.Context()))
}

func TestMergeConflictStages(t *testing.T) {
	dir := conflictRepo(t)
	g := New(dir, time.Minute)

	conflicted, err := g.Merge(t.Context(), "main")
	require.NoError(t, err)
	require.True(t, conflicted)

	files, err := g.ConflictedFiles(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"app.txt"}, files)

	base, ok, err := g.ShowStage(t.Context(), StageBase, "app.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a\nb\nc\n", base)

	ours, ok, err := g.ShowStage(t.Context(), StageOurs, "app.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a\nfeature\nc\n", ours)

	theirs, ok, err := g.ShowStage(t.Context(), StageTheirs, "app.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a\nmain\nc\n", theirs)

	head, err := g.RevParse(t.Context(), "HEAD")
	require.NoError(t, err)
	assert.Len(t, head, 40)

	require.NoError(t, g.AbortMerge(t.Context()))
}

func TestShowStageMissingBase(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	gitCmd(t, dir, "checkout", "-b", "feature")
	commitFile(t, dir, "new.txt", "feature\n", "add on feature")
	gitCmd(t, dir, "checkout", "main")
	commitFile(t, dir, "new.txt", "main\n", "add on main")
	gitCmd(t, dir, "checkout", "feature")

	g := New(dir, time.Minute)
	conflicted, err := g.Merge(t.Context(), "main")
	require.NoError(t, err)
	require.True(t, conflicted)

	_, ok, err := g.ShowStage(t.Context(), StageBase, "new.txt")
	require.NoError(t, err)
	assert.False(t, ok, "add/add conflicts have no base")

	require.NoError(t, g.AbortMerge(t.Context()))
}

func TestAddCommitAndDirty(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	commitFile(t, dir, "x.txt", "1\n", "x")

	g := New(dir, time.Minute)
	dirty, err := g.IsDirty(t.Context())
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "x.txt", "2\n")
	dirty, err = g.IsDirty(t.Context())
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, g.Add(t.Context(), "x.txt"))
	require.NoError(t, g.Commit(t.Context(), "-leading dash\n\nbody line"))

	msg := gitCmd(t, dir, "log", "-1", "--format=%B")
	assert.Contains(t, msg, "-leading dash")
	assert.Contains(t, msg, "body line")
}

func TestFetchUnknownRemoteFails(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	err := New(dir, time.Minute).Fetch(t.Context(), "nope", "main")
	assert.Error(t, err)
}

func TestFetchFromLocalRemote(t *testing.T) {
	upstream := t.TempDir()
	initGitRepo(t, upstream)
	commitFile(t, upstream, "u.txt", "u\n", "upstream")

	clone := filepath.Join(t.TempDir(), "clone")
	gitCmd(t, filepath.Dir(clone), "clone", upstream, clone)
	commitFile(t, upstream, "v.txt", "v\n", "upstream 2")

	g := New(clone, time.Minute)
	require.NoError(t, g.Fetch(t.Context(), "origin", "main"))

	want := gitCmd(t, upstream, "rev-parse", "HEAD")
	got, err := g.RevParse(t.Context(), "origin/main")
	require.NoError(t, err)
	assert.Equal(t, want[:40], got)
}
