package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ReadDocument / WriteDocument ---

func TestWriteAndReadDocumentWithFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.md")

	doc := &Document{
		Frontmatter: map[string]any{
			"pr":        42,
			"status":    "running",
			"iteration": 3,
		},
		Body: "# PR 42\n\n- iteration 1: wait\n",
	}

	require.NoError(t, WriteDocument(path, doc))

	got, err := ReadDocument(path)
	require.NoError(t, err)

	assert.Equal(t, "running", GetString(got.Frontmatter, "status"))
	assert.Equal(t, 42, GetInt(got.Frontmatter, "pr"))
	assert.Equal(t, 3, GetInt(got.Frontmatter, "iteration"))
	assert.Contains(t, got.Body, "iteration 1: wait")
}

func TestReadDocumentWithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.md")
	require.NoError(t, os.WriteFile(path, []byte("Just a plain markdown file.\n"), 0644))

	got, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Empty(t, got.Frontmatter)
	assert.Equal(t, "Just a plain markdown file.\n", got.Body)
}

func TestReadDocumentNonExistent(t *testing.T) {
	_, err := ReadDocument("/nonexistent/path/file.md")
	assert.Error(t, err)
}

func TestWriteDocumentCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "dir", "test.md")

	require.NoError(t, WriteDocument(path, &Document{
		Frontmatter: map[string]any{"key": "value"},
		Body:        "body",
	}))

	got, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "value", GetString(got.Frontmatter, "key"))
}

func TestAtomicWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"a":1}`), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte(`{"a":2}`), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.md")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0644))

	assert.True(t, Exists(path))
	assert.False(t, Exists(filepath.Join(dir, "missing.md")))
}

// --- WithLock ---

func TestWithLockConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concurrent")

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(t.Context(), path, 10*time.Second, func() error {
				val := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, val+1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWithLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeouttest")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WithLock(context.Background(), path, 10*time.Second, func() error {
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	err := WithLock(t.Context(), path, 200*time.Millisecond, func() error {
		t.Fatal("callback should not have been called")
		return nil
	})
	assert.Error(t, err, "expected timeout error when lock is held")

	close(release)
	<-done
}

// --- Persisted over each backend ---

type counterDoc struct {
	Count int      `json:"count"`
	Items []string `json:"items"`
}

func newCounterDoc() counterDoc {
	return counterDoc{Items: []string{}}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqliteBackend, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteBackend.Close() })

	return map[string]Backend{
		"file":   NewFileBackend(t.TempDir()),
		"memory": NewMemoryBackend(),
		"sqlite": sqliteBackend,
	}
}

func TestPersistedUpdateAndSnapshot(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			doc := NewPersisted(backend, "counter.json", newCounterDoc)

			assert.Equal(t, newCounterDoc(), doc.Snapshot(t.Context()))

			got, err := doc.Update(t.Context(), func(c *counterDoc) error {
				c.Count++
				c.Items = append(c.Items, "a")
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 1, got.Count)

			snap := doc.Snapshot(t.Context())
			assert.Equal(t, 1, snap.Count)
			assert.Equal(t, []string{"a"}, snap.Items)
		})
	}
}

func TestPersistedUpdateErrorWritesNothing(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			doc := NewPersisted(backend, "counter.json", newCounterDoc)
			_, err := doc.Update(t.Context(), func(c *counterDoc) error {
				c.Count = 7
				return nil
			})
			require.NoError(t, err)

			boom := errors.New("boom")
			_, err = doc.Update(t.Context(), func(c *counterDoc) error {
				c.Count = 99
				return boom
			})
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, 7, doc.Snapshot(t.Context()).Count)
		})
	}
}

func TestPersistedConcurrentUpdates(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			doc := NewPersisted(backend, "counter.json", newCounterDoc)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := doc.Update(context.Background(), func(c *counterDoc) error {
						c.Count++
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, 8, doc.Snapshot(t.Context()).Count)
		})
	}
}

func TestPersistedCorruptFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir)
	require.NoError(t, os.WriteFile(backend.Path("counter.json"), []byte("\x00\x01 definitely not json"), 0644))

	doc := NewPersisted(backend, "counter.json", newCounterDoc)
	snap := doc.Snapshot(t.Context())
	assert.Equal(t, 0, snap.Count)

	got, err := doc.Update(t.Context(), func(c *counterDoc) error {
		c.Count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestPersistedRepairsTruncatedJSON(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir)
	require.NoError(t, os.WriteFile(backend.Path("counter.json"), []byte(`{"count": 5, "items": ["a", "b"`), 0644))

	doc := NewPersisted(backend, "counter.json", newCounterDoc)
	snap := doc.Snapshot(t.Context())
	assert.Equal(t, 5, snap.Count)
	assert.Equal(t, []string{"a", "b"}, snap.Items)
}

// --- Frontmatter helpers ---

func TestGetHelpers(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	fm := map[string]any{
		"name":      "rabbitloop",
		"int_val":   42,
		"float_val": float64(99),
		"time_val":  now,
		"time_str":  now.Format(time.RFC3339),
		"bad_time":  "not-a-time",
	}
	assert.Equal(t, "rabbitloop", GetString(fm, "name"))
	assert.Equal(t, "", GetString(fm, "int_val"))
	assert.Equal(t, 42, GetInt(fm, "int_val"))
	assert.Equal(t, 99, GetInt(fm, "float_val"))
	assert.Equal(t, now, GetTime(fm, "time_val"))
	assert.Equal(t, now, GetTime(fm, "time_str").UTC())
	assert.True(t, GetTime(fm, "bad_time").IsZero())
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-15T10:30:00Z", FormatTime(ts))
	assert.Equal(t, "", FormatTime(time.Time{}))
}
