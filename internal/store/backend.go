package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Backend provides scoped exclusive transactions over named documents.
//
// Transact acquires exclusive access to key, hands the current raw contents
// to fn (nil when the document does not exist), and persists whatever fn
// returns as a whole-document replacement. Returning nil bytes leaves the
// document untouched. An error from fn aborts without writing.
//
// Load returns a snapshot without taking the exclusive lock; callers must
// tolerate a stale value.
type Backend interface {
	Transact(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// FileBackend stores each document as a file under Dir. Transactions are
// guarded by an advisory flock on "<file>.lock" and writes are atomic
// renames, so concurrent processes never see a torn document.
type FileBackend struct {
	Dir         string
	LockTimeout time.Duration
}

// NewFileBackend returns a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir, LockTimeout: DefaultLockTimeout}
}

// Path returns the on-disk location for key.
func (b *FileBackend) Path(key string) string {
	return filepath.Join(b.Dir, key)
}

func (b *FileBackend) Transact(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	path := b.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	timeout := b.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return WithLock(ctx, path, timeout, func() error {
		current, err := readOptional(path)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return AtomicWriteFile(path, next, 0644)
	})
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	return readOptional(b.Path(key))
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// MemoryBackend keeps documents in process memory behind a mutex. It suits
// single-process deployments and tests.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Transact(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := fn(cloneBytes(b.docs[key]))
	if err != nil {
		return err
	}
	if next != nil {
		b.docs[key] = cloneBytes(next)
	}
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneBytes(b.docs[key]), nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
)
