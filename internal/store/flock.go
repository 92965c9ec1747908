package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout bounds how long a transaction waits for another process.
const DefaultLockTimeout = 5 * time.Second

const lockRetryInterval = 50 * time.Millisecond

// WithLock runs fn while holding an exclusive advisory lock on path.lock.
// Readers never take the lock; they rely on writes being atomic renames.
func WithLock(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("timed out acquiring lock on %s", lock.Path())
	}
	defer lock.Unlock()
	return fn()
}
