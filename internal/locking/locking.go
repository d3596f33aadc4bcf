// Package locking provides named mutexes shared by every worker of a
// deployment (Redis) or of one process (Local).
package locking

import (
    "context"
    "errors"
    "time"
)

// ErrNotAcquired is returned by TryAcquire when the lock is held elsewhere.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out named locks. The returned release func is safe to call
// more than once and must be called on every path.
type Locker interface {
    // Acquire waits until the lock is free or ctx is done. ttl bounds how
    // long a crashed holder can keep the lock.
    Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
    // TryAcquire returns ErrNotAcquired instead of waiting.
    TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}
