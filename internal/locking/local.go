package locking

import (
    "context"
    "fmt"
    "sync"
    "time"
)

// Local is an in-process Locker built from one-slot semaphores. ttl is
// ignored: a holder in the same process cannot outlive its release.
type Local struct {
    mu  sync.Mutex
    sem map[string]chan struct{}
}

func NewLocal() *Local { return &Local{sem: map[string]chan struct{}{}} }

func (l *Local) slot(name string) chan struct{} {
    l.mu.Lock()
    defer l.mu.Unlock()
    ch, ok := l.sem[name]
    if !ok {
        ch = make(chan struct{}, 1)
        l.sem[name] = ch
    }
    return ch
}

func releaser(ch chan struct{}) func() {
    var once sync.Once
    return func() { once.Do(func() { <-ch }) }
}

func (l *Local) TryAcquire(_ context.Context, name string, _ time.Duration) (func(), error) {
    ch := l.slot(name)
    select {
    case ch <- struct{}{}:
        return releaser(ch), nil
    default:
        return nil, ErrNotAcquired
    }
}

func (l *Local) Acquire(ctx context.Context, name string, _ time.Duration) (func(), error) {
    ch := l.slot(name)
    select {
    case ch <- struct{}{}:
        return releaser(ch), nil
    case <-ctx.Done():
        return nil, fmt.Errorf("lock %s: %w", name, ctx.Err())
    }
}
