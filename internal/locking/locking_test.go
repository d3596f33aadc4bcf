package locking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func lockers(t *testing.T) map[string]Locker {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Locker{"redis": NewRedis(rdb, "test"), "local": NewLocal()}
}

func TestMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := l.TryAcquire(ctx, "document-converter", time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := l.TryAcquire(ctx, "document-converter", time.Minute); !errors.Is(err, ErrNotAcquired) {
				t.Fatalf("second acquire = %v, want ErrNotAcquired", err)
			}
			other, err := l.TryAcquire(ctx, "beat", time.Minute)
			if err != nil {
				t.Fatalf("independent name blocked: %v", err)
			}
			other()

			release()
			release() // idempotent
			again, err := l.TryAcquire(ctx, "document-converter", time.Minute)
			if err != nil {
				t.Fatalf("acquire after release: %v", err)
			}
			again()
		})
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			release, _ := l.TryAcquire(context.Background(), "x", time.Minute)
			defer release()
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := l.Acquire(ctx, "x", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Acquire = %v, want deadline exceeded", err)
			}
		})
	}
}

func TestRedisReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	l := NewRedis(rdb, "test")
	ctx := context.Background()

	release, _ := l.TryAcquire(ctx, "job", time.Second)
	mr.FastForward(2 * time.Second) // holder expired
	second, err := l.TryAcquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("expired lock not reusable: %v", err)
	}
	release() // stale holder must not free the new lock
	if _, err := l.TryAcquire(ctx, "job", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("stale release freed a foreign lock: %v", err)
	}
	second()
}
