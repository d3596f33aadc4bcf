package locking

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    redis "github.com/redis/go-redis/v9"
)

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker over SET NX PX.
type Redis struct {
    rdb    *redis.Client
    prefix string
    poll   time.Duration
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
    if prefix == "" { prefix = "lock" }
    return &Redis{rdb: rdb, prefix: prefix, poll: 250 * time.Millisecond}
}

func (r *Redis) key(name string) string { return fmt.Sprintf("%s:lock:%s", r.prefix, name) }

func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
    token := uuid.NewString()
    k := r.key(name)
    ok, err := r.rdb.SetNX(ctx, k, token, ttl).Result()
    if err != nil { return nil, fmt.Errorf("lock %s: %w", name, err) }
    if !ok { return nil, ErrNotAcquired }
    var once sync.Once
    return func() {
        once.Do(func() {
            ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
            defer cancel()
            _ = releaseScript.Run(ctx, r.rdb, []string{k}, token).Err()
        })
    }, nil
}

func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
    ticker := time.NewTicker(r.poll)
    defer ticker.Stop()
    for {
        release, err := r.TryAcquire(ctx, name, ttl)
        if err == nil { return release, nil }
        if err != ErrNotAcquired { return nil, err }
        select {
        case <-ctx.Done():
            return nil, fmt.Errorf("lock %s: %w", name, ctx.Err())
        case <-ticker.C:
        }
    }
}
