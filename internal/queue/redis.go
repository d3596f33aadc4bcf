package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strconv"
    "strings"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"
)

// moveScript adds a due delayed entry to its stream and only then removes it
// from the ZSET. Several movers may race; the ZSCORE check lets one win.
var moveScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    return 0
end
redis.call("XADD", KEYS[2], "*", "job_id", ARGV[2], "routing_key", ARGV[3], "headers", ARGV[4], "data", ARGV[5])
redis.call("ZREM", KEYS[1], ARGV[1])
return 1
`)

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
// Each routing key is its own stream; entries are deleted on ack so a stream
// only ever holds work that has not been finished.
type RedisQueue struct {
    client *redis.Client
    opts   Options

    // keys
    DelayedKey string
    DLQStream  string

    mu       sync.Mutex
    buffered []*Delivery

    stop     chan struct{}
    stopOnce sync.Once
}

// NewRedisQueue connects to Redis, ensures streams & group, and starts delayed mover.
func NewRedisQueue(redisURL string, opts Options) (*RedisQueue, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil {
        _ = c.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewRedisQueueFromClient(ctx, c, opts)
}

// NewRedisQueueFromClient wires a queue onto an existing client.
func NewRedisQueueFromClient(ctx context.Context, c *redis.Client, opts Options) (*RedisQueue, error) {
    opts = opts.withDefaults()
    q := &RedisQueue{
        client:     c,
        opts:       opts,
        DelayedKey: opts.Prefix + ":delayed",
        DLQStream:  opts.Prefix + ":dlq",
        stop:       make(chan struct{}),
    }
    for _, rk := range opts.RoutingKeys {
        // Start from "0" so entries added before the group existed are delivered.
        if err := c.XGroupCreateMkStream(ctx, q.stream(rk), opts.Group, "0").Err(); err != nil && !isBusyGroupErr(err) {
            return nil, fmt.Errorf("xgroup create %s: %w", rk, err)
        }
    }
    go q.mover()
    return q, nil
}

func isBusyGroupErr(err error) bool {
    if err == nil { return false }
    // go-redis may return a generic error string from Redis
    return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) stream(routingKey string) string { return q.opts.Prefix + ":" + routingKey }
func (q *RedisQueue) revokedKey(jobID string) string  { return q.opts.Prefix + ":revoked:" + jobID }
func (q *RedisQueue) workersKey(consumer string) string {
    return q.opts.Prefix + ":workers:" + consumer
}

func (q *RedisQueue) knownKey(rk string) bool {
    for _, k := range q.opts.RoutingKeys {
        if k == rk { return true }
    }
    return false
}

func (q *RedisQueue) Close() error {
    q.stopOnce.Do(func() { close(q.stop) })
    return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

func encodeFields(msg Message) (map[string]any, error) {
    headers, err := json.Marshal(msg.Headers)
    if err != nil {
        return nil, fmt.Errorf("encode headers: %w", err)
    }
    return map[string]any{
        "job_id":      msg.JobID,
        "routing_key": msg.RoutingKey,
        "headers":     string(headers),
        "data":        string(msg.Body),
    }, nil
}

func fieldString(values map[string]any, key string) string {
    switch t := values[key].(type) {
    case string:
        return t
    case []byte:
        return string(t)
    }
    return ""
}

func decodeFields(values map[string]any) Message {
    msg := Message{
        JobID:      fieldString(values, "job_id"),
        RoutingKey: fieldString(values, "routing_key"),
        Body:       []byte(fieldString(values, "data")),
    }
    if h := fieldString(values, "headers"); h != "" && h != "null" {
        _ = json.Unmarshal([]byte(h), &msg.Headers)
    }
    return msg
}

// Publish adds the message to the stream of its routing key.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
    if !q.knownKey(msg.RoutingKey) {
        return fmt.Errorf("unknown routing key %q", msg.RoutingKey)
    }
    values, err := encodeFields(msg)
    if err != nil { return err }
    return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream(msg.RoutingKey), Values: values}).Err()
}

type delayedEntry struct {
    Message
    Due int64 `json:"due"`
}

// PublishDelayed schedules a message for later execution via ZSET.
func (q *RedisQueue) PublishDelayed(ctx context.Context, msg Message, at time.Time) error {
    if !q.knownKey(msg.RoutingKey) {
        return fmt.Errorf("unknown routing key %q", msg.RoutingKey)
    }
    member, err := json.Marshal(delayedEntry{Message: msg, Due: at.UnixMilli()})
    if err != nil { return err }
    return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(at.UnixMilli()), Member: string(member)}).Err()
}

// Consume reads one message from the consumer group across all routing keys.
// A multi-stream read may return more than one entry; extras are kept for the
// next call since they are already owned by this consumer.
func (q *RedisQueue) Consume(ctx context.Context, consumer string, block time.Duration) (*Delivery, error) {
    if d := q.popBuffered(); d != nil {
        return d, nil
    }
    streams := make([]string, 0, 2*len(q.opts.RoutingKeys))
    for _, rk := range q.opts.RoutingKeys {
        streams = append(streams, q.stream(rk))
    }
    for range q.opts.RoutingKeys {
        streams = append(streams, ">")
    }
    if block <= 0 {
        block = -1 // go-redis omits BLOCK for negative values
    }
    res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
        Group:    q.opts.Group,
        Consumer: consumer,
        Streams:  streams,
        Count:    1,
        Block:    block,
    }).Result()
    if err != nil {
        if errors.Is(err, redis.Nil) { return nil, nil }
        if ctx.Err() != nil { return nil, ctx.Err() }
        return nil, err
    }
    var out []*Delivery
    for _, s := range res {
        for _, m := range s.Messages {
            msg := decodeFields(m.Values)
            if msg.RoutingKey == "" {
                msg.RoutingKey = strings.TrimPrefix(s.Stream, q.opts.Prefix+":")
            }
            out = append(out, &Delivery{ID: m.ID, Message: msg})
        }
    }
    if len(out) == 0 { return nil, nil }
    q.mu.Lock()
    q.buffered = append(q.buffered, out[1:]...)
    q.mu.Unlock()
    return out[0], nil
}

func (q *RedisQueue) popBuffered() *Delivery {
    q.mu.Lock()
    defer q.mu.Unlock()
    if len(q.buffered) == 0 { return nil }
    d := q.buffered[0]
    q.buffered = q.buffered[1:]
    return d
}

// Ack marks a message as processed and removes it from the stream.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
    if d == nil || d.ID == "" { return nil }
    stream := q.stream(d.RoutingKey)
    pipe := q.client.TxPipeline()
    pipe.XAck(ctx, stream, q.opts.Group, d.ID)
    pipe.XDel(ctx, stream, d.ID)
    _, err := pipe.Exec(ctx)
    return err
}

// DeadLetter pushes a failed delivery to the DLQ stream with reason, then acks it.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
    values, err := encodeFields(d.Message)
    if err != nil { return err }
    values["reason"] = reason
    if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: values}).Err(); err != nil {
        return fmt.Errorf("dlq add: %w", err)
    }
    return q.Ack(ctx, d)
}

// Revoke marks a job as revoked. Workers check this before processing.
func (q *RedisQueue) Revoke(ctx context.Context, jobID string) error {
    return q.client.Set(ctx, q.revokedKey(jobID), 1, q.opts.RevokeTTL).Err()
}

// IsRevoked returns true if job is revoked.
func (q *RedisQueue) IsRevoked(ctx context.Context, jobID string) (bool, error) {
    n, err := q.client.Exists(ctx, q.revokedKey(jobID)).Result()
    return n == 1, err
}

// Heartbeat publishes the job ids consumer is working on.
func (q *RedisQueue) Heartbeat(ctx context.Context, consumer string, jobIDs []string, ttl time.Duration) error {
    key := q.workersKey(consumer)
    pipe := q.client.TxPipeline()
    pipe.Del(ctx, key)
    if len(jobIDs) > 0 {
        members := make([]any, len(jobIDs))
        for i, id := range jobIDs {
            members[i] = id
        }
        pipe.SAdd(ctx, key, members...)
        pipe.PExpire(ctx, key, ttl)
    }
    _, err := pipe.Exec(ctx)
    return err
}

// ActiveJobIDs unions every live heartbeat set.
func (q *RedisQueue) ActiveJobIDs(ctx context.Context) (map[string]struct{}, error) {
    out := make(map[string]struct{})
    var cursor uint64
    for {
        keys, next, err := q.client.Scan(ctx, cursor, q.opts.Prefix+":workers:*", 100).Result()
        if err != nil { return nil, fmt.Errorf("scan heartbeats: %w", err) }
        for _, k := range keys {
            ids, err := q.client.SMembers(ctx, k).Result()
            if err != nil && !errors.Is(err, redis.Nil) {
                return nil, fmt.Errorf("read heartbeat %s: %w", k, err)
            }
            for _, id := range ids {
                out[id] = struct{}{}
            }
        }
        if next == 0 { break }
        cursor = next
    }
    return out, nil
}

// staleIDs returns the entry ids of stream deliveries idle for at least
// PendingStaleAfter.
func (q *RedisQueue) staleIDs(ctx context.Context, stream string) (map[string]bool, error) {
    pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
        Stream: stream,
        Group:  q.opts.Group,
        Start:  "-",
        End:    "+",
        Count:  1 << 20,
    }).Result()
    if err != nil && !errors.Is(err, redis.Nil) {
        return nil, fmt.Errorf("xpending %s: %w", stream, err)
    }
    stale := make(map[string]bool)
    for _, p := range pending {
        if p.Idle >= q.opts.PendingStaleAfter {
            stale[p.ID] = true
        }
    }
    return stale, nil
}

// QueuedJobIDs lists stream entries that are not stale deliveries, plus
// delayed jobs. A delivery that has been idle longer than PendingStaleAfter
// is considered held by nobody: its consumer either reports it through a
// heartbeat or is gone.
func (q *RedisQueue) QueuedJobIDs(ctx context.Context) (map[string]struct{}, error) {
    out := make(map[string]struct{})
    for _, rk := range q.opts.RoutingKeys {
        stream := q.stream(rk)
        stale, err := q.staleIDs(ctx, stream)
        if err != nil { return nil, err }
        entries, err := q.client.XRange(ctx, stream, "-", "+").Result()
        if err != nil && !errors.Is(err, redis.Nil) {
            return nil, fmt.Errorf("xrange %s: %w", stream, err)
        }
        for _, e := range entries {
            if stale[e.ID] { continue }
            if id := fieldString(e.Values, "job_id"); id != "" {
                out[id] = struct{}{}
            }
        }
    }
    members, err := q.client.ZRange(ctx, q.DelayedKey, 0, -1).Result()
    if err != nil && !errors.Is(err, redis.Nil) {
        return nil, fmt.Errorf("read delayed: %w", err)
    }
    for _, m := range members {
        var e delayedEntry
        if json.Unmarshal([]byte(m), &e) == nil && e.JobID != "" {
            out[e.JobID] = struct{}{}
        }
    }
    return out, nil
}

// DropStale acks and deletes stale deliveries of jobIDs. Their consumer is
// gone, so nothing else would ever remove them from the PEL or the stream.
// A late Ack from that consumer is a no-op.
func (q *RedisQueue) DropStale(ctx context.Context, jobIDs []string) (int, error) {
    if len(jobIDs) == 0 { return 0, nil }
    drop := make(map[string]bool, len(jobIDs))
    for _, id := range jobIDs {
        drop[id] = true
    }
    n := 0
    for _, rk := range q.opts.RoutingKeys {
        stream := q.stream(rk)
        stale, err := q.staleIDs(ctx, stream)
        if err != nil { return n, err }
        for entryID := range stale {
            entries, err := q.client.XRange(ctx, stream, entryID, entryID).Result()
            if err != nil && !errors.Is(err, redis.Nil) {
                return n, fmt.Errorf("xrange %s: %w", stream, err)
            }
            if len(entries) == 0 || !drop[fieldString(entries[0].Values, "job_id")] {
                continue
            }
            pipe := q.client.TxPipeline()
            pipe.XAck(ctx, stream, q.opts.Group, entryID)
            pipe.XDel(ctx, stream, entryID)
            if _, err := pipe.Exec(ctx); err != nil {
                return n, fmt.Errorf("drop %s/%s: %w", stream, entryID, err)
            }
            n++
        }
    }
    return n, nil
}

// mover periodically moves due delayed jobs from ZSET into their streams.
func (q *RedisQueue) mover() {
    ticker := time.NewTicker(q.opts.PollInterval)
    defer ticker.Stop()
    for {
        select {
        case <-q.stop:
            return
        case <-ticker.C:
            q.moveOnce(context.Background())
        }
    }
}

func (q *RedisQueue) moveOnce(parent context.Context) int {
    ctx, cancel := context.WithTimeout(parent, 2*time.Second)
    defer cancel()
    now := time.Now().UnixMilli()
    // Fetch up to 100 ready items
    vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
        Min: "-inf", Max: strconv.FormatInt(now, 10), Offset: 0, Count: 100,
    }).Result()
    if err != nil || len(vals) == 0 { return 0 }
    moved := 0
    for _, member := range vals {
        var e delayedEntry
        if err := json.Unmarshal([]byte(member), &e); err != nil || !q.knownKey(e.RoutingKey) {
            continue
        }
        headers, err := json.Marshal(e.Headers)
        if err != nil { continue }
        n, err := moveScript.Run(ctx, q.client,
            []string{q.DelayedKey, q.stream(e.RoutingKey)},
            member, e.JobID, e.RoutingKey, string(headers), string(e.Body),
        ).Int()
        if err != nil {
            log.Warn().Err(err).Str("job_id", e.JobID).Msg("delayed move failed; entry kept for the next tick")
            continue
        }
        moved += n
    }
    return moved
}

// Depths returns approximate stream/delayed/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (map[string]int64, error) {
    pipe := q.client.Pipeline()
    lens := make(map[string]*redis.IntCmd, len(q.opts.RoutingKeys))
    for _, rk := range q.opts.RoutingKeys {
        lens[rk] = pipe.XLen(ctx, q.stream(rk))
    }
    zcard := pipe.ZCard(ctx, q.DelayedKey)
    dxlen := pipe.XLen(ctx, q.DLQStream)
    if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
        return nil, err
    }
    out := map[string]int64{"delayed": zcard.Val(), "dlq": dxlen.Val()}
    for rk, c := range lens {
        out["stream:"+rk] = c.Val()
    }
    return out, nil
}
