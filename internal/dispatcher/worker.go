package dispatcher

import (
    "context"
    "fmt"
    "runtime/debug"
    "sort"
    "strconv"
    "sync"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/textpipeline/internal/failure"
    "github.com/local/textpipeline/internal/jobs"
    "github.com/local/textpipeline/internal/logger"
    "github.com/local/textpipeline/internal/metrics"
    "github.com/local/textpipeline/internal/queue"
)

type Config struct {
    Concurrency       int
    Consumer          string
    BlockTimeout      time.Duration
    HeartbeatInterval time.Duration
    HeartbeatTTL      time.Duration
}

// Worker consumes the job queue and runs registered handlers. Every
// delivery ends in exactly one terminal event (success, revoked, failed,
// dead-lettered) or in a scheduled retry.
type Worker struct {
    cfg      Config
    q        queue.Client
    registry *jobs.Registry
    pub      *jobs.Publisher

    mu           sync.Mutex
    inflight     map[string]int
    lastActivity time.Time

    stop     chan struct{}
    stopOnce sync.Once
    wg       sync.WaitGroup
}

func New(cfg Config, q queue.Client, registry *jobs.Registry, pub *jobs.Publisher) *Worker {
    if cfg.Concurrency <= 0 { cfg.Concurrency = 2 }
    if cfg.Consumer == "" { cfg.Consumer = "worker" }
    if cfg.BlockTimeout <= 0 { cfg.BlockTimeout = 2 * time.Second }
    if cfg.HeartbeatInterval <= 0 { cfg.HeartbeatInterval = 10 * time.Second }
    if cfg.HeartbeatTTL <= 0 { cfg.HeartbeatTTL = 3 * cfg.HeartbeatInterval }
    return &Worker{
        cfg:          cfg,
        q:            q,
        registry:     registry,
        pub:          pub,
        inflight:     make(map[string]int),
        lastActivity: time.Now(),
        stop:         make(chan struct{}),
    }
}

func (w *Worker) Start(ctx context.Context) {
    for i := 0; i < w.cfg.Concurrency; i++ {
        w.wg.Add(1)
        go w.loop(ctx, i)
    }
    w.wg.Add(1)
    go w.heartbeatLoop(ctx)
}

// Stop asks the loops to exit after their current job and waits for them.
func (w *Worker) Stop(ctx context.Context) error {
    w.stopOnce.Do(func() { close(w.stop) })
    done := make(chan struct{})
    go func() { w.wg.Wait(); close(done) }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (w *Worker) loop(ctx context.Context, id int) {
    defer w.wg.Done()
    log.Info().Int("worker", id).Str("consumer", w.cfg.Consumer).Msg("dispatcher worker started")
    for {
        select {
        case <-w.stop:
            log.Info().Int("worker", id).Msg("dispatcher worker stopped")
            return
        case <-ctx.Done():
            return
        default:
        }
        if _, err := w.processNext(ctx, w.cfg.BlockTimeout); err != nil {
            if ctx.Err() != nil { return }
            log.Error().Err(err).Msg("queue consume error")
            time.Sleep(500 * time.Millisecond)
        }
    }
}

// ProcessNext handles at most one delivery without blocking. It reports
// whether a delivery was consumed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
    return w.processNext(ctx, 0)
}

func (w *Worker) processNext(ctx context.Context, block time.Duration) (bool, error) {
    d, err := w.q.Consume(ctx, w.cfg.Consumer, block)
    if err != nil { return false, err }
    if d == nil { return false, nil }
    w.touch()

    env, err := jobs.Decode(d.Body)
    if err != nil {
        log.Error().Err(err).Str("job_id", d.JobID).Str("routing_key", d.RoutingKey).Msg("undecodable job; dead-lettering")
        w.deadLetter(ctx, d, d.JobID, err.Error())
        metrics.ObserveJob("unknown", "dlq", 0)
        return true, nil
    }

    if revoked, err := w.q.IsRevoked(ctx, env.ID); err != nil {
        log.Warn().Err(err).Str("job_id", env.ID).Msg("revocation check failed; running job")
    } else if revoked {
        log.Info().Str("job_id", env.ID).Str("kind", string(env.Kind)).Msg("job revoked before processing; skipping")
        w.finish(ctx, d, env.ID)
        metrics.ObserveJob(string(env.Kind), "revoked", 0)
        return true, nil
    }

    h, ok := w.registry.Lookup(env.Kind)
    if !ok {
        log.Error().Str("job_id", env.ID).Str("kind", string(env.Kind)).Msg("no handler for job kind; dead-lettering")
        w.deadLetter(ctx, d, env.ID, "no handler for "+string(env.Kind))
        metrics.ObserveJob(string(env.Kind), "dlq", 0)
        return true, nil
    }

    w.track(ctx, env.ID, +1)
    defer w.track(ctx, env.ID, -1)

    fields := map[string]string{
        "job_id":     env.ID,
        "kind":       string(env.Kind),
        "request_id": env.RequestID,
        "attempt":    strconv.Itoa(env.Attempt),
    }
    for k, v := range env.LogContext {
        fields[k] = v
    }
    jctx := logger.WithContext(ctx, fields)
    jlog := logger.From(jctx)

    start := time.Now()
    runErr := safeRun(func() error { return h.Run(jctx, env) })
    dur := time.Since(start)

    if runErr == nil {
        w.finish(ctx, d, env.ID)
        metrics.ObserveJob(string(env.Kind), "success", dur)
        jlog.Debug().Dur("took", dur).Msg("job done")
        return true, nil
    }

    if shouldRetry(runErr) && env.AttemptsLeft() {
        delay := env.RetryPolicy.Delay(env.Attempt)
        if err := w.pub.Retry(ctx, env, delay); err != nil {
            // Leave the delivery unacked: the pending record still exists and
            // the health monitor republishes it once it goes stale.
            jlog.Error().Err(err).Msg("failed to schedule retry; leaving delivery unacked")
            return true, nil
        }
        if err := w.q.Ack(ctx, d); err != nil {
            jlog.Warn().Err(err).Msg("ack after retry failed")
        }
        metrics.ObserveJob(string(env.Kind), "retry", dur)
        jlog.Warn().Err(runErr).Dur("delay", delay).Msg("job failed; retry scheduled")
        return true, nil
    }

    jlog.Error().Err(runErr).Msg("job failed")
    if h.OnFailure != nil {
        if err := safeRun(func() error { h.OnFailure(jctx, env, runErr); return nil }); err != nil {
            jlog.Error().Err(err).Msg("failure handler panicked")
        }
    }
    w.deadLetter(ctx, d, env.ID, failure.Render(runErr))
    metrics.ObserveJob(string(env.Kind), "failure", dur)
    return true, nil
}

func safeRun(fn func() error) (err error) {
    defer func() {
        if r := recover(); r != nil {
            log.Error().Str("stack", string(debug.Stack())).Msg("handler panic")
            err = failure.New("panic: %v", r)
        }
    }()
    return fn()
}

// finish is the terminal path: drop the pending record, then ack.
func (w *Worker) finish(ctx context.Context, d *queue.Delivery, jobID string) {
    w.deletePending(ctx, jobID)
    if err := w.q.Ack(ctx, d); err != nil {
        log.Warn().Err(err).Str("job_id", jobID).Msg("ack failed")
    }
}

func (w *Worker) deadLetter(ctx context.Context, d *queue.Delivery, jobID, reason string) {
    w.deletePending(ctx, jobID)
    if err := w.q.DeadLetter(ctx, d, reason); err != nil {
        log.Error().Err(err).Str("job_id", jobID).Msg("dead-letter failed")
    }
}

func (w *Worker) deletePending(ctx context.Context, jobID string) {
    if jobID == "" || w.pub == nil { return }
    if err := w.pub.Pending().Delete(ctx, jobID); err != nil {
        log.Warn().Err(err).Str("job_id", jobID).Msg("failed to delete pending record")
    }
}

func (w *Worker) touch() {
    w.mu.Lock()
    w.lastActivity = time.Now()
    w.mu.Unlock()
}

func (w *Worker) track(ctx context.Context, jobID string, delta int) {
    w.mu.Lock()
    w.inflight[jobID] += delta
    if w.inflight[jobID] <= 0 {
        delete(w.inflight, jobID)
    }
    w.lastActivity = time.Now()
    ids := w.inflightIDsLocked()
    w.mu.Unlock()
    if delta > 0 {
        w.beat(ctx, ids)
    }
}

func (w *Worker) inflightIDsLocked() []string {
    ids := make([]string, 0, len(w.inflight))
    for id := range w.inflight {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    return ids
}

func (w *Worker) beat(ctx context.Context, ids []string) {
    if err := w.q.Heartbeat(ctx, w.cfg.Consumer, ids, w.cfg.HeartbeatTTL); err != nil {
        log.Warn().Err(err).Msg("heartbeat failed")
    }
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
    defer w.wg.Done()
    ticker := time.NewTicker(w.cfg.HeartbeatInterval)
    defer ticker.Stop()
    for {
        select {
        case <-w.stop:
            w.beat(context.Background(), nil)
            return
        case <-ctx.Done():
            return
        case <-ticker.C:
            w.mu.Lock()
            ids := w.inflightIDsLocked()
            w.mu.Unlock()
            w.beat(ctx, ids)
        }
    }
}

// InFlight is the number of jobs currently executing.
func (w *Worker) InFlight() int {
    w.mu.Lock()
    defer w.mu.Unlock()
    return len(w.inflight)
}

// LastActivity is when a job was last received or finished.
func (w *Worker) LastActivity() time.Time {
    w.mu.Lock()
    defer w.mu.Unlock()
    return w.lastActivity
}

func (w *Worker) String() string {
    return fmt.Sprintf("worker(%s x%d)", w.cfg.Consumer, w.cfg.Concurrency)
}
