package statuscheck

import (
    "context"
    "errors"
    "time"

    "github.com/local/textpipeline/internal/proc"
    "github.com/local/textpipeline/internal/storage"
)

// Pinger models the minimal broker capability we need for status checks.
type Pinger interface {
    Ping(ctx context.Context) error
}

// Checker aggregates health checks for external dependencies served at /health.
type Checker struct {
    queue    Pinger
    store    storage.Client
    binaries map[string]string
}

// Options configures the Checker.
type Options struct {
    Queue   Pinger
    Storage storage.Client
    // Binaries maps a report name to the executable looked up on PATH.
    Binaries map[string]string
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Queue    Status            `json:"queue"`
    Storage  Status            `json:"storage"`
    Binaries map[string]Status `json:"binaries"`
}

// Healthy is true when every subsystem is OK.
func (s Summary) Healthy() bool {
    if !s.Queue.OK || !s.Storage.OK {
        return false
    }
    for _, b := range s.Binaries {
        if !b.OK { return false }
    }
    return true
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    bins := opts.Binaries
    if bins == nil {
        bins = map[string]string{"libreoffice": "soffice", "tesseract": "tesseract"}
    }
    return &Checker{queue: opts.Queue, store: opts.Storage, binaries: bins}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    s := Summary{
        Queue:    c.checkQueue(ctx),
        Storage:  c.checkStorage(ctx),
        Binaries: make(map[string]Status, len(c.binaries)),
    }
    for name, bin := range c.binaries {
        s.Binaries[name] = checkBinary(bin)
    }
    return s
}

func (c *Checker) checkQueue(ctx context.Context) Status {
    if c.queue == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.queue.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

// checkStorage probes with an Exists call; a missing key is a healthy answer.
func (c *Checker) checkStorage(ctx context.Context) Status {
    if c.store == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if _, err := c.store.Exists(ctx, storage.PendingPrefix()+".probe"); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func checkBinary(name string) Status {
    if !proc.Available(name) {
        return Status{OK: false, Message: "Binary not found"}
    }
    return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    if errors.Is(err, context.DeadlineExceeded) {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
