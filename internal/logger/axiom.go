package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
)

// ingester is the part of axiom.Client the sink needs.
type ingester interface {
    IngestEvents(ctx context.Context, id string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// axiomSink batches log events to an Axiom dataset. It is a
// zerolog.LevelWriter, so events below minLevel are dropped before decoding.
// A full buffer drops events instead of blocking a job.
type axiomSink struct {
    client    ingester
    dataset   string
    minLevel  zerolog.Level
    batchSize int

    ch        chan axiom.Event
    dropped   atomic.Int64
    done      chan struct{}
    closeOnce sync.Once
    wg        sync.WaitGroup
}

func newAxiomSink(token, orgID, dataset string, flushEvery time.Duration) (*axiomSink, error) {
    if dataset == "" { dataset = "dev_" + Service }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    return startSink(c, dataset, flushEvery, 200), nil
}

func startSink(client ingester, dataset string, flushEvery time.Duration, batchSize int) *axiomSink {
    if flushEvery <= 0 { flushEvery = 10 * time.Second }
    s := &axiomSink{
        client:    client,
        dataset:   dataset,
        minLevel:  zerolog.InfoLevel,
        batchSize: batchSize,
        ch:        make(chan axiom.Event, 1000),
        done:      make(chan struct{}),
    }
    s.wg.Add(1)
    go s.loop(flushEvery)
    return s
}

func (s *axiomSink) Write(p []byte) (int, error) { return s.WriteLevel(zerolog.NoLevel, p) }

func (s *axiomSink) WriteLevel(l zerolog.Level, p []byte) (int, error) {
    if l < s.minLevel {
        return len(p), nil
    }
    select {
    case s.ch <- toEvent(p):
    default:
        s.dropped.Add(1)
    }
    return len(p), nil
}

// toEvent decodes one zerolog JSON line. zerolog's time field becomes
// Axiom's _time.
func toEvent(p []byte) axiom.Event {
    var ev axiom.Event
    if err := json.Unmarshal(p, &ev); err != nil || ev == nil {
        ev = axiom.Event{"message": strings.TrimSpace(string(p)), "level": "info"}
    }
    if t, ok := ev[zerolog.TimestampFieldName]; ok {
        ev[ingest.TimestampField] = t
        delete(ev, zerolog.TimestampFieldName)
    } else if _, ok := ev[ingest.TimestampField]; !ok {
        ev[ingest.TimestampField] = time.Now().UTC()
    }
    return ev
}

func (s *axiomSink) loop(flushEvery time.Duration) {
    defer s.wg.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, s.batchSize)
    flush := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        if _, err := s.client.IngestEvents(ctx, s.dataset, batch); err != nil {
            fmt.Fprintf(os.Stderr, "axiom ingest of %d events failed: %v\n", len(batch), err)
        }
        cancel()
        batch = make([]axiom.Event, 0, s.batchSize)
    }
    for {
        select {
        case <-s.done:
            for {
                select {
                case ev := <-s.ch:
                    batch = append(batch, ev)
                default:
                    flush()
                    return
                }
            }
        case <-ticker.C:
            flush()
        case ev := <-s.ch:
            batch = append(batch, ev)
            if len(batch) >= s.batchSize { flush() }
        }
    }
}

// Close flushes what is buffered and stops the sink.
func (s *axiomSink) Close() {
    s.closeOnce.Do(func() { close(s.done) })
    s.wg.Wait()
    if n := s.dropped.Load(); n > 0 {
        fmt.Fprintf(os.Stderr, "axiom: %d log events dropped (buffer full)\n", n)
    }
}
