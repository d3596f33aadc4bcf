// Package health finds jobs that were published but vanished from the
// broker, and republishes them.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/textpipeline/internal/jobs"
	"github.com/local/textpipeline/internal/locking"
	"github.com/local/textpipeline/internal/logger"
	"github.com/local/textpipeline/internal/metrics"
	"github.com/local/textpipeline/internal/queue"
	"github.com/local/textpipeline/internal/storage"
)

// Report summarizes one reconcile pass.
type Report struct {
	Pending     int      `json:"pending"`
	Queued      int      `json:"queued"`
	Active      int      `json:"active"`
	Lost        []string `json:"lost"`
	Republished []string `json:"republished"`
	Failed      []string `json:"failed"`
}

// Monitor compares pending records (P) with what the broker holds (S) and
// what workers execute (K). Lost = P - S - K.
type Monitor struct {
	q     queue.Client
	pub   *jobs.Publisher
	grace time.Duration
	now   func() time.Time
}

// NewMonitor ignores records younger than grace: they may not have reached
// the broker yet.
func NewMonitor(q queue.Client, pub *jobs.Publisher, grace time.Duration) *Monitor {
	return &Monitor{q: q, pub: pub, grace: grace, now: time.Now}
}

func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

func (m *Monitor) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	l := logger.From(ctx)

	// S and K are read before P. A job only moves from S to K to finished,
	// and finishing deletes its record, so a job that terminates during the
	// pass is either still seen in S or K or already missing from P.
	queued, err := m.q.QueuedJobIDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("read queued jobs: %w", err)
	}
	active, err := m.q.ActiveJobIDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("read active jobs: %w", err)
	}
	records, err := m.pub.Pending().List(ctx)
	if err != nil {
		return rep, err
	}
	rep.Queued, rep.Active = len(queued), len(active)

	cutoff := m.now().Add(-m.grace)
	var lost []jobs.PendingRecord
	for _, rec := range records {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		rep.Pending++
		if _, ok := queued[rec.JobID]; ok {
			continue
		}
		if _, ok := active[rec.JobID]; ok {
			continue
		}
		lost = append(lost, rec)
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i].CreatedAt.Before(lost[j].CreatedAt) })

	for _, rec := range lost {
		// Listing P takes a while on a large backlog; the job may have
		// finished since its record was read.
		if _, err := m.pub.Pending().Get(ctx, rec.JobID); errors.Is(err, storage.ErrNotFound) {
			continue
		}
		rep.Lost = append(rep.Lost, rec.JobID)
		if err := m.pub.Republish(ctx, rec); err != nil {
			rep.Failed = append(rep.Failed, rec.JobID)
			metrics.IncLost("error")
			l.Error().Err(err).Str("job_id", rec.JobID).Str("request_id", rec.RequestID).Msg("failed to republish lost job; will retry next pass")
			continue
		}
		rep.Republished = append(rep.Republished, rec.JobID)
		metrics.IncLost("republished")
		l.Warn().Str("job_id", rec.JobID).Str("request_id", rec.RequestID).Str("kind", string(rec.Kind)).
			Time("created_at", rec.CreatedAt).Msg("republished lost job")
	}

	if len(rep.Republished) > 0 {
		if n, err := m.q.DropStale(ctx, rep.Republished); err != nil {
			l.Warn().Err(err).Msg("failed to drop stale deliveries of republished jobs")
		} else if n > 0 {
			l.Debug().Int("dropped", n).Msg("dropped stale deliveries")
		}
	}

	if depths, err := m.q.Depths(ctx); err == nil {
		for k, v := range depths {
			metrics.SetQueueDepth(k, v)
		}
	}
	l.Info().Int("pending", rep.Pending).Int("queued", rep.Queued).Int("active", rep.Active).
		Int("lost", len(rep.Lost)).Int("failed", len(rep.Failed)).Msg("reconcile pass done")
	return rep, nil
}

// Handler runs Reconcile as the reconcile job.
func (m *Monitor) Handler() jobs.Handler {
	return jobs.Handler{Run: func(ctx context.Context, _ *jobs.Envelope) error {
		_, err := m.Reconcile(ctx)
		return err
	}}
}

// Beat publishes a reconcile job every interval. The lock makes sure only one
// instance publishes per interval.
type Beat struct {
	pub      *jobs.Publisher
	locker   locking.Locker
	interval time.Duration
}

func NewBeat(pub *jobs.Publisher, locker locking.Locker, interval time.Duration) *Beat {
	return &Beat{pub: pub, locker: locker, interval: interval}
}

// Tick publishes one reconcile job if no other instance did so within the
// current interval. It reports whether it published.
func (b *Beat) Tick(ctx context.Context) (bool, error) {
	release, err := b.locker.TryAcquire(ctx, "task-health-beat", b.interval)
	if err == locking.ErrNotAcquired {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Held for the whole interval, not just while publishing.
	time.AfterFunc(b.interval, release)
	env, err := jobs.New(jobs.KindReconcile, "", nil)
	if err != nil {
		return false, err
	}
	if err := b.pub.Publish(ctx, env); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Beat) Run(ctx context.Context) {
	if b.interval <= 0 {
		return
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Tick(ctx); err != nil {
				log.Warn().Err(err).Msg("health beat failed")
			}
		}
	}
}
