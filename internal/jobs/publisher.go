package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/local/textpipeline/internal/metrics"
	"github.com/local/textpipeline/internal/queue"
)

// JobMarker records which jobs belong to a request.
type JobMarker interface {
	RegisterJob(ctx context.Context, requestID, jobID string) error
}

// Publisher is the only way jobs enter the queue. It guarantees a pending
// record exists before the broker sees a tracked job.
type Publisher struct {
	queue   queue.Client
	pending *PendingStore
	markers JobMarker
	now     func() time.Time
}

func NewPublisher(q queue.Client, pending *PendingStore, markers JobMarker) *Publisher {
	return &Publisher{queue: q, pending: pending, markers: markers, now: time.Now}
}

// SetClock overrides the time source stamped on pending records.
func (p *Publisher) SetClock(now func() time.Time) { p.now = now }

func (p *Publisher) Pending() *PendingStore { return p.pending }

func headers(env *Envelope) map[string]string {
	h := map[string]string{"kind": string(env.Kind), "attempt": strconv.Itoa(env.Attempt)}
	if env.RequestID != "" {
		h["request_id"] = env.RequestID
	}
	return h
}

func (p *Publisher) record(ctx context.Context, env *Envelope, msg queue.Message) error {
	if !env.Kind.Tracked() {
		return nil
	}
	rec := PendingRecord{
		JobID:       env.ID,
		Kind:        env.Kind,
		RoutingKey:  msg.RoutingKey,
		Headers:     msg.Headers,
		Body:        msg.Body,
		RetryPolicy: env.RetryPolicy,
		RequestID:   env.RequestID,
		CreatedAt:   p.now().UTC(),
	}
	return p.pending.Put(ctx, rec)
}

func (p *Publisher) message(env *Envelope) (queue.Message, error) {
	body, err := Encode(env)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode %s job: %w", env.Kind, err)
	}
	return queue.Message{JobID: env.ID, RoutingKey: env.Kind.RoutingKey(), Headers: headers(env), Body: body}, nil
}

// Publish writes the pending record and the request's job marker, then
// hands the job to the broker.
func (p *Publisher) Publish(ctx context.Context, env *Envelope) error {
	msg, err := p.message(env)
	if err != nil {
		return err
	}
	if err := p.record(ctx, env, msg); err != nil {
		return err
	}
	if env.RequestID != "" && env.Kind.Tracked() && p.markers != nil {
		if err := p.markers.RegisterJob(ctx, env.RequestID, env.ID); err != nil {
			return fmt.Errorf("register job %s: %w", env.ID, err)
		}
	}
	if err := p.queue.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s job %s: %w", env.Kind, env.ID, err)
	}
	metrics.IncPublished(string(env.Kind))
	return nil
}

// Retry re-publishes env as its next attempt after delay. The pending record
// is refreshed so a republish after loss carries the new attempt number.
func (p *Publisher) Retry(ctx context.Context, env *Envelope, delay time.Duration) error {
	next := *env
	next.Attempt++
	msg, err := p.message(&next)
	if err != nil {
		return err
	}
	if err := p.record(ctx, &next, msg); err != nil {
		return err
	}
	if err := p.queue.PublishDelayed(ctx, msg, p.now().Add(delay)); err != nil {
		return fmt.Errorf("retry %s job %s: %w", env.Kind, env.ID, err)
	}
	return nil
}

// Republish sends a stored record's bytes unchanged.
func (p *Publisher) Republish(ctx context.Context, rec PendingRecord) error {
	msg := queue.Message{JobID: rec.JobID, RoutingKey: rec.RoutingKey, Headers: rec.Headers, Body: rec.Body}
	return p.queue.Publish(ctx, msg)
}
