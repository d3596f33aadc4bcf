package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Message is what producers hand to the broker. Body is opaque and delivered
// byte for byte.
type Message struct {
	JobID      string            `json:"job_id"`
	RoutingKey string            `json:"routing_key"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
}

// Delivery is a message handed to one consumer. It stays owned by that
// consumer until Ack or DeadLetter.
type Delivery struct {
	ID string
	Message
}

// Client is the broker contract the rest of the system depends on.
type Client interface {
	Publish(ctx context.Context, msg Message) error
	// PublishDelayed makes msg visible to consumers at or after at.
	PublishDelayed(ctx context.Context, msg Message, at time.Time) error
	// Consume waits up to block for one delivery. It returns nil, nil on
	// timeout.
	Consume(ctx context.Context, consumer string, block time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// DeadLetter parks the delivery with a reason and acknowledges it.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error

	Revoke(ctx context.Context, jobID string) error
	IsRevoked(ctx context.Context, jobID string) (bool, error)

	// Heartbeat replaces the set of job ids consumer is executing. The set
	// expires after ttl unless refreshed.
	Heartbeat(ctx context.Context, consumer string, jobIDs []string, ttl time.Duration) error

	// QueuedJobIDs is every job id the broker still holds: ready, delayed,
	// or recently delivered and not yet acknowledged.
	QueuedJobIDs(ctx context.Context) (map[string]struct{}, error)
	// ActiveJobIDs is the union of live consumer heartbeats.
	ActiveJobIDs(ctx context.Context) (map[string]struct{}, error)
	// DropStale removes deliveries of jobIDs that have been idle longer than
	// PendingStaleAfter and reports how many it removed. The health monitor
	// calls it after republishing those jobs.
	DropStale(ctx context.Context, jobIDs []string) (int, error)

	// Depths reports approximate backlog sizes keyed by "stream:<key>",
	// "delayed" and "dlq".
	Depths(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configure a broker.
type Options struct {
	Prefix            string
	Group             string
	RoutingKeys       []string
	PollInterval      time.Duration
	PendingStaleAfter time.Duration
	RevokeTTL         time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "textpipeline"
	}
	if o.Group == "" {
		o.Group = "workers"
	}
	if len(o.RoutingKeys) == 0 {
		o.RoutingKeys = []string{"documents", "pages", "maintenance"}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.PendingStaleAfter <= 0 {
		o.PendingStaleAfter = time.Minute
	}
	if o.RevokeTTL <= 0 {
		o.RevokeTTL = 7 * 24 * time.Hour
	}
	return o
}
