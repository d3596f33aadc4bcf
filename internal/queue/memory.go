package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	id          string
	msg         Message
	delivered   bool
	deliveredAt time.Time
}

type memDelayed struct {
	msg Message
	at  time.Time
}

type memHeartbeat struct {
	ids     []string
	expires time.Time
}

// Memory is an in-process broker with the same semantics as RedisQueue. It
// backs single-node runs and tests.
type Memory struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	seq        int64
	streams    map[string][]*memEntry
	delayed    []memDelayed
	dlq        []Message
	revoked    map[string]time.Time
	heartbeats map[string]memHeartbeat
	closed     bool

	notify chan struct{}
}

// NewMemory returns an empty broker.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	m := &Memory{
		opts:       opts,
		now:        time.Now,
		streams:    make(map[string][]*memEntry),
		revoked:    make(map[string]time.Time),
		heartbeats: make(map[string]memHeartbeat),
		notify:     make(chan struct{}, 1),
	}
	for _, rk := range opts.RoutingKeys {
		m.streams[rk] = nil
	}
	return m
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.streams[msg.RoutingKey]; !ok {
		return fmt.Errorf("unknown routing key %q", msg.RoutingKey)
	}
	m.appendLocked(msg)
	m.wake()
	return nil
}

func (m *Memory) appendLocked(msg Message) {
	m.seq++
	msg.Body = append([]byte(nil), msg.Body...)
	m.streams[msg.RoutingKey] = append(m.streams[msg.RoutingKey], &memEntry{id: strconv.FormatInt(m.seq, 10), msg: msg})
}

func (m *Memory) PublishDelayed(_ context.Context, msg Message, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.streams[msg.RoutingKey]; !ok {
		return fmt.Errorf("unknown routing key %q", msg.RoutingKey)
	}
	msg.Body = append([]byte(nil), msg.Body...)
	m.delayed = append(m.delayed, memDelayed{msg: msg, at: at})
	return nil
}

func (m *Memory) promoteLocked() {
	now := m.now()
	kept := m.delayed[:0]
	for _, d := range m.delayed {
		if !d.at.After(now) {
			m.appendLocked(d.msg)
			continue
		}
		kept = append(kept, d)
	}
	m.delayed = kept
}

func (m *Memory) take() *Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoteLocked()
	for _, rk := range m.opts.RoutingKeys {
		for _, e := range m.streams[rk] {
			if e.delivered {
				continue
			}
			e.delivered = true
			e.deliveredAt = m.now()
			msg := e.msg
			msg.Body = append([]byte(nil), e.msg.Body...)
			return &Delivery{ID: e.id, Message: msg}
		}
	}
	return nil
}

func (m *Memory) Consume(ctx context.Context, _ string, block time.Duration) (*Delivery, error) {
	if d := m.take(); d != nil || block <= 0 {
		return d, nil
	}
	deadline := time.NewTimer(block)
	defer deadline.Stop()
	poll := time.NewTicker(m.opts.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return m.take(), nil
		case <-m.notify:
		case <-poll.C:
		}
		if d := m.take(); d != nil {
			return d, nil
		}
	}
}

func (m *Memory) removeLocked(d *Delivery) {
	entries := m.streams[d.RoutingKey]
	for i, e := range entries {
		if e.id == d.ID {
			m.streams[d.RoutingKey] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	m.mu.Lock()
	m.removeLocked(d)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeadLetter(_ context.Context, d *Delivery, _ string) error {
	m.mu.Lock()
	m.dlq = append(m.dlq, d.Message)
	m.removeLocked(d)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Revoke(_ context.Context, jobID string) error {
	m.mu.Lock()
	m.revoked[jobID] = m.now().Add(m.opts.RevokeTTL)
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jobID]
	return ok && m.now().Before(exp), nil
}

func (m *Memory) Heartbeat(_ context.Context, consumer string, jobIDs []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(jobIDs) == 0 {
		delete(m.heartbeats, consumer)
		return nil
	}
	m.heartbeats[consumer] = memHeartbeat{ids: append([]string(nil), jobIDs...), expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) ActiveJobIDs(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	now := m.now()
	for _, hb := range m.heartbeats {
		if now.After(hb.expires) {
			continue
		}
		for _, id := range hb.ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *Memory) QueuedJobIDs(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	now := m.now()
	for _, entries := range m.streams {
		for _, e := range entries {
			if e.delivered && now.Sub(e.deliveredAt) >= m.opts.PendingStaleAfter {
				continue
			}
			out[e.msg.JobID] = struct{}{}
		}
	}
	for _, d := range m.delayed {
		out[d.msg.JobID] = struct{}{}
	}
	return out, nil
}

func (m *Memory) DropStale(_ context.Context, jobIDs []string) (int, error) {
	drop := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for rk, entries := range m.streams {
		kept := entries[:0]
		for _, e := range entries {
			if e.delivered && drop[e.msg.JobID] && now.Sub(e.deliveredAt) >= m.opts.PendingStaleAfter {
				n++
				continue
			}
			kept = append(kept, e)
		}
		m.streams[rk] = kept
	}
	return n, nil
}

func (m *Memory) Depths(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{"delayed": int64(len(m.delayed)), "dlq": int64(len(m.dlq))}
	for rk, entries := range m.streams {
		out["stream:"+rk] = int64(len(entries))
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Discard drops every trace of jobID from the broker, as a crashed broker or
// a lost delivery would.
func (m *Memory) Discard(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rk, entries := range m.streams {
		kept := entries[:0]
		for _, e := range entries {
			if e.msg.JobID != jobID {
				kept = append(kept, e)
			}
		}
		m.streams[rk] = kept
	}
	kept := m.delayed[:0]
	for _, d := range m.delayed {
		if d.msg.JobID != jobID {
			kept = append(kept, d)
		}
	}
	m.delayed = kept
}

// DeadLettered returns the dead-lettered messages in arrival order.
func (m *Memory) DeadLettered() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.dlq...)
}

// Ready lists job ids not yet delivered, sorted.
func (m *Memory) Ready() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, entries := range m.streams {
		for _, e := range entries {
			if !e.delivered {
				ids = append(ids, e.msg.JobID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Shuffle reorders the undelivered entries of every stream with swap. It
// lets tests explore delivery orders.
func (m *Memory) Shuffle(swap func(n int, swap func(i, j int))) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rk, entries := range m.streams {
		var ready []*memEntry
		var rest []*memEntry
		for _, e := range entries {
			if e.delivered {
				rest = append(rest, e)
			} else {
				ready = append(ready, e)
			}
		}
		swap(len(ready), func(i, j int) { ready[i], ready[j] = ready[j], ready[i] })
		m.streams[rk] = append(rest, ready...)
	}
}
