package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/textpipeline/internal/storage"
)

// PendingRecord is written before a job is published and deleted when the
// job terminates. Body holds the exact bytes that went on the queue so a lost
// job can be republished verbatim.
type PendingRecord struct {
	JobID       string            `json:"job_id"`
	Kind        Kind              `json:"kind"`
	RoutingKey  string            `json:"routing_key"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"payload"`
	RetryPolicy RetryPolicy       `json:"retry_policy"`
	RequestID   string            `json:"request_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PendingStore keeps PendingRecords under tasks_pending/.
type PendingStore struct {
	client storage.Client
}

func NewPendingStore(client storage.Client) *PendingStore { return &PendingStore{client: client} }

func (p *PendingStore) Put(ctx context.Context, rec PendingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending record: %w", err)
	}
	if err := p.client.Put(ctx, storage.PendingKey(rec.JobID), data); err != nil {
		return fmt.Errorf("write pending record %s: %w", rec.JobID, err)
	}
	return nil
}

// Get returns storage.ErrNotFound (wrapped) for unknown jobs.
func (p *PendingStore) Get(ctx context.Context, jobID string) (*PendingRecord, error) {
	data, _, err := p.client.Get(ctx, storage.PendingKey(jobID))
	if err != nil {
		return nil, err
	}
	var rec PendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode pending record %s: %w", jobID, err)
	}
	return &rec, nil
}

func (p *PendingStore) Delete(ctx context.Context, jobID string) error {
	return p.client.Delete(ctx, storage.PendingKey(jobID))
}

// List returns every readable record. Records deleted while listing are
// skipped.
func (p *PendingStore) List(ctx context.Context) ([]PendingRecord, error) {
	keys, err := p.client.List(ctx, storage.PendingPrefix())
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	out := make([]PendingRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := p.Get(ctx, storage.JobIDFromPendingKey(k))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("skipping unreadable pending record")
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}
