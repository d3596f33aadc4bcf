package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/local/textpipeline/internal/storage"
)

var (
	// ErrNotFound means the request namespace has no metadata: never
	// submitted, purged, or canceled.
	ErrNotFound = errors.New("request not found")
	// ErrAlreadyExists is returned by Create for a pinned id already in use.
	ErrAlreadyExists = errors.New("request already exists")
	// ErrSkip aborts an Update without writing.
	ErrSkip = errors.New("update skipped")
)

const maxUpdateAttempts = 16

// Store persists Metadata in the object store. All mutations go through a
// version-checked write, so concurrent writers never lose updates and a final
// status can never be overwritten.
type Store struct {
	client storage.Client
}

func NewStore(client storage.Client) *Store { return &Store{client: client} }

// Create writes the initial metadata only if the namespace has none.
func (s *Store) Create(ctx context.Context, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.client.PutIf(ctx, storage.MetadataKey(md.RequestID), data, storage.Condition{MustNotExist: true})
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return ErrAlreadyExists
	}
	return err
}

// Load returns the current metadata and its storage version.
func (s *Store) Load(ctx context.Context, requestID string) (*Metadata, string, error) {
	data, ver, err := s.client.Get(ctx, storage.MetadataKey(requestID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("load metadata %s: %w", requestID, err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, "", fmt.Errorf("decode metadata %s: %w", requestID, err)
	}
	return &md, ver, nil
}

// Get is Load without the version.
func (s *Store) Get(ctx context.Context, requestID string) (*Metadata, error) {
	md, _, err := s.Load(ctx, requestID)
	return md, err
}

// Update applies mutate under optimistic concurrency. mutate may run several
// times and must be free of side effects. Returning ErrSkip leaves the stored
// object untouched; Update then returns the current metadata and ErrSkip.
// Update never recreates a deleted request.
func (s *Store) Update(ctx context.Context, requestID string, mutate func(*Metadata) error) (*Metadata, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		md, ver, err := s.Load(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := mutate(md); err != nil {
			return md, err
		}
		data, err := json.MarshalIndent(md, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		_, err = s.client.PutIf(ctx, storage.MetadataKey(requestID), data, storage.Condition{MatchVersion: ver})
		if errors.Is(err, storage.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save metadata %s: %w", requestID, err)
		}
		return md, nil
	}
	return nil, fmt.Errorf("save metadata %s: too much contention", requestID)
}

// UpdatePending is Update restricted to requests still in PENDING. It reports
// whether the write happened.
func (s *Store) UpdatePending(ctx context.Context, requestID string, mutate func(*Metadata)) (bool, *Metadata, error) {
	md, err := s.Update(ctx, requestID, func(md *Metadata) error {
		if md.Status != StatusPending {
			return ErrSkip
		}
		mutate(md)
		return nil
	})
	if errors.Is(err, ErrSkip) {
		return false, md, nil
	}
	if err != nil {
		return false, md, err
	}
	return true, md, nil
}

// Transition moves a PENDING request to a final status, applying mutate in
// the same write. It returns false when the request was already final, which
// callers treat as a no-op.
func (s *Store) Transition(ctx context.Context, requestID string, to Status, mutate func(*Metadata)) (bool, *Metadata, error) {
	if !to.Final() {
		return false, nil, fmt.Errorf("transition to non-final status %s", to)
	}
	return s.UpdatePending(ctx, requestID, func(md *Metadata) {
		if mutate != nil {
			mutate(md)
		}
		md.Status = to
	})
}

// Delete removes the whole request namespace.
func (s *Store) Delete(ctx context.Context, requestID string) error {
	return s.client.DeletePrefix(ctx, storage.RequestPrefix(requestID))
}

// RegisterJob leaves a marker so Cancel can find every job of a request.
func (s *Store) RegisterJob(ctx context.Context, requestID, jobID string) error {
	return s.client.Put(ctx, storage.TaskIDKey(requestID, jobID), []byte(jobID))
}

// JobIDs lists the registered job ids of a request.
func (s *Store) JobIDs(ctx context.Context, requestID string) ([]string, error) {
	keys, err := s.client.List(ctx, storage.TaskIDsPrefix(requestID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, path.Base(k))
	}
	return ids, nil
}

// Exists reports whether the request still has metadata.
func (s *Store) Exists(ctx context.Context, requestID string) (bool, error) {
	return s.client.Exists(ctx, storage.MetadataKey(requestID))
}
