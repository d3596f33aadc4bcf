package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/local/textpipeline/internal/storage"
)

// ErrGroupGone means the group's state was deleted, i.e. the request was
// canceled.
var ErrGroupGone = errors.New("fan-out group not found")

var errContended = errors.New("group state changed concurrently")

// GroupState is the durable completion counter of one fan-out group.
type GroupState struct {
	Total     int   `json:"total"`
	Remaining []int `json:"remaining"`
	OCRed     []int `json:"ocred"`
}

// Counter keeps GroupState in the object store. Every change is one
// version-checked write, so exactly one member sees Remaining become empty.
type Counter struct {
	client storage.Client
}

func NewCounter(client storage.Client) *Counter { return &Counter{client: client} }

// Create writes the initial state for pages 1..total. An existing state is
// kept, so a replayed fan-out does not reset progress.
func (c *Counter) Create(ctx context.Context, requestID, groupID string, total int) error {
	st := GroupState{Total: total, Remaining: make([]int, total), OCRed: []int{}}
	for i := range st.Remaining {
		st.Remaining[i] = i + 1
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = c.client.PutIf(ctx, storage.FanOutKey(requestID, groupID), data, storage.Condition{MustNotExist: true})
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return nil
	}
	return err
}

// Complete marks page as terminated and returns the resulting state.
// Completing a page twice changes nothing. The caller that gets an empty
// Remaining triggers fan-in.
func (c *Counter) Complete(ctx context.Context, requestID, groupID string, page int, ocred bool) (GroupState, error) {
	key := storage.FanOutKey(requestID, groupID)
	var out GroupState
	op := func() error {
		data, ver, err := c.client.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(ErrGroupGone)
		}
		if err != nil {
			return err
		}
		var st GroupState
		if err := json.Unmarshal(data, &st); err != nil {
			return backoff.Permanent(fmt.Errorf("decode group state: %w", err))
		}
		changed := false
		if i := slices.Index(st.Remaining, page); i >= 0 {
			st.Remaining = slices.Delete(st.Remaining, i, i+1)
			changed = true
		}
		if ocred && !slices.Contains(st.OCRed, page) {
			st.OCRed = append(st.OCRed, page)
			slices.Sort(st.OCRed)
			changed = true
		}
		if !changed {
			out = st
			return nil
		}
		next, err := json.Marshal(st)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, err = c.client.PutIf(ctx, key, next, storage.Condition{MatchVersion: ver})
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return errContended
		}
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(ErrGroupGone)
		}
		if err != nil {
			return err
		}
		out = st
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return GroupState{}, err
	}
	return out, nil
}

// Load returns the current state.
func (c *Counter) Load(ctx context.Context, requestID, groupID string) (GroupState, error) {
	data, _, err := c.client.Get(ctx, storage.FanOutKey(requestID, groupID))
	if errors.Is(err, storage.ErrNotFound) {
		return GroupState{}, ErrGroupGone
	}
	if err != nil {
		return GroupState{}, err
	}
	var st GroupState
	err = json.Unmarshal(data, &st)
	return st, err
}
