package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrPreconditionFailed is returned by PutIf when the condition does not hold.
	ErrPreconditionFailed = errors.New("storage: precondition failed")
)

// Condition guards a conditional write. The zero value is unconditional.
type Condition struct {
	// MustNotExist makes the write succeed only if the key is absent.
	MustNotExist bool
	// MatchVersion makes the write succeed only if the stored version equals it.
	MatchVersion string
}

// Client is the durable object store every component is constructed with.
// Versions are opaque strings (S3 ETag, GCS generation, in-memory counter).
type Client interface {
	Put(ctx context.Context, key string, data []byte) error
	PutIf(ctx context.Context, key string, data []byte, cond Condition) (string, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Download(ctx context.Context, key, path string) error
	Upload(ctx context.Context, path, key string) error
}
