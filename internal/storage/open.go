package storage

import (
	"context"
	"fmt"
)

// Options select and configure a backend.
type Options struct {
	Backend       string // "s3"|"gcs"|"memory"
	Bucket        string
	EncryptionKey string
	S3            S3Options
}

// Open builds the configured backend, wrapped with at-rest encryption when a
// passphrase is set.
func Open(ctx context.Context, opts Options) (Client, error) {
	var (
		c   Client
		err error
	)
	switch opts.Backend {
	case "s3", "":
		c, err = NewS3(ctx, opts.Bucket, opts.S3)
	case "gcs":
		c, err = NewGCS(ctx, opts.Bucket)
	case "memory":
		c = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.EncryptionKey != "" {
		return NewEncrypted(c, opts.EncryptionKey)
	}
	return c, nil
}
