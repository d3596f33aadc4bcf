package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS is a Client backed by a Google Cloud Storage bucket. Object generations
// serve as versions for conditional writes.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

// NewGCS opens a bucket with application default credentials.
func NewGCS(ctx context.Context, bucketName string) (*GCS, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs: bucket not configured")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucketName)}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

// Ping checks that the bucket is reachable.
func (g *GCS) Ping(ctx context.Context) error {
	_, err := g.bucket.Attrs(ctx)
	return err
}

func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	_, err := g.PutIf(ctx, key, data, Condition{})
	return err
}

func (g *GCS) PutIf(ctx context.Context, key string, data []byte, cond Condition) (string, error) {
	obj := g.bucket.Object(key)
	switch {
	case cond.MustNotExist:
		obj = obj.If(gcs.Conditions{DoesNotExist: true})
	case cond.MatchVersion != "":
		gen, err := strconv.ParseInt(cond.MatchVersion, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: bad generation %q", ErrPreconditionFailed, cond.MatchVersion)
		}
		obj = obj.If(gcs.Conditions{GenerationMatch: gen})
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", key, mapGCSErr(err))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", key, mapGCSErr(err))
	}
	return strconv.FormatInt(w.Attrs().Generation, 10), nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, string, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, mapGCSErr(err))
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, strconv.FormatInt(r.Attrs.Generation, 10), nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (g *GCS) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := g.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := g.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (g *GCS) Download(ctx context.Context, key, path string) error {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, mapGCSErr(err))
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", key, mapGCSErr(err))
	}
	return nil
}

func mapGCSErr(err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
