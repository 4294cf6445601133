package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSArchive backs the Log Archive with Google Cloud Storage, grounded on
// cloud.google.com/go/storage as used in the retrieval pack's
// jinterlante1206-AleutianLocal repo. One bucket holds every job's logs,
// object keys double as the bucket-relative path.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive dials the GCS client. If credentialsFile is empty, the
// client falls back to Application Default Credentials, matching how the
// example pack's cloud.google.com/go/storage consumer is wired.
func NewGCSArchive(ctx context.Context, bucket, credentialsFile string) (*GCSArchive, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket}, nil
}

func (a *GCSArchive) Put(ctx context.Context, key string, body string) error {
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write([]byte(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close %s: %w", key, err)
	}
	return nil
}

func (a *GCSArchive) Get(ctx context.Context, key string) (string, error) {
	r, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("gcs: read %s: %w", key, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("gcs: read body %s: %w", key, err)
	}
	return string(b), nil
}

func (a *GCSArchive) Delete(ctx context.Context, key string) error {
	err := a.client.Bucket(a.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", key, err)
	}
	return nil
}

func (a *GCSArchive) Close() error { return a.client.Close() }
