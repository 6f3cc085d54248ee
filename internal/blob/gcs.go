package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps files as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore connects to bucket. Explicit credentials JSON wins over
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsJSON string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := checkHandle(handle); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(handle).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", fs.ErrNotExist, s.bucket, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, handle string, r io.Reader) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(handle).NewWriter(ctx)
	w.ContentType = contentType(handle)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object: %w", err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, handle string) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	err := s.client.Bucket(s.bucket).Object(handle).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func contentType(handle string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(handle), ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(strings.ToLower(handle), ".csv"):
		return "text/csv"
	}
	return "application/octet-stream"
}
