package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when a source object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// FormatGCSURI builds a gs:// URI.
func FormatGCSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// ParseGCSURI splits a gs://bucket/object URI.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri must name a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// GCSObjectStore reads and deletes uploaded source documents.
type GCSObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore creates a store backed by a new storage client.
func NewGCSObjectStore(ctx context.Context) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSObjectStore{client: client}, nil
}

// Read returns the full content of the object at location.
func (s *GCSObjectStore) Read(ctx context.Context, location string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(location)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", location, ErrObjectNotFound)
		}
		return nil, ClassifyProviderError("storage", fmt.Errorf("failed to get GCS object reader for %s: %w", location, err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, ClassifyProviderError("storage", fmt.Errorf("failed to read GCS object %s: %w", location, err))
	}
	return data, nil
}

// Delete removes the object at location. A missing object counts as deleted.
func (s *GCSObjectStore) Delete(ctx context.Context, location string) error {
	bucket, object, err := ParseGCSURI(location)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return ClassifyProviderError("storage", fmt.Errorf("failed to delete GCS object %s: %w", location, err))
	}
	return nil
}

func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}
