package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage is the object store used for snapshot backups
type Storage interface {
	// Put returns a writer for the object at key. The object is committed on Close.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens the object at key for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// CloudStorage implements Storage on a Cloud Storage bucket
type CloudStorage struct {
	bucket *storage.BucketHandle
	client *storage.Client
}

var _ Storage = (*CloudStorage)(nil)

// NewCloudStorage creates a Cloud Storage backed Storage for bucketName
func NewCloudStorage(ctx context.Context, bucketName string) (*CloudStorage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &CloudStorage{
		bucket: client.Bucket(bucketName),
		client: client,
	}, nil
}

func (s *CloudStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w, nil
}

func (s *CloudStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}
	return reader, nil
}

// Close releases the underlying client
func (s *CloudStorage) Close() error {
	if err := s.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage client")
	}
	return nil
}
