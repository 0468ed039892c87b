package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/api/option"
)

// Storage is an object store holding history snapshots and exported comics
type Storage interface {
	// Put returns a writer for the object. The object is committed on Close
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens the object. A missing object is reported with model.ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client. credentialsFile may be empty to use ADC
func NewStorage(ctx context.Context, bucketName, credentialsFile string) (Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	return obj.NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(model.ErrNotFound, "object not found",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

func (s *storageClient) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete from storage", goerr.V("key", key))
	}
	return nil
}
