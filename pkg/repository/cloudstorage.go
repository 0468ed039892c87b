package repository

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
)

// CloudStorage keeps each key as an object under a prefix
type CloudStorage struct {
	storage adapter.Storage
	prefix  string
}

var _ interfaces.KeyValueStore = (*CloudStorage)(nil)

// NewCloudStorage stores objects as <prefix>/<key>.json
func NewCloudStorage(storage adapter.Storage, prefix string) *CloudStorage {
	return &CloudStorage{storage: storage, prefix: prefix}
}

func (c *CloudStorage) objectKey(key string) string {
	return path.Join(c.prefix, key+".json")
}

func (c *CloudStorage) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := c.storage.Get(ctx, c.objectKey(key))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("key", key))
	}
	return data, nil
}

func (c *CloudStorage) Set(ctx context.Context, key string, value []byte) error {
	w, err := c.storage.Put(ctx, c.objectKey(key))
	if err != nil {
		return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to open object writer", goerr.V("key", key))
	}
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to write object", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to commit object", goerr.V("key", key))
	}
	return nil
}

func (c *CloudStorage) Delete(ctx context.Context, key string) error {
	return c.storage.Delete(ctx, c.objectKey(key))
}
