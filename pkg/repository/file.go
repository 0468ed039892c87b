package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
)

const (
	lockFileName   = ".comicforge.lock"
	lockRetryDelay = 20 * time.Millisecond
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// File stores each key as a file in a directory. Writers in different processes are
// serialized with a lock file, and values are replaced atomically via rename.
type File struct {
	dir  string
	lock *flock.Flock
}

var _ interfaces.KeyValueStore = (*File)(nil)

// NewFile creates the directory if needed
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, goerr.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}

	return &File{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

func (f *File) path(key string) (string, error) {
	if !validKey.MatchString(key) || key == lockFileName {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(f.dir, key), nil
}

func (f *File) withLock(ctx context.Context, fn func() error) error {
	ok, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return goerr.Wrap(err, "failed to acquire storage lock", goerr.V("dir", f.dir))
	}
	if !ok {
		return goerr.New("storage lock is busy", goerr.V("dir", f.dir))
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	return fn()
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read storage file", goerr.V("path", path))
	}
	return data, nil
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	return f.withLock(ctx, func() error {
		tmp, err := os.CreateTemp(f.dir, "."+key+".*.tmp")
		if err != nil {
			return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", f.dir))
		}
		tmpName := tmp.Name()
		defer func() {
			_ = os.Remove(tmpName)
		}()

		if _, err := tmp.Write(value); err != nil {
			_ = tmp.Close()
			return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to write storage file", goerr.V("path", tmpName))
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to sync storage file", goerr.V("path", tmpName))
		}
		if err := tmp.Close(); err != nil {
			return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to close storage file", goerr.V("path", tmpName))
		}

		if err := os.Rename(tmpName, path); err != nil {
			return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to replace storage file", goerr.V("path", path))
		}
		return nil
	})
}

func (f *File) Delete(ctx context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	return f.withLock(ctx, func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to delete storage file", goerr.V("path", path))
		}
		return nil
	})
}
