package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
)

const gcsScheme = "gs://"

// Destination resolves export targets. gs://bucket/path targets are written through
// an object store; anything else is a local file path.
type Destination struct {
	newStorage func(ctx context.Context, bucket string) (adapter.Storage, error)
}

type DestinationOption func(*Destination)

// WithStorageFactory sets how object stores are opened for gs:// targets
func WithStorageFactory(f func(ctx context.Context, bucket string) (adapter.Storage, error)) DestinationOption {
	return func(d *Destination) {
		d.newStorage = f
	}
}

func NewDestination(credentialsFile string, opts ...DestinationOption) *Destination {
	d := &Destination{
		newStorage: func(ctx context.Context, bucket string) (adapter.Storage, error) {
			return adapter.NewStorage(ctx, bucket, credentialsFile)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ParseGCSPath splits gs://bucket/object. ok is false for any other target
func ParseGCSPath(target string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(target, gcsScheme) {
		return "", "", false
	}
	bucket, object, _ = strings.Cut(strings.TrimPrefix(target, gcsScheme), "/")
	return bucket, object, true
}

// Resolve turns a target into a full path. A target ending with "/" or naming an
// existing local directory gets name appended.
func Resolve(target, name string) string {
	if target == "" {
		return name
	}
	if strings.HasSuffix(target, "/") {
		return target + name
	}
	if _, _, ok := ParseGCSPath(target); !ok {
		if st, err := os.Stat(target); err == nil && st.IsDir() {
			return filepath.Join(target, name)
		}
	}
	return target
}

// Save streams write into the target
func (d *Destination) Save(ctx context.Context, target string, write func(w io.Writer) error) error {
	if bucket, object, ok := ParseGCSPath(target); ok {
		return d.saveObject(ctx, bucket, object, write)
	}
	return saveFile(ctx, target, write)
}

func (d *Destination) saveObject(ctx context.Context, bucket, object string, write func(w io.Writer) error) error {
	if bucket == "" || object == "" {
		return goerr.New("gs:// target needs a bucket and an object name", goerr.V("bucket", bucket), goerr.V("object", object))
	}

	store, err := d.newStorage(ctx, bucket)
	if err != nil {
		return goerr.Wrap(err, "failed to open bucket", goerr.V("bucket", bucket))
	}

	w, err := store.Put(ctx, object)
	if err != nil {
		return goerr.Wrap(err, "failed to open object writer", goerr.V("bucket", bucket), goerr.V("object", object))
	}
	if err := write(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit object", goerr.V("bucket", bucket), goerr.V("object", object))
	}

	logging.From(ctx).Info("exported to cloud storage", "bucket", bucket, "object", object)
	return nil
}

func saveFile(ctx context.Context, path string, write func(w io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return goerr.Wrap(err, "failed to create export directory", goerr.V("dir", dir))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "failed to create export file", goerr.V("path", path))
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close export file", goerr.V("path", path))
	}

	logging.From(ctx).Info("exported to file", "path", path)
	return nil
}
