package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFirestoreCollection = "comicforge"

	// Firestore documents are capped at 1 MiB including field names and metadata
	maxFirestoreValueBytes = 1_000_000
)

type firestoreDoc struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Firestore stores each key as a document in one collection
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ interfaces.KeyValueStore = (*Firestore)(nil)

type FirestoreOption func(*firestoreConfig)

type firestoreConfig struct {
	collection      string
	credentialsFile string
}

// WithFirestoreCollection overrides the collection name
func WithFirestoreCollection(name string) FirestoreOption {
	return func(c *firestoreConfig) {
		c.collection = name
	}
}

// WithFirestoreCredentials uses a service account key file instead of ADC
func WithFirestoreCredentials(path string) FirestoreOption {
	return func(c *firestoreConfig) {
		c.credentialsFile = path
	}
}

// NewFirestore connects to the given project and database
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	cfg := firestoreConfig{collection: defaultFirestoreCollection}
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: cfg.collection,
	}, nil
}

// Close releases the client connection
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get firestore document", goerr.V("key", key))
	}

	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode firestore document", goerr.V("key", key))
	}
	return doc.Value, nil
}

func (f *Firestore) Set(ctx context.Context, key string, value []byte) error {
	if len(value) > maxFirestoreValueBytes {
		return goerr.Wrap(model.ErrQuotaExceeded, "value exceeds firestore document limit",
			goerr.V("key", key),
			goerr.V("size", len(value)))
	}

	_, err := f.client.Collection(f.collection).Doc(key).Set(ctx, firestoreDoc{
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	})
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.ResourceExhausted:
		return goerr.Wrap(errors.Join(model.ErrQuotaExceeded, err), "firestore quota exceeded", goerr.V("key", key))
	default:
		return goerr.Wrap(errors.Join(model.ErrStorage, err), "failed to set firestore document", goerr.V("key", key))
	}
}

func (f *Firestore) Delete(ctx context.Context, key string) error {
	if _, err := f.client.Collection(f.collection).Doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return goerr.Wrap(err, "failed to delete firestore document", goerr.V("key", key))
	}
	return nil
}
