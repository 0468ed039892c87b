package interfaces

import (
	"context"

	"github.com/m-mizutani/comicforge/pkg/model"
)

// KeyValueStore is durable storage holding named byte values
type KeyValueStore interface {
	// Get returns the value of key. A missing key is reported with model.ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value of key
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// HistoryRepository is the bounded record of finished comics used by generation
type HistoryRepository interface {
	Record(ctx context.Context, entry *model.HistoryEntry) bool
	Update(ctx context.Context, id model.ComicID, panels []model.HistoryPanel) bool
	Delete(ctx context.Context, id model.ComicID) bool
	Contains(id model.ComicID) bool
}
