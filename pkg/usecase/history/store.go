package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
)

const (
	DefaultKey      = "comicforge_history"
	DefaultCapacity = 6
)

// Store is the bounded, newest-first list of finished comics. The in-memory list is
// authoritative; every mutation is written through to the KeyValueStore and write
// failures are only logged.
type Store struct {
	mu       sync.Mutex
	kv       interfaces.KeyValueStore
	key      string
	capacity int
	entries  []*model.HistoryEntry
	loaded   bool
}

var _ interfaces.HistoryRepository = (*Store)(nil)

// Option is a functional option for Store
type Option func(*Store)

// WithKey sets the storage key holding the serialized list. An empty key is ignored
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithCapacity sets the maximum number of entries. Values below 1 are ignored
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates a Store. Call Load to restore persisted entries before reading
func New(kv interfaces.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		key:      DefaultKey,
		capacity: DefaultCapacity,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Capacity returns the maximum number of retained entries
func (s *Store) Capacity() int {
	return s.capacity
}

// Load restores entries from storage once. Corrupt content is discarded and removed
// from storage. Load never fails; problems are logged. Record, Update and Delete load
// on first use when Load was not called.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
}

// loadLocked merges stored entries after the in-memory ones. mu must be held
func (s *Store) loadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	logger := logging.From(ctx)

	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, model.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("failed to read history, starting empty", logging.ErrAttr(err), "key", s.key)
		return
	}

	var entries []*model.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("discarding corrupt history", logging.ErrAttr(goerr.Wrap(err, "failed to parse history")), "key", s.key)
		if err := s.kv.Delete(ctx, s.key); err != nil {
			logger.Warn("failed to clear corrupt history", logging.ErrAttr(err), "key", s.key)
		}
		return
	}

	seen := make(map[model.ComicID]struct{}, len(s.entries)+len(entries))
	for _, e := range s.entries {
		seen[e.ID] = struct{}{}
	}
	for _, e := range entries {
		if len(s.entries) >= s.capacity {
			break
		}
		if e == nil || e.ID == "" {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		s.entries = append(s.entries, e)
	}

	logger.Debug("history loaded", "key", s.key, "entries", len(s.entries))
}

// Record prepends entry unless its id is already present, evicting the oldest entries
// beyond capacity. It reports whether the list changed.
func (s *Store) Record(ctx context.Context, entry *model.HistoryEntry) bool {
	if entry == nil || entry.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	if s.indexOf(entry.ID) >= 0 {
		return false
	}

	entries := make([]*model.HistoryEntry, 0, len(s.entries)+1)
	entries = append(entries, entry.Clone())
	entries = append(entries, s.entries...)
	if len(entries) > s.capacity {
		for _, evicted := range entries[s.capacity:] {
			logging.From(ctx).Debug("history entry evicted", "id", evicted.ID)
		}
		entries = entries[:s.capacity]
	}
	s.entries = entries

	s.persist(ctx)
	return true
}

// Update replaces the panels of an existing entry. It reports whether the entry exists
func (s *Store) Update(ctx context.Context, id model.ComicID, panels []model.HistoryPanel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	updated := s.entries[idx].Clone()
	updated.Panels = append([]model.HistoryPanel(nil), panels...)
	for i := range updated.Panels {
		updated.Panels[i].Image = append([]byte(nil), updated.Panels[i].Image...)
	}
	s.entries[idx] = updated

	s.persist(ctx)
	return true
}

// Delete removes the entry with id. It reports whether an entry was removed
func (s *Store) Delete(ctx context.Context, id model.ComicID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	s.persist(ctx)
	return true
}

// List returns deep copies of all entries, newest first
func (s *Store) List() []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.HistoryEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns a copy of the entry with id
func (s *Store) Get(id model.ComicID) (*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "history entry not found", goerr.V("id", id))
	}
	return s.entries[idx].Clone(), nil
}

// Contains reports whether id is recorded
func (s *Store) Contains(id model.ComicID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

func (s *Store) indexOf(id model.ComicID) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// persist must be called with mu held
func (s *Store) persist(ctx context.Context) {
	logger := logging.From(ctx)

	entries := s.entries
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		logger.Error("failed to encode history", logging.ErrAttr(goerr.Wrap(err, "failed to marshal history")))
		return
	}

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		if errors.Is(err, model.ErrQuotaExceeded) {
			logger.Warn("history exceeds storage quota, keeping it in memory only",
				logging.ErrAttr(err), "key", s.key, "size", len(data))
			return
		}
		logger.Error("failed to save history", logging.ErrAttr(err), "key", s.key)
		return
	}

	logger.Debug("history saved", "key", s.key, "entries", len(entries), "size", len(data))
}
