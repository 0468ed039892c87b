package repository

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
)

// Memory is a process-local KeyValueStore
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ interfaces.KeyValueStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("key", key))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Quota rejects writes larger than a byte budget, like browser local storage does
type Quota struct {
	inner    interfaces.KeyValueStore
	maxBytes int
}

var _ interfaces.KeyValueStore = (*Quota)(nil)

// NewQuota wraps inner. maxBytes <= 0 disables the check.
func NewQuota(inner interfaces.KeyValueStore, maxBytes int) *Quota {
	return &Quota{inner: inner, maxBytes: maxBytes}
}

func (q *Quota) Get(ctx context.Context, key string) ([]byte, error) {
	return q.inner.Get(ctx, key)
}

func (q *Quota) Set(ctx context.Context, key string, value []byte) error {
	if q.maxBytes > 0 && len(key)+len(value) > q.maxBytes {
		return goerr.Wrap(model.ErrQuotaExceeded, "value exceeds storage quota",
			goerr.V("key", key),
			goerr.V("size", len(value)),
			goerr.V("quota", q.maxBytes))
	}
	return q.inner.Set(ctx, key, value)
}

func (q *Quota) Delete(ctx context.Context, key string) error {
	return q.inner.Delete(ctx, key)
}
