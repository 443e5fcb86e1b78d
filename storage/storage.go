// Package storage is the durable key/value store behind tour snapshots and
// the auto-started-once flags.
//
// Store implementations report failures wrapped in ErrUnavailable. Callers
// degrade instead of failing: a tour that cannot be restored starts fresh, a
// flag that cannot be read is treated as unset.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrUnavailable wraps every read or write failure.
var ErrUnavailable = errors.New("storage: unavailable")

// Store is a string key/value store.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store. Setting Fail makes every call return
// ErrUnavailable, which tests use to exercise degraded paths.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
	Fail bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return "", false, ErrUnavailable
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}
	m.data[key] = value
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}
	delete(m.data, key)
	return nil
}

// SetFail toggles failure injection.
func (m *Memory) SetFail(fail bool) {
	m.mu.Lock()
	m.Fail = fail
	m.mu.Unlock()
}

// Keys lists stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
