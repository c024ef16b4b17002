package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Values are held JSON-encoded so callers
// never share memory with the store.
type Memory[T any] struct {
	mu      sync.RWMutex
	indexes []Index[T]
	records map[string][]byte
	// keys[id][index] remembers what was indexed so a Put can unlink it.
	keys map[string]map[string][]string
	// lookup[index][key] is the set of ids.
	lookup map[string]map[string]map[string]struct{}
}

var _ Store[struct{}] = (*Memory[struct{}])(nil)

// NewMemory creates an empty in-memory store.
func NewMemory[T any](indexes ...Index[T]) (*Memory[T], error) {
	if err := validateIndexes(indexes); err != nil {
		return nil, err
	}
	m := &Memory[T]{
		indexes: indexes,
		records: make(map[string][]byte),
		keys:    make(map[string]map[string][]string),
		lookup:  make(map[string]map[string]map[string]struct{}),
	}
	for _, idx := range indexes {
		m.lookup[idx.Name] = make(map[string]map[string]struct{})
	}
	return m, nil
}

func (m *Memory[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	m.mu.RLock()
	data, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return zero, ErrNotFound
	}
	return decode[T](data)
}

func (m *Memory[T]) Put(ctx context.Context, id string, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("put: empty id")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	keys := indexKeys(m.indexes, v)

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, old := range m.keys[id] {
		for _, k := range old {
			ids := m.lookup[name][k]
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.lookup[name], k)
			}
		}
	}
	for name, ks := range keys {
		for _, k := range ks {
			ids, ok := m.lookup[name][k]
			if !ok {
				ids = make(map[string]struct{})
				m.lookup[name][k] = ids
			}
			ids[id] = struct{}{}
		}
	}
	m.keys[id] = keys
	m.records[id] = data
	return nil
}

func (m *Memory[T]) Query(ctx context.Context, index, key string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	byKey, ok := m.lookup[index]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	ids := make([]string, 0, len(byKey[key]))
	for id := range byKey[key] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	blobs := make([][]byte, len(ids))
	for i, id := range ids {
		blobs[i] = m.records[id]
	}
	m.mu.RUnlock()

	return decodeAll[T](blobs)
}

func (m *Memory[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	blobs := make([][]byte, len(ids))
	for i, id := range ids {
		blobs[i] = m.records[id]
	}
	m.mu.RUnlock()

	return decodeAll[T](blobs)
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

func decodeAll[T any](blobs [][]byte) ([]T, error) {
	out := make([]T, 0, len(blobs))
	for _, b := range blobs {
		v, err := decode[T](b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
