// Package store provides a keyed record store with secondary indexes.
//
// Records are addressed by id and may be found through named indexes
// declared when the store is built. The store keeps the indexes in step with
// the primary record inside its own write path: callers never maintain an
// index by hand.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no record has the id.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownIndex is returned by Query for an undeclared index name.
	ErrUnknownIndex = errors.New("unknown index")
)

// Index derives zero or more lookup keys from a record. Empty keys are skipped.
type Index[T any] struct {
	Name string
	Key  func(T) []string
}

// Store persists records of one kind.
type Store[T any] interface {
	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (T, error)

	// Put inserts or replaces the record and its index entries atomically.
	Put(ctx context.Context, id string, v T) error

	// Query returns records whose index produced key, ordered by id.
	Query(ctx context.Context, index, key string) ([]T, error)

	// List returns every record, ordered by id.
	List(ctx context.Context) ([]T, error)
}

// By builds an index over a single string field.
func By[T any](name string, key func(T) string) Index[T] {
	return Index[T]{Name: name, Key: func(v T) []string {
		return []string{key(v)}
	}}
}

func validateIndexes[T any](indexes []Index[T]) error {
	seen := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		if idx.Name == "" || idx.Key == nil {
			return fmt.Errorf("index requires a name and key func")
		}
		if seen[idx.Name] {
			return fmt.Errorf("duplicate index %q", idx.Name)
		}
		seen[idx.Name] = true
	}
	return nil
}

// indexKeys returns the de-duplicated non-empty keys for each index.
func indexKeys[T any](indexes []Index[T], v T) map[string][]string {
	out := make(map[string][]string, len(indexes))
	for _, idx := range indexes {
		seen := make(map[string]bool)
		for _, k := range idx.Key(v) {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out[idx.Name] = append(out[idx.Name], k)
		}
	}
	return out
}

func encode[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
