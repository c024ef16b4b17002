package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS record_index (
	kind TEXT NOT NULL,
	index_name TEXT NOT NULL,
	key TEXT NOT NULL,
	id TEXT NOT NULL,
	PRIMARY KEY (kind, index_name, key, id)
);

CREATE INDEX IF NOT EXISTS idx_record_index_id ON record_index(kind, id);
`

// DB is a SQLite database shared by the typed stores of each record kind.
type DB struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{db: db}
	if err := d.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Migrate creates the schema if missing.
func (d *DB) Migrate() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQLite is a Store backed by a shared DB, scoped to one record kind.
type SQLite[T any] struct {
	db      *sql.DB
	kind    string
	indexes map[string]Index[T]
	order   []Index[T]
}

var _ Store[struct{}] = (*SQLite[struct{}])(nil)

// NewSQLite returns the store for kind on db.
func NewSQLite[T any](db *DB, kind string, indexes ...Index[T]) (*SQLite[T], error) {
	if kind == "" {
		return nil, fmt.Errorf("sqlite store requires a kind")
	}
	if err := validateIndexes(indexes); err != nil {
		return nil, err
	}
	byName := make(map[string]Index[T], len(indexes))
	for _, idx := range indexes {
		byName[idx.Name] = idx
	}
	return &SQLite[T]{db: db.db, kind: kind, indexes: byName, order: indexes}, nil
}

func (s *SQLite[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM records WHERE kind = ? AND id = ?", s.kind, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("get %s/%s: %w", s.kind, id, err)
	}
	return decode[T]([]byte(data))
}

func (s *SQLite[T]) Put(ctx context.Context, id string, v T) (err error) {
	if id == "" {
		return fmt.Errorf("put: empty id")
	}
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	keys := indexKeys(s.order, v)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO records (kind, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, s.kind, id, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", s.kind, id, err)
	}

	if _, err = tx.ExecContext(ctx,
		"DELETE FROM record_index WHERE kind = ? AND id = ?", s.kind, id,
	); err != nil {
		return fmt.Errorf("unlink index %s/%s: %w", s.kind, id, err)
	}

	for name, ks := range keys {
		for _, k := range ks {
			if _, err = tx.ExecContext(ctx,
				"INSERT INTO record_index (kind, index_name, key, id) VALUES (?, ?, ?, ?)",
				s.kind, name, k, id,
			); err != nil {
				return fmt.Errorf("index %s/%s %s=%s: %w", s.kind, id, name, k, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s/%s: %w", s.kind, id, err)
	}
	return nil
}

func (s *SQLite[T]) Query(ctx context.Context, index, key string) ([]T, error) {
	if _, ok := s.indexes[index]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	return s.collect(ctx, `
		SELECT r.data FROM records r
		JOIN record_index i ON i.kind = r.kind AND i.id = r.id
		WHERE i.kind = ? AND i.index_name = ? AND i.key = ?
		ORDER BY r.id
	`, s.kind, index, key)
}

func (s *SQLite[T]) List(ctx context.Context) ([]T, error) {
	return s.collect(ctx, "SELECT data FROM records WHERE kind = ? ORDER BY id", s.kind)
}

func (s *SQLite[T]) collect(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.kind, err)
		}
		v, err := decode[T]([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.kind, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
