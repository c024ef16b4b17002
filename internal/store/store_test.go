package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID     string   `json:"id"`
	Tenant string   `json:"tenant"`
	Token  string   `json:"token"`
	Tags   []string `json:"tags"`
}

func docIndexes() []Index[doc] {
	return []Index[doc]{
		By("tenant", func(d doc) string { return d.Tenant }),
		By("token", func(d doc) string { return d.Token }),
		{Name: "tag", Key: func(d doc) []string { return d.Tags }},
	}
}

type factory func(t *testing.T) Store[doc]

func backends() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T) Store[doc] {
			s, err := NewMemory(docIndexes()...)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store[doc] {
			db, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			s, err := NewSQLite(db, "doc", docIndexes()...)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				s := newStore(t)
				_, err := s.Get(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("put and get", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				in := doc{ID: "a", Tenant: "t1", Token: "tok-a", Tags: []string{"x"}}
				require.NoError(t, s.Put(ctx, in.ID, in))

				got, err := s.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, in, got)
			})

			t.Run("no aliasing", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				in := doc{ID: "a", Tags: []string{"x"}}
				require.NoError(t, s.Put(ctx, in.ID, in))

				in.Tags[0] = "mutated"
				got, err := s.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, []string{"x"}, got.Tags)
			})

			t.Run("query by index", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				require.NoError(t, s.Put(ctx, "b", doc{ID: "b", Tenant: "t1", Token: "tok-b"}))
				require.NoError(t, s.Put(ctx, "a", doc{ID: "a", Tenant: "t1", Token: "tok-a"}))
				require.NoError(t, s.Put(ctx, "c", doc{ID: "c", Tenant: "t2", Token: "tok-c"}))

				got, err := s.Query(ctx, "tenant", "t1")
				require.NoError(t, err)
				require.Len(t, got, 2)
				assert.Equal(t, "a", got[0].ID)
				assert.Equal(t, "b", got[1].ID)

				got, err = s.Query(ctx, "token", "tok-c")
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "c", got[0].ID)

				got, err = s.Query(ctx, "tenant", "missing")
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("update moves index entries", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				require.NoError(t, s.Put(ctx, "a", doc{ID: "a", Token: "old", Tags: []string{"x", "y"}}))
				require.NoError(t, s.Put(ctx, "a", doc{ID: "a", Token: "new", Tags: []string{"y"}}))

				got, err := s.Query(ctx, "token", "old")
				require.NoError(t, err)
				assert.Empty(t, got)

				got, err = s.Query(ctx, "token", "new")
				require.NoError(t, err)
				assert.Len(t, got, 1)

				got, err = s.Query(ctx, "tag", "x")
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("multi-key and empty keys", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				require.NoError(t, s.Put(ctx, "a", doc{ID: "a", Tags: []string{"x", "x", "", "y"}}))

				for _, tag := range []string{"x", "y"} {
					got, err := s.Query(ctx, "tag", tag)
					require.NoError(t, err)
					assert.Len(t, got, 1, tag)
				}
				got, err := s.Query(ctx, "token", "")
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("unknown index", func(t *testing.T) {
				s := newStore(t)
				_, err := s.Query(context.Background(), "color", "red")
				assert.ErrorIs(t, err, ErrUnknownIndex)
			})

			t.Run("list ordered", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				for _, id := range []string{"c", "a", "b"} {
					require.NoError(t, s.Put(ctx, id, doc{ID: id}))
				}
				got, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, got, 3)
				assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
			})

			t.Run("empty id rejected", func(t *testing.T) {
				s := newStore(t)
				assert.Error(t, s.Put(context.Background(), "", doc{}))
			})

			t.Run("concurrent puts", func(t *testing.T) {
				s := newStore(t)
				ctx := context.Background()
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						id := fmt.Sprintf("id-%02d", i)
						assert.NoError(t, s.Put(ctx, id, doc{ID: id, Tenant: "t"}))
					}(i)
				}
				wg.Wait()

				got, err := s.Query(ctx, "tenant", "t")
				require.NoError(t, err)
				assert.Len(t, got, 20)
			})
		})
	}
}

func TestSQLite_KindsAreIsolated(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "kinds.db"))
	require.NoError(t, err)
	defer db.Close()

	docs, err := NewSQLite(db, "doc", docIndexes()...)
	require.NoError(t, err)
	others, err := NewSQLite(db, "other", docIndexes()...)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, docs.Put(ctx, "a", doc{ID: "a", Tenant: "t"}))

	_, err = others.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := others.Query(ctx, "tenant", "t")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	s, err := NewSQLite(db, "doc", docIndexes()...)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a", doc{ID: "a", Token: "tok"}))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	s, err = NewSQLite(db, "doc", docIndexes()...)
	require.NoError(t, err)

	got, err := s.Query(ctx, "token", "tok")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestSQLite_InMemory(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSQLite(db, "doc", docIndexes()...)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "a", doc{ID: "a"}))
	_, err = s.Get(context.Background(), "a")
	assert.NoError(t, err)
}

func TestIndexValidation(t *testing.T) {
	_, err := NewMemory(Index[doc]{Name: "x"})
	assert.Error(t, err)

	_, err = NewMemory(
		By("dup", func(d doc) string { return d.ID }),
		By("dup", func(d doc) string { return d.ID }),
	)
	assert.Error(t, err)
}

func TestMemory_CancelledContext(t *testing.T) {
	s, err := NewMemory[doc]()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "a", doc{}), context.Canceled)
}
