package humangate

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/launchpad/internal/store"
)

const (
	indexToken  = "token"
	indexTenant = "tenant"
)

// Indexes returns the secondary indexes a workflow backend must declare.
func Indexes() []store.Index[Workflow] {
	return []store.Index[Workflow]{
		store.By(indexToken, func(w Workflow) string { return w.ApprovalToken }),
		store.By(indexTenant, func(w Workflow) string { return w.TenantID }),
	}
}

// Store is the ApprovalWorkflowStore: workflows by id, token and tenant.
type Store interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	Put(ctx context.Context, w *Workflow) error
	ByToken(ctx context.Context, token string) (*Workflow, error)
	ByTenant(ctx context.Context, tenantID string) ([]*Workflow, error)
	All(ctx context.Context) ([]*Workflow, error)
}

type workflowStore struct {
	backend store.Store[Workflow]
}

// NewStore wraps a backend built with Indexes().
func NewStore(backend store.Store[Workflow]) Store {
	return &workflowStore{backend: backend}
}

// NewMemoryStore returns an in-memory workflow store.
func NewMemoryStore() Store {
	m, err := store.NewMemory(Indexes()...)
	if err != nil {
		panic(fmt.Sprintf("humangate: memory store: %v", err))
	}
	return NewStore(m)
}

func (s *workflowStore) Get(ctx context.Context, id string) (*Workflow, error) {
	w, err := s.backend.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *workflowStore) Put(ctx context.Context, w *Workflow) error {
	return s.backend.Put(ctx, w.ID, *w)
}

func (s *workflowStore) ByToken(ctx context.Context, token string) (*Workflow, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	ws, err := s.backend.Query(ctx, indexToken, token)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, ErrNotFound
	}
	return &ws[0], nil
}

func (s *workflowStore) ByTenant(ctx context.Context, tenantID string) ([]*Workflow, error) {
	ws, err := s.backend.Query(ctx, indexTenant, tenantID)
	if err != nil {
		return nil, err
	}
	return pointers(ws), nil
}

func (s *workflowStore) All(ctx context.Context) ([]*Workflow, error) {
	ws, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	return pointers(ws), nil
}

func pointers(ws []Workflow) []*Workflow {
	out := make([]*Workflow, len(ws))
	for i := range ws {
		out[i] = &ws[i]
	}
	return out
}
