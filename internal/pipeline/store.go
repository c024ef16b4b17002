package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/launchpad/internal/store"
)

const (
	indexProject  = "project"
	indexTenant   = "tenant"
	indexWorkflow = "workflow"
)

// Indexes returns the secondary indexes an execution backend must declare.
func Indexes() []store.Index[Execution] {
	return []store.Index[Execution]{
		store.By(indexProject, func(e Execution) string { return e.ProjectID }),
		store.By(indexTenant, func(e Execution) string { return e.TenantID }),
		{Name: indexWorkflow, Key: func(e Execution) []string { return e.WorkflowIDs }},
	}
}

// Store persists executions.
type Store interface {
	Get(ctx context.Context, id string) (*Execution, error)
	Put(ctx context.Context, e *Execution) error
	ByWorkflow(ctx context.Context, workflowID string) (*Execution, error)
	ByTenant(ctx context.Context, tenantID string) ([]*Execution, error)
	All(ctx context.Context) ([]*Execution, error)
}

type executionStore struct {
	backend store.Store[Execution]
}

// NewStore wraps a backend built with Indexes().
func NewStore(backend store.Store[Execution]) Store {
	return &executionStore{backend: backend}
}

// NewMemoryStore returns an in-memory execution store.
func NewMemoryStore() Store {
	m, err := store.NewMemory(Indexes()...)
	if err != nil {
		panic(fmt.Sprintf("pipeline: memory store: %v", err))
	}
	return NewStore(m)
}

func (s *executionStore) Get(ctx context.Context, id string) (*Execution, error) {
	e, err := s.backend.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *executionStore) Put(ctx context.Context, e *Execution) error {
	return s.backend.Put(ctx, e.ID, *e)
}

func (s *executionStore) ByWorkflow(ctx context.Context, workflowID string) (*Execution, error) {
	es, err := s.backend.Query(ctx, indexWorkflow, workflowID)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, ErrNotFound
	}
	return &es[0], nil
}

func (s *executionStore) ByTenant(ctx context.Context, tenantID string) ([]*Execution, error) {
	es, err := s.backend.Query(ctx, indexTenant, tenantID)
	if err != nil {
		return nil, err
	}
	return pointers(es), nil
}

func (s *executionStore) All(ctx context.Context) ([]*Execution, error) {
	es, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	return pointers(es), nil
}

func pointers(es []Execution) []*Execution {
	out := make([]*Execution, len(es))
	for i := range es {
		out[i] = &es[i]
	}
	return out
}
