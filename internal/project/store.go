package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/launchpad/internal/store"
)

const indexTenant = "tenant"

// Indexes returns the secondary indexes a project backend must declare.
func Indexes() []store.Index[Project] {
	return []store.Index[Project]{
		store.By(indexTenant, func(p Project) string { return p.TenantID }),
	}
}

// Store provides keyed access to projects.
type Store interface {
	// Save inserts a new project.
	Save(ctx context.Context, p *Project) error

	// Update overwrites an existing project.
	Update(ctx context.Context, p *Project) error

	// Get retrieves a project by ID.
	Get(ctx context.Context, id string) (*Project, error)

	// ListByTenant returns every project owned by tenantID.
	ListByTenant(ctx context.Context, tenantID string) ([]*Project, error)
}

type projectStore struct {
	backend store.Store[Project]
	now     func() time.Time
}

// NewStore wraps a backend built with Indexes().
func NewStore(backend store.Store[Project]) Store {
	return &projectStore{backend: backend, now: time.Now}
}

// NewMemoryStore returns an in-memory project store.
func NewMemoryStore() Store {
	m, err := store.NewMemory(Indexes()...)
	if err != nil {
		panic(fmt.Sprintf("project: memory store: %v", err))
	}
	return NewStore(m)
}

func (s *projectStore) Save(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.backend.Put(ctx, p.ID, *p)
}

func (s *projectStore) Update(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.Get(ctx, p.ID); err != nil {
		return err
	}
	p.UpdatedAt = s.now().UTC()
	return s.backend.Put(ctx, p.ID, *p)
}

func (s *projectStore) Get(ctx context.Context, id string) (*Project, error) {
	if id == "" {
		return nil, ErrInvalidProjectID
	}
	p, err := s.backend.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &p, nil
}

func (s *projectStore) ListByTenant(ctx context.Context, tenantID string) ([]*Project, error) {
	ps, err := s.backend.Query(ctx, indexTenant, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]*Project, len(ps))
	for i := range ps {
		out[i] = &ps[i]
	}
	return out, nil
}
