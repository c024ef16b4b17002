package project

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
)

// Common errors.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrEmptyProjectName  = errors.New("project name cannot be empty")
	ErrEmptyTenantID     = errors.New("tenant ID cannot be empty")
	ErrEmptyFounderEmail = errors.New("founder email cannot be empty")
	ErrInvalidProjectID  = errors.New("invalid project ID")
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusBlueprintPending Status = "blueprint_pending"
	StatusBlueprintReady   Status = "blueprint_ready"
	StatusApproved         Status = "approved"
	StatusGenerating       Status = "generating"
	StatusDeployed         Status = "deployed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the project lifecycle has ended.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Project is a founder's product.
type Project struct {
	// ID is the unique project identifier (UUID).
	ID string `json:"id"`

	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	FounderEmail string `json:"founder_email"`
	Status       Status `json:"status"`

	Interview blueprint.Interview  `json:"interview"`
	Blueprint *blueprint.Blueprint `json:"blueprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProject creates a project awaiting its first blueprint.
func NewProject(tenantID, name, founderEmail string, interview blueprint.Interview) (*Project, error) {
	p := &Project{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Name:         name,
		FounderEmail: founderEmail,
		Status:       StatusBlueprintPending,
		Interview:    interview,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// Validate checks required fields.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrInvalidProjectID
	}
	if p.TenantID == "" {
		return ErrEmptyTenantID
	}
	if p.Name == "" {
		return ErrEmptyProjectName
	}
	if p.FounderEmail == "" {
		return ErrEmptyFounderEmail
	}
	return nil
}
