// Package blueprint turns a founder interview into a technical blueprint.
//
// The Generator contract is what the pipeline consumes. HeuristicArchitect is
// the built-in implementation: a deterministic keyword classifier, not a
// model.
package blueprint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInterview is returned when an interview lacks required answers.
var ErrInvalidInterview = errors.New("invalid interview")

// Interview is the founder's product interview.
type Interview struct {
	ProductName  string   `json:"product_name"`
	Description  string   `json:"description"`
	TargetUsers  string   `json:"target_users,omitempty"`
	Features     []string `json:"features"`
	Integrations []string `json:"integrations,omitempty"`

	// Priority selects the approval window (low, normal, high, urgent).
	Priority string `json:"priority,omitempty"`
}

// Validate checks the answers a blueprint cannot be built without.
func (i Interview) Validate() error {
	if strings.TrimSpace(i.ProductName) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInterview)
	}
	for _, f := range i.Features {
		if strings.TrimSpace(f) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: at least one feature is required", ErrInvalidInterview)
}

// Archetype is the product category the architect settled on.
type Archetype string

const (
	ArchetypeMarketplace  Archetype = "marketplace"
	ArchetypeSaaS         Archetype = "saas"
	ArchetypeEcommerce    Archetype = "ecommerce"
	ArchetypeSocial       Archetype = "social"
	ArchetypeContent      Archetype = "content"
	ArchetypeInternalTool Archetype = "internal_tool"
)

// TechStack names the technology per layer.
type TechStack struct {
	Backend        string `json:"backend"`
	Frontend       string `json:"frontend"`
	Database       string `json:"database"`
	Infrastructure string `json:"infrastructure"`
	Observability  string `json:"observability"`
}

// Entity is one data model in the schema.
type Entity struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Endpoint is one API route.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Entity string `json:"entity"`
}

// Blueprint is a structured technical plan.
type Blueprint struct {
	Version     string     `json:"version"`
	ProductName string     `json:"product_name"`
	Archetype   Archetype  `json:"archetype"`
	Summary     string     `json:"summary"`
	TechStack   TechStack  `json:"tech_stack"`
	Entities    []Entity   `json:"entities"`
	Endpoints   []Endpoint `json:"endpoints"`
	UserFlows   []string   `json:"user_flows"`

	// Confidence is in [0,1].
	Confidence     float64 `json:"confidence"`
	EstimatedHours float64 `json:"estimated_hours"`

	// Notes accumulates applied revision requests.
	Notes     []string  `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is one requested change to a blueprint.
type Change struct {
	Area        string `json:"area"`
	Description string `json:"description"`
}

// Revision is founder feedback applied during refinement.
type Revision struct {
	Comments string   `json:"comments,omitempty"`
	Changes  []Change `json:"changes,omitempty"`
}

// Generator produces and refines blueprints.
type Generator interface {
	Generate(ctx context.Context, interview Interview) (*Blueprint, error)
	Refine(ctx context.Context, current *Blueprint, rev Revision, interview Interview) (*Blueprint, error)
}

// EntityNames returns the names of the blueprint's entities.
func (b *Blueprint) EntityNames() []string {
	names := make([]string, len(b.Entities))
	for i, e := range b.Entities {
		names[i] = e.Name
	}
	return names
}

func (b *Blueprint) clone() *Blueprint {
	c := *b
	c.Entities = make([]Entity, len(b.Entities))
	for i, e := range b.Entities {
		c.Entities[i] = Entity{Name: e.Name, Fields: append([]string(nil), e.Fields...)}
	}
	c.Endpoints = append([]Endpoint(nil), b.Endpoints...)
	c.UserFlows = append([]string(nil), b.UserFlows...)
	c.Notes = append([]string(nil), b.Notes...)
	return &c
}
