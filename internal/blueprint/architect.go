package blueprint

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

const (
	baseHours           = 40.0
	hoursPerFeature     = 8.0
	hoursPerIntegration = 12.0
	hoursPerChange      = 4.0
)

var archetypeKeywords = map[Archetype][]string{
	ArchetypeMarketplace:  {"marketplace", "buyer", "seller", "listing", "vendor", "booking", "commission"},
	ArchetypeSaaS:         {"subscription", "dashboard", "team", "workspace", "billing", "saas", "analytics"},
	ArchetypeEcommerce:    {"shop", "store", "cart", "checkout", "product", "inventory", "order"},
	ArchetypeSocial:       {"social", "friend", "follow", "feed", "like", "share", "community", "chat"},
	ArchetypeContent:      {"blog", "article", "video", "podcast", "publish", "content", "course"},
	ArchetypeInternalTool: {"internal", "admin", "report", "approval", "employee", "backoffice", "crm"},
}

// archetypeOrder breaks scoring ties deterministically.
var archetypeOrder = []Archetype{
	ArchetypeMarketplace,
	ArchetypeEcommerce,
	ArchetypeSocial,
	ArchetypeContent,
	ArchetypeInternalTool,
	ArchetypeSaaS,
}

var stacks = map[Archetype]TechStack{
	ArchetypeMarketplace:  {Backend: "go", Frontend: "nextjs", Database: "postgres", Infrastructure: "kubernetes", Observability: "opentelemetry"},
	ArchetypeSaaS:         {Backend: "go", Frontend: "react", Database: "postgres", Infrastructure: "kubernetes", Observability: "opentelemetry"},
	ArchetypeEcommerce:    {Backend: "go", Frontend: "nextjs", Database: "postgres", Infrastructure: "serverless", Observability: "opentelemetry"},
	ArchetypeSocial:       {Backend: "go", Frontend: "react", Database: "postgres", Infrastructure: "kubernetes", Observability: "opentelemetry"},
	ArchetypeContent:      {Backend: "go", Frontend: "nextjs", Database: "sqlite", Infrastructure: "serverless", Observability: "opentelemetry"},
	ArchetypeInternalTool: {Backend: "go", Frontend: "react", Database: "sqlite", Infrastructure: "docker", Observability: "prometheus"},
}

var baseEntities = map[Archetype][]string{
	ArchetypeMarketplace:  {"User", "Listing", "Order"},
	ArchetypeSaaS:         {"User", "Workspace", "Subscription"},
	ArchetypeEcommerce:    {"User", "Product", "Order"},
	ArchetypeSocial:       {"User", "Post", "Follow"},
	ArchetypeContent:      {"User", "Article"},
	ArchetypeInternalTool: {"User", "Report"},
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "for": true, "to": true,
	"of": true, "with": true, "in": true, "on": true, "by": true, "via": true, "user": true,
	"users": true, "manage": true, "create": true, "view": true, "track": true, "allow": true,
	"add": true, "edit": true, "support": true, "basic": true, "simple": true, "real": true, "time": true,
}

// known layer technologies recognized in revision requests.
var layerTech = map[string][]string{
	"backend":        {"go", "node", "python", "rails", "java"},
	"frontend":       {"react", "nextjs", "vue", "svelte", "angular"},
	"database":       {"postgres", "mysql", "sqlite", "mongodb", "dynamodb"},
	"infrastructure": {"kubernetes", "serverless", "docker", "fly", "ecs"},
	"observability":  {"opentelemetry", "prometheus", "datadog", "grafana"},
}

// HeuristicArchitect is a deterministic Generator.
type HeuristicArchitect struct {
	logger   *zap.Logger
	now      func() time.Time
	versions *versionSource
}

var _ Generator = (*HeuristicArchitect)(nil)

// NewHeuristicArchitect creates the built-in generator.
func NewHeuristicArchitect(logger *zap.Logger) *HeuristicArchitect {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicArchitect{
		logger:   logger,
		now:      time.Now,
		versions: newVersionSource(),
	}
}

// Generate classifies the interview and derives a blueprint from it.
func (a *HeuristicArchitect) Generate(ctx context.Context, interview Interview) (*Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := interview.Validate(); err != nil {
		return nil, err
	}

	archetype, score := classify(interview)
	entities := deriveEntities(archetype, interview.Features)
	now := a.now().UTC()

	b := &Blueprint{
		Version:        a.versions.next(now),
		ProductName:    interview.ProductName,
		Archetype:      archetype,
		Summary:        summarize(interview, archetype),
		TechStack:      stacks[archetype],
		Entities:       entities,
		Endpoints:      deriveEndpoints(entities),
		UserFlows:      deriveFlows(interview.Features),
		Confidence:     confidence(interview, score),
		EstimatedHours: baseHours + hoursPerFeature*float64(countNonEmpty(interview.Features)) + hoursPerIntegration*float64(countNonEmpty(interview.Integrations)),
		CreatedAt:      now,
	}

	a.logger.Debug("blueprint generated",
		zap.String("version", b.Version),
		zap.String("archetype", string(archetype)),
		zap.Float64("confidence", b.Confidence),
		zap.Int("entities", len(b.Entities)),
	)
	return b, nil
}

// Refine applies a revision to current and returns a new version.
func (a *HeuristicArchitect) Refine(ctx context.Context, current *Blueprint, rev Revision, interview Interview) (*Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if current == nil {
		var err error
		if current, err = a.Generate(ctx, interview); err != nil {
			return nil, err
		}
	}

	next := current.clone()
	now := a.now().UTC()
	next.Version = a.versions.next(now)
	next.CreatedAt = now

	for _, ch := range rev.Changes {
		applyChange(next, ch)
		next.EstimatedHours += hoursPerChange
	}
	if c := strings.TrimSpace(rev.Comments); c != "" {
		next.Notes = append(next.Notes, c)
	}
	next.Endpoints = deriveEndpoints(next.Entities)
	next.Confidence = clamp(next.Confidence+0.05*float64(len(rev.Changes)), 0, 0.99)

	a.logger.Debug("blueprint refined",
		zap.String("from", current.Version),
		zap.String("to", next.Version),
		zap.Int("changes", len(rev.Changes)),
	)
	return next, nil
}

func applyChange(b *Blueprint, ch Change) {
	area := strings.ToLower(strings.TrimSpace(ch.Area))
	words := tokenize(ch.Description)

	switch area {
	case "backend", "frontend", "database", "infrastructure", "observability", "tech_stack", "stack":
		for layer, techs := range layerTech {
			if area != layer && area != "tech_stack" && area != "stack" {
				continue
			}
			for _, t := range techs {
				if contains(words, t) {
					setLayer(&b.TechStack, layer, t)
				}
			}
		}
	case "entities", "schema", "data", "features":
		for _, name := range nouns(words) {
			if !hasEntity(b.Entities, name) {
				b.Entities = append(b.Entities, newEntity(name))
			}
		}
	case "flows", "user_flows", "ux":
		b.UserFlows = append(b.UserFlows, ch.Description)
	}
	b.Notes = append(b.Notes, fmt.Sprintf("%s: %s", ch.Area, ch.Description))
}

func setLayer(s *TechStack, layer, tech string) {
	switch layer {
	case "backend":
		s.Backend = tech
	case "frontend":
		s.Frontend = tech
	case "database":
		s.Database = tech
	case "infrastructure":
		s.Infrastructure = tech
	case "observability":
		s.Observability = tech
	}
}

// classify scores each archetype by keyword hits.
func classify(in Interview) (Archetype, int) {
	words := tokenize(strings.Join(append([]string{in.Description, in.TargetUsers}, in.Features...), " "))
	best, bestScore := ArchetypeSaaS, 0
	for _, arch := range archetypeOrder {
		score := 0
		for _, kw := range archetypeKeywords[arch] {
			for _, w := range words {
				if w == kw || w == kw+"s" {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = arch, score
		}
	}
	return best, bestScore
}

func confidence(in Interview, score int) float64 {
	c := 0.2
	if score > 0 {
		c = 0.4
	}
	n := countNonEmpty(in.Features)
	if n > 5 {
		n = 5
	}
	c += 0.08 * float64(n)
	if len(in.Description) >= 50 {
		c += 0.1
	}
	if in.TargetUsers != "" {
		c += 0.1
	}
	return clamp(c, 0, 1)
}

func deriveEntities(arch Archetype, features []string) []Entity {
	var out []Entity
	for _, name := range baseEntities[arch] {
		out = append(out, newEntity(name))
	}
	for _, f := range features {
		for _, name := range nouns(tokenize(f)) {
			if !hasEntity(out, name) {
				out = append(out, newEntity(name))
			}
			break
		}
	}
	return out
}

func newEntity(name string) Entity {
	fields := []string{"id", "created_at", "updated_at"}
	if name == "User" {
		fields = append(fields, "email", "name")
	}
	return Entity{Name: name, Fields: fields}
}

func deriveEndpoints(entities []Entity) []Endpoint {
	var out []Endpoint
	for _, e := range entities {
		base := "/api/" + strings.ToLower(e.Name) + "s"
		out = append(out,
			Endpoint{Method: "GET", Path: base, Entity: e.Name},
			Endpoint{Method: "POST", Path: base, Entity: e.Name},
			Endpoint{Method: "GET", Path: base + "/{id}", Entity: e.Name},
			Endpoint{Method: "PUT", Path: base + "/{id}", Entity: e.Name},
			Endpoint{Method: "DELETE", Path: base + "/{id}", Entity: e.Name},
		)
	}
	return out
}

func deriveFlows(features []string) []string {
	flows := []string{"sign up and onboard"}
	for _, f := range features {
		if f = strings.TrimSpace(f); f != "" {
			flows = append(flows, strings.ToLower(f))
		}
	}
	return flows
}

func summarize(in Interview, arch Archetype) string {
	s := fmt.Sprintf("%s: a %s product", in.ProductName, strings.ReplaceAll(string(arch), "_", " "))
	if in.TargetUsers != "" {
		s += " for " + in.TargetUsers
	}
	return s
}

// nouns returns capitalized singular candidates from words, skipping stop words.
func nouns(words []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range words {
		if stopWords[w] || len(w) < 3 {
			continue
		}
		name := singular(w)
		name = strings.ToUpper(name[:1]) + name[1:]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasEntity(es []Entity, name string) bool {
	for _, e := range es {
		if e.Name == name {
			return true
		}
	}
	return false
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func countNonEmpty(ss []string) int {
	n := 0
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
