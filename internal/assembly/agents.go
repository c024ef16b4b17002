package assembly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
)

const apiBaseKey = "api_base_url"

// TemplateAgent produces a deterministic artifact manifest for one layer.
// File contents are rendered elsewhere.
type TemplateAgent struct {
	kind AgentKind
	now  func() time.Time
}

var _ AgentExecutor = (*TemplateAgent)(nil)

// NewTemplateAgent creates the built-in agent for kind.
func NewTemplateAgent(kind AgentKind) *TemplateAgent {
	return &TemplateAgent{kind: kind, now: time.Now}
}

// TemplateAgents returns one built-in agent per kind.
func TemplateAgents() []AgentExecutor {
	var out []AgentExecutor
	for _, k := range Order() {
		out = append(out, NewTemplateAgent(k))
	}
	return out
}

func (a *TemplateAgent) Kind() AgentKind {
	return a.kind
}

func (a *TemplateAgent) Execute(ctx context.Context, in Input) (*AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Blueprint == nil {
		return nil, ErrNoBlueprint
	}
	start := a.now()

	var (
		artifacts []string
		output    map[string]any
		err       error
	)
	switch a.kind {
	case KindBackend:
		artifacts, output = backendManifest(in.Blueprint)
	case KindFrontend:
		artifacts, output, err = frontendManifest(in.Blueprint, in.Accumulated)
	case KindInfrastructure:
		artifacts, output = infraManifest(in.Blueprint)
	case KindObservability:
		artifacts, output = observabilityManifest(in.Blueprint)
	default:
		err = fmt.Errorf("unknown agent kind %q", a.kind)
	}
	if err != nil {
		return nil, err
	}

	return &AgentResult{
		Kind:            a.kind,
		Status:          AgentCompleted,
		Output:          output,
		Artifacts:       artifacts,
		Metrics:         map[string]float64{"artifact_count": float64(len(artifacts))},
		ConfidenceScore: 0.6 + 0.4*in.Blueprint.Confidence,
		ExecutionTime:   a.now().Sub(start),
	}, nil
}

func (a *TemplateAgent) SelfCheck(_ context.Context, res *AgentResult) QualityGateCheck {
	c := QualityGateCheck{Name: string(a.kind) + "-self-check", Score: res.ConfidenceScore}
	c.Passed = res.Status == AgentCompleted && len(res.Artifacts) > 0
	if !c.Passed {
		c.Details = "agent produced no artifacts"
	}
	return c
}

func backendManifest(bp *blueprint.Blueprint) ([]string, map[string]any) {
	root := "backend"
	artifacts := []string{root + "/README.md"}
	ext := ".go"
	if bp.TechStack.Backend == "go" {
		artifacts = append(artifacts, root+"/go.mod", root+"/cmd/server/main.go")
	} else {
		ext = ".ts"
		artifacts = append(artifacts, root+"/package.json", root+"/src/server"+ext)
	}
	for _, e := range bp.Entities {
		name := strings.ToLower(e.Name)
		artifacts = append(artifacts,
			fmt.Sprintf("%s/internal/models/%s%s", root, name, ext),
			fmt.Sprintf("%s/internal/handlers/%s%s", root, name, ext),
		)
	}
	artifacts = append(artifacts, root+"/migrations/0001_init.sql")
	return artifacts, map[string]any{
		apiBaseKey:      "/api",
		"backend_stack": bp.TechStack.Backend,
		"database":      bp.TechStack.Database,
		"entities":      bp.EntityNames(),
		"endpoints":     len(bp.Endpoints),
	}
}

func frontendManifest(bp *blueprint.Blueprint, acc map[string]any) ([]string, map[string]any, error) {
	base, ok := acc[apiBaseKey].(string)
	if !ok || base == "" {
		return nil, nil, fmt.Errorf("frontend requires %s from the backend stage", apiBaseKey)
	}
	root := "frontend"
	artifacts := []string{root + "/package.json", root + "/src/api/client.ts", root + "/src/app.tsx"}
	var routes []string
	for _, e := range bp.Entities {
		name := strings.ToLower(e.Name)
		artifacts = append(artifacts, fmt.Sprintf("%s/src/pages/%ss.tsx", root, name))
		routes = append(routes, "/"+name+"s")
	}
	return artifacts, map[string]any{
		"frontend_stack":  bp.TechStack.Frontend,
		"frontend_routes": routes,
		"api_client_base": base,
	}, nil
}

func infraManifest(bp *blueprint.Blueprint) ([]string, map[string]any) {
	root := "infra"
	artifacts := []string{root + "/Dockerfile.backend", root + "/Dockerfile.frontend"}
	switch bp.TechStack.Infrastructure {
	case "kubernetes":
		artifacts = append(artifacts, root+"/k8s/deployment.yaml", root+"/k8s/service.yaml", root+"/k8s/ingress.yaml")
	case "serverless":
		artifacts = append(artifacts, root+"/serverless.yml")
	default:
		artifacts = append(artifacts, root+"/docker-compose.yml")
	}
	return artifacts, map[string]any{
		"deploy_target": bp.TechStack.Infrastructure,
		"services":      []string{"backend", "frontend", bp.TechStack.Database},
	}
}

func observabilityManifest(bp *blueprint.Blueprint) ([]string, map[string]any) {
	root := "observability"
	artifacts := []string{root + "/collector.yaml", root + "/alerts.yaml"}
	var dashboards []string
	for _, svc := range []string{"backend", "frontend"} {
		d := fmt.Sprintf("%s/dashboards/%s.json", root, svc)
		artifacts = append(artifacts, d)
		dashboards = append(dashboards, d)
	}
	return artifacts, map[string]any{
		"observability_stack": bp.TechStack.Observability,
		"dashboards":          dashboards,
	}
}
