package assembly

import (
	"context"
	"fmt"
	"strings"
)

// QualityGate scores an agent result for a stage.
type QualityGate interface {
	// Name returns the gate identifier.
	Name() string

	// Check scores res. An error is recorded as a blocker.
	Check(ctx context.Context, kind AgentKind, res *AgentResult) (QualityGateCheck, error)
}

// ConfidenceGate requires a minimum agent confidence.
type ConfidenceGate struct {
	Min float64
}

// NewConfidenceGate creates a confidence threshold gate.
func NewConfidenceGate(min float64) *ConfidenceGate {
	return &ConfidenceGate{Min: min}
}

func (g *ConfidenceGate) Name() string {
	return "confidence"
}

func (g *ConfidenceGate) Check(_ context.Context, _ AgentKind, res *AgentResult) (QualityGateCheck, error) {
	c := QualityGateCheck{
		Name:   g.Name(),
		Score:  res.ConfidenceScore,
		Passed: res.ConfidenceScore >= g.Min,
	}
	if !c.Passed {
		c.Details = fmt.Sprintf("confidence %.2f below %.2f", res.ConfidenceScore, g.Min)
		c.FixSuggestions = []string{"provide a more detailed blueprint for this layer"}
	}
	return c, nil
}

// ArtifactGate requires a minimum number of artifacts.
type ArtifactGate struct {
	Min int
}

// NewArtifactGate creates an artifact count gate.
func NewArtifactGate(min int) *ArtifactGate {
	return &ArtifactGate{Min: min}
}

func (g *ArtifactGate) Name() string {
	return "artifacts"
}

func (g *ArtifactGate) Check(_ context.Context, _ AgentKind, res *AgentResult) (QualityGateCheck, error) {
	n := len(res.Artifacts)
	c := QualityGateCheck{Name: g.Name(), Passed: n >= g.Min, Score: 1}
	if g.Min > 0 && n < g.Min {
		c.Score = float64(n) / float64(g.Min)
		c.Details = fmt.Sprintf("%d artifacts, want at least %d", n, g.Min)
	}
	return c, nil
}

// OutputKeysGate requires keys to be present in the result output.
type OutputKeysGate struct {
	Keys []string
}

// NewOutputKeysGate creates a required output keys gate.
func NewOutputKeysGate(keys ...string) *OutputKeysGate {
	return &OutputKeysGate{Keys: keys}
}

func (g *OutputKeysGate) Name() string {
	return "output-keys"
}

func (g *OutputKeysGate) Check(_ context.Context, _ AgentKind, res *AgentResult) (QualityGateCheck, error) {
	var missing []string
	for _, k := range g.Keys {
		if _, ok := res.Output[k]; !ok {
			missing = append(missing, k)
		}
	}
	c := QualityGateCheck{Name: g.Name(), Passed: len(missing) == 0, Score: 1}
	if len(g.Keys) > 0 && len(missing) > 0 {
		c.Score = float64(len(g.Keys)-len(missing)) / float64(len(g.Keys))
		c.Details = "missing output keys: " + strings.Join(missing, ", ")
	}
	return c, nil
}
