package assembly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
)

// AgentKind identifies an assembly line stage.
type AgentKind string

const (
	KindBackend        AgentKind = "backend"
	KindFrontend       AgentKind = "frontend"
	KindInfrastructure AgentKind = "infrastructure"
	KindObservability  AgentKind = "observability"
)

// Order returns the agent kinds in execution order.
func Order() []AgentKind {
	return []AgentKind{KindBackend, KindFrontend, KindInfrastructure, KindObservability}
}

// AgentStatus is the outcome an agent reports for one invocation.
type AgentStatus string

const (
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// AgentResult is the output of one agent invocation.
type AgentResult struct {
	Kind            AgentKind          `json:"agent_kind"`
	Status          AgentStatus        `json:"status"`
	Output          map[string]any     `json:"output,omitempty"`
	Artifacts       []string           `json:"artifacts,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	ConfidenceScore float64            `json:"confidence_score"`
	ExecutionTime   time.Duration      `json:"execution_time"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}

// QualityGateCheck is one scored check of an agent result.
type QualityGateCheck struct {
	Name           string   `json:"name"`
	Passed         bool     `json:"passed"`
	Score          float64  `json:"score"`
	Details        string   `json:"details,omitempty"`
	FixSuggestions []string `json:"fix_suggestions,omitempty"`
}

// QualityGateResult aggregates the checks for one attempt.
type QualityGateResult struct {
	Checks        []QualityGateCheck `json:"checks"`
	Blockers      []string           `json:"blockers,omitempty"`
	OverallPassed bool               `json:"overall_passed"`
	OverallScore  float64            `json:"overall_score"`
}

// Aggregate computes the overall verdict: every check passed and no
// blockers, scored as the mean check score.
func Aggregate(checks []QualityGateCheck, blockers []string) QualityGateResult {
	r := QualityGateResult{Checks: checks, Blockers: blockers, OverallPassed: len(blockers) == 0}
	sum := 0.0
	for _, c := range checks {
		sum += c.Score
		if !c.Passed {
			r.OverallPassed = false
		}
	}
	if len(checks) > 0 {
		r.OverallScore = sum / float64(len(checks))
	}
	return r
}

// Input is what an agent receives.
type Input struct {
	RunID     string
	ProjectID string
	Blueprint *blueprint.Blueprint

	// Accumulated holds the merged output of earlier stages.
	Accumulated map[string]any
	Artifacts   []string
	Attempt     int
}

// AgentExecutor performs one kind of generation work.
type AgentExecutor interface {
	// Kind returns the stage this agent serves.
	Kind() AgentKind

	// Execute runs one attempt. A returned error counts as a failed attempt.
	Execute(ctx context.Context, in Input) (*AgentResult, error)

	// SelfCheck scores the agent's own result.
	SelfCheck(ctx context.Context, res *AgentResult) QualityGateCheck
}

// StageStatus is the state of one assembly stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageRetrying  StageStatus = "retrying"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageCancelled StageStatus = "cancelled"
)

// StageResult records how a stage went.
type StageResult struct {
	Kind        AgentKind          `json:"agent_kind"`
	Status      StageStatus        `json:"status"`
	Attempts    int                `json:"attempts"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
	Gate        *QualityGateResult `json:"quality_gate,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// RunStatus is the state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunResult is the outcome of an assembly run.
type RunResult struct {
	RunID       string         `json:"run_id"`
	ProjectID   string         `json:"project_id"`
	Status      RunStatus      `json:"status"`
	Stages      []StageResult  `json:"stages"`
	Output      map[string]any `json:"output,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty"`
	FailedStage AgentKind      `json:"failed_stage,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Stage returns the result for kind.
func (r *RunResult) Stage(kind AgentKind) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Kind == kind {
			return &r.Stages[i]
		}
	}
	return nil
}

// Progress reports a stage transition.
type Progress struct {
	RunID      string      `json:"run_id"`
	Stage      AgentKind   `json:"stage"`
	Status     StageStatus `json:"status"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
}

// ProgressFunc receives progress updates. It is called synchronously.
type ProgressFunc func(Progress)

var (
	// ErrCancelled is returned when a run is cancelled.
	ErrCancelled = errors.New("assembly run cancelled")
	// ErrRunActive is returned when a run id is already executing.
	ErrRunActive = errors.New("assembly run already active")
	// ErrNoBlueprint is returned when Run is called without a blueprint.
	ErrNoBlueprint = errors.New("blueprint is required")
)

// StageError reports the stage that exhausted its retry budget.
type StageError struct {
	Kind     AgentKind
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
