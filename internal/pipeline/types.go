package pipeline

import (
	"slices"
	"time"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
)

// Stage is one step of the top-level state machine.
type Stage string

const (
	StageInterviewReceived   Stage = "interview_received"
	StageBlueprintGeneration Stage = "blueprint_generation"
	StageFounderApproval     Stage = "founder_approval"
	StageBlueprintRefinement Stage = "blueprint_refinement"
	StageMVPGeneration       Stage = "mvp_generation"
	StageDeployment          Stage = "deployment"
	StageCompleted           Stage = "completed"
)

// stageWeights sum to 1. Refinement only counts when that path is taken.
var stageWeights = map[Stage]float64{
	StageInterviewReceived:   0.05,
	StageBlueprintGeneration: 0.15,
	StageFounderApproval:     0.10,
	StageBlueprintRefinement: 0.05,
	StageMVPGeneration:       0.50,
	StageDeployment:          0.10,
	StageCompleted:           0.05,
}

// Status is the execution status.
type Status string

const (
	StatusInitializing       Status = "initializing"
	StatusRunning            Status = "running"
	StatusWaitingApproval    Status = "waiting_approval"
	StatusProcessingFeedback Status = "processing_feedback"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Execution is one attempt at generating a project.
type Execution struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	TenantID     string `json:"tenant_id"`
	ProjectName  string `json:"project_name"`
	FounderEmail string `json:"founder_email"`
	Priority     string `json:"priority"`

	CurrentStage    Stage             `json:"current_stage"`
	Status          Status            `json:"status"`
	StagesCompleted []Stage           `json:"stages_completed"`
	StageDurations  map[Stage]float64 `json:"stage_durations"`
	StageStartedAt  time.Time         `json:"stage_started_at"`

	// WorkflowID is the active approval workflow; WorkflowIDs keeps every one.
	WorkflowID        string   `json:"workflow_id,omitempty"`
	WorkflowIDs       []string `json:"workflow_ids,omitempty"`
	BlueprintVersions []string `json:"blueprint_versions"`
	RevisionCycles    int      `json:"revision_cycles"`

	StageProgress   float64 `json:"stage_progress"`
	OverallProgress float64 `json:"overall_progress"`
	EstimatedHours  float64 `json:"estimated_hours,omitempty"`

	RetryCount   int      `json:"retry_count"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastCompletedStage returns the most recently completed stage.
func (e *Execution) LastCompletedStage() Stage {
	if len(e.StagesCompleted) == 0 {
		return ""
	}
	return e.StagesCompleted[len(e.StagesCompleted)-1]
}

// enter makes stage current.
func (e *Execution) enter(stage Stage, now time.Time) {
	e.CurrentStage = stage
	e.StageStartedAt = now
	e.StageProgress = 0
}

// leave records the time spent in the current stage and optionally marks it
// completed. A stage is recorded as completed at most once.
func (e *Execution) leave(now time.Time, completed bool) {
	if e.StageDurations == nil {
		e.StageDurations = make(map[Stage]float64)
	}
	if !e.StageStartedAt.IsZero() {
		d := now.Sub(e.StageStartedAt).Seconds()
		e.StageDurations[e.CurrentStage] += d
		StageDuration.WithLabelValues(string(e.CurrentStage)).Observe(d)
	}
	if completed && !slices.Contains(e.StagesCompleted, e.CurrentStage) {
		e.StagesCompleted = append(e.StagesCompleted, e.CurrentStage)
	}
}

// advance completes the current stage and enters next.
func (e *Execution) advance(next Stage, now time.Time) {
	e.leave(now, true)
	e.enter(next, now)
}

// finish marks the execution terminal.
func (e *Execution) finish(status Status, now time.Time) {
	e.Status = status
	e.CompletedAt = &now
}

// refreshProgress recomputes the overall percentage as a high-water mark.
// It is exactly 100 only once completed.
func (e *Execution) refreshProgress() {
	if e.Status == StatusCompleted {
		e.OverallProgress = 100
		return
	}
	sum := 0.0
	for _, s := range e.StagesCompleted {
		sum += stageWeights[s]
	}
	if !slices.Contains(e.StagesCompleted, e.CurrentStage) {
		sum += stageWeights[e.CurrentStage] * e.StageProgress / 100
	}
	pct := min(sum*100, 99)
	if pct > e.OverallProgress {
		e.OverallProgress = pct
	}
}

// StartRequest starts a pipeline.
type StartRequest struct {
	Interview    blueprint.Interview `json:"interview"`
	TenantID     string              `json:"-"`
	FounderEmail string              `json:"founder_email"`
	ProjectName  string              `json:"project_name,omitempty"`
}

// Progress is the externally visible state of an execution. Paused is set
// while the assembly line is held between stages.
type Progress struct {
	ExecutionID         string     `json:"execution_id"`
	ProjectID           string     `json:"project_id"`
	Stage               Stage      `json:"stage"`
	Status              Status     `json:"status"`
	OverallProgress     float64    `json:"overall_progress"`
	StageProgress       float64    `json:"stage_progress"`
	Paused              bool       `json:"paused"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	Error               string     `json:"error,omitempty"`
	LastCompletedStage  Stage      `json:"last_completed_stage,omitempty"`
	WorkflowID          string     `json:"workflow_id,omitempty"`
	BlueprintVersions   []string   `json:"blueprint_versions"`
}

func progressOf(e *Execution, now time.Time) *Progress {
	p := &Progress{
		ExecutionID:        e.ID,
		ProjectID:          e.ProjectID,
		Stage:              e.CurrentStage,
		Status:             e.Status,
		OverallProgress:    e.OverallProgress,
		StageProgress:      e.StageProgress,
		Error:              e.ErrorMessage,
		LastCompletedStage: e.LastCompletedStage(),
		WorkflowID:         e.WorkflowID,
		BlueprintVersions:  append([]string{}, e.BlueprintVersions...),
	}
	if !e.Status.Terminal() && e.EstimatedHours > 0 {
		remaining := e.EstimatedHours * (1 - e.OverallProgress/100)
		eta := now.Add(time.Duration(remaining * float64(time.Hour)))
		p.EstimatedCompletion = &eta
	}
	return p
}
