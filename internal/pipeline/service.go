package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/assembly"
	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/notify"
	"github.com/fyrsmithlabs/launchpad/internal/project"
	"github.com/fyrsmithlabs/launchpad/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/launchpad/internal/pipeline"

// DefaultMaxRevisionCycles bounds the refinement loop.
const DefaultMaxRevisionCycles = 3

// Assembler runs the code generation assembly line.
type Assembler interface {
	// Reserve registers runID before Run so control calls are never lost.
	Reserve(runID string) (release func(), err error)
	Run(ctx context.Context, runID, projectID string, bp *blueprint.Blueprint) (*assembly.RunResult, error)
	Cancel(runID string) bool
	Pause(runID string) bool
	Resume(runID string) bool
	Status(runID string) (assembly.RunStatus, bool)
	OnProgress(fn assembly.ProgressFunc)
}

// Service is the pipeline orchestration service.
type Service interface {
	// StartPipeline records the project and execution and returns
	// immediately; stages run in the background.
	StartPipeline(ctx context.Context, req StartRequest) (*Execution, error)

	// ProcessFounderFeedback is the re-entry point after founder approval.
	ProcessFounderFeedback(ctx context.Context, executionID, tenantID string, fb humangate.Feedback) (*Execution, error)

	// SubmitFeedbackByToken records feedback through an approval token and
	// resumes the owning execution. It returns a nil execution when the
	// workflow was created outside any pipeline.
	SubmitFeedbackByToken(ctx context.Context, token string, fb humangate.Feedback) (*Execution, error)

	// GetPipelineProgress returns the externally visible progress.
	GetPipelineProgress(ctx context.Context, executionID, tenantID string) (*Progress, error)

	// Get returns the execution if it belongs to tenantID.
	Get(ctx context.Context, executionID, tenantID string) (*Execution, error)

	// List returns the tenant's executions, newest first.
	List(ctx context.Context, tenantID string) ([]*Execution, error)

	// Cancel stops a non-terminal execution. In-flight work finishes and
	// is discarded.
	Cancel(ctx context.Context, executionID, tenantID string) (*Execution, error)

	// PauseGeneration holds the assembly line before its next stage.
	PauseGeneration(ctx context.Context, executionID, tenantID string) error

	// ResumeGeneration releases a paused assembly line.
	ResumeGeneration(ctx context.Context, executionID, tenantID string) error

	// Recover relaunches background work for non-terminal executions and
	// returns how many were resumed.
	Recover(ctx context.Context) (int, error)

	// Wait blocks until the execution has no background task.
	Wait(ctx context.Context, executionID string) error

	// ExpireStaleApprovals fails executions whose approval workflow expired
	// and returns how many were failed.
	ExpireStaleApprovals(ctx context.Context) (int, error)

	// Shutdown stops all background tasks. Executions stay as persisted.
	Shutdown(ctx context.Context) error
}

// Config configures the service.
type Config struct {
	MaxRevisionCycles int
	Now               func() time.Time
}

// Deps are the collaborators of the service.
type Deps struct {
	Executions Store
	Projects   project.Store
	Gate       humangate.Service
	Blueprints blueprint.Generator
	Assembly   Assembler

	// Notifier is optional.
	Notifier notify.Sender
}

type service struct {
	maxRevisions int
	now          func() time.Time

	executions Store
	projects   project.Store
	gate       humangate.Service
	blueprints blueprint.Generator
	assembly   Assembler
	notifier   notify.Sender

	locks  *store.KeyLock
	tasks  *taskRegistry
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates the pipeline service and subscribes to assembly progress.
func NewService(cfg Config, deps Deps, logger *zap.Logger) (Service, error) {
	switch {
	case deps.Executions == nil:
		return nil, errors.New("execution store is required")
	case deps.Projects == nil:
		return nil, errors.New("project store is required")
	case deps.Gate == nil:
		return nil, errors.New("human gate is required")
	case deps.Blueprints == nil:
		return nil, errors.New("blueprint generator is required")
	case deps.Assembly == nil:
		return nil, errors.New("assembler is required")
	}
	if cfg.MaxRevisionCycles <= 0 {
		cfg.MaxRevisionCycles = DefaultMaxRevisionCycles
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		maxRevisions: cfg.MaxRevisionCycles,
		now:          cfg.Now,
		executions:   deps.Executions,
		projects:     deps.Projects,
		gate:         deps.Gate,
		blueprints:   deps.Blueprints,
		assembly:     deps.Assembly,
		notifier:     deps.Notifier,
		locks:        store.NewKeyLock(),
		tasks:        newTaskRegistry(),
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}
	s.assembly.OnProgress(s.onAssemblyProgress)
	return s, nil
}

func (s *service) StartPipeline(ctx context.Context, req StartRequest) (*Execution, error) {
	const op = "start"
	ctx, span := s.tracer.Start(ctx, "pipeline.start")
	defer span.End()

	if err := validateStart(&req); err != nil {
		return nil, newError(op, "", err)
	}

	proj, err := project.NewProject(req.TenantID, req.ProjectName, req.FounderEmail, req.Interview)
	if err != nil {
		return nil, newError(op, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if err := s.projects.Save(ctx, proj); err != nil {
		return nil, newError(op, "", err)
	}

	now := s.now().UTC()
	e := &Execution{
		ID:                uuid.NewString(),
		ProjectID:         proj.ID,
		TenantID:          req.TenantID,
		ProjectName:       req.ProjectName,
		FounderEmail:      req.FounderEmail,
		Priority:          req.Interview.Priority,
		CurrentStage:      StageInterviewReceived,
		Status:            StatusInitializing,
		StageDurations:    map[Stage]float64{},
		StagesCompleted:   []Stage{},
		BlueprintVersions: []string{},
		StageStartedAt:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.executions.Put(ctx, e); err != nil {
		return nil, newError(op, e.ID, err)
	}
	span.SetAttributes(attribute.String("execution.id", e.ID), attribute.String("project.id", proj.ID))

	if err := s.tasks.launch(e.ID, func(ctx context.Context) { s.generateBlueprint(ctx, e.ID) }); err != nil {
		span.SetStatus(codes.Error, "launch failed")
		return nil, newError(op, e.ID, err)
	}

	PipelinesStarted.Inc()
	ctx = logging.WithTenantID(logging.WithExecutionID(ctx, e.ID), req.TenantID)
	s.log(ctx).Info("pipeline started", zap.String("project_id", proj.ID))
	return e, nil
}

func validateStart(req *StartRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if req.FounderEmail == "" {
		return fmt.Errorf("%w: founder email is required", ErrInvalidRequest)
	}
	if err := req.Interview.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if p := req.Interview.Priority; p != "" {
		if _, ok := humangate.Priority(p).Window(); !ok {
			return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, p)
		}
	}
	if req.ProjectName == "" {
		req.ProjectName = req.Interview.ProductName
	}
	return nil
}

// generateBlueprint runs interview_received and blueprint_generation, then
// requests approval.
func (s *service) generateBlueprint(ctx context.Context, id string) {
	defer s.recoverPanic(ctx, id)

	e, err := s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() {
			return errHalted
		}
		e.Status = StatusRunning
		if e.CurrentStage == StageInterviewReceived {
			e.advance(StageBlueprintGeneration, now)
		}
		return nil
	})
	if err != nil {
		s.stepFailed(ctx, id, "blueprint generation", err)
		return
	}
	s.notifyProgress(ctx, e, "generating blueprint")

	proj, err := s.projects.Get(ctx, e.ProjectID)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("project unavailable: %v", err))
		return
	}
	bp, err := s.blueprints.Generate(ctx, proj.Interview)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, id, fmt.Sprintf("blueprint generation failed: %v", err))
		return
	}

	if err := s.storeBlueprint(ctx, id, proj, bp, StageBlueprintGeneration); err != nil {
		s.stepFailed(ctx, id, "blueprint generation", err)
		return
	}
	s.requestApproval(ctx, id)
}

// storeBlueprint saves bp on the project and moves the execution from stage
// to founder_approval.
func (s *service) storeBlueprint(ctx context.Context, id string, proj *project.Project, bp *blueprint.Blueprint, stage Stage) error {
	_, err := s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() || e.CurrentStage != stage {
			return errHalted
		}
		e.BlueprintVersions = append(e.BlueprintVersions, bp.Version)
		e.EstimatedHours = bp.EstimatedHours
		e.advance(StageFounderApproval, now)
		return nil
	})
	if err != nil {
		return err
	}

	s.updateProject(ctx, proj.ID, func(p *project.Project) {
		p.Blueprint = bp
		p.Status = project.StatusBlueprintReady
	})
	return nil
}

// requestApproval opens a workflow for the current blueprint and suspends.
func (s *service) requestApproval(ctx context.Context, id string) {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		s.stepFailed(ctx, id, "approval request", err)
		return
	}
	if e.Status.Terminal() || e.CurrentStage != StageFounderApproval {
		return
	}
	proj, err := s.projects.Get(ctx, e.ProjectID)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("project unavailable: %v", err))
		return
	}

	req := humangate.CreateRequest{
		ProjectID:    e.ProjectID,
		Type:         humangate.TypeBlueprintApproval,
		Priority:     humangate.Priority(e.Priority),
		Title:        fmt.Sprintf("Review the blueprint for %s", e.ProjectName),
		FounderEmail: e.FounderEmail,
		Context: map[string]string{
			"execution_id":      e.ID,
			"blueprint_version": lastOf(e.BlueprintVersions),
			"revision_cycle":    fmt.Sprint(e.RevisionCycles),
		},
	}
	if proj.Blueprint != nil {
		req.Description = proj.Blueprint.Summary
	}
	w, err := s.gate.CreateWorkflow(ctx, req, e.TenantID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, id, fmt.Sprintf("approval request failed: %v", err))
		return
	}

	e, err = s.mutate(ctx, id, func(e *Execution, _ time.Time) error {
		if e.Status.Terminal() {
			return errHalted
		}
		e.WorkflowID = w.ID
		e.WorkflowIDs = append(e.WorkflowIDs, w.ID)
		e.Status = StatusWaitingApproval
		return nil
	})
	if err != nil {
		if errors.Is(err, errHalted) {
			_, _ = s.gate.CancelWorkflow(ctx, w.ID, w.TenantID)
		}
		s.stepFailed(ctx, id, "approval request", err)
		return
	}

	ctx = logging.WithWorkflowID(ctx, w.ID)
	s.log(ctx).Info("waiting for founder approval", zap.Time("expires_at", w.ExpiresAt))
	s.send(ctx, func(n notify.Sender) error {
		return n.SendApproval(ctx, notify.ApprovalNotice{
			WorkflowID:   w.ID,
			ExecutionID:  e.ID,
			ProjectID:    e.ProjectID,
			TenantID:     e.TenantID,
			ProjectName:  e.ProjectName,
			FounderEmail: w.FounderEmail,
			ApprovalURL:  w.ApprovalURL,
			Priority:     string(w.Priority),
			ExpiresAt:    w.ExpiresAt,
			Context:      w.Context,
		})
	})
	s.notifyProgress(ctx, e, "waiting for founder approval")
}

func (s *service) ProcessFounderFeedback(ctx context.Context, executionID, tenantID string, fb humangate.Feedback) (*Execution, error) {
	const op = "process_feedback"
	ctx, span := s.tracer.Start(ctx, "pipeline.feedback", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("decision", string(fb.Decision)),
	))
	defer span.End()

	if err := fb.Validate(); err != nil {
		return nil, newError(op, executionID, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	e, err := s.load(ctx, executionID, tenantID)
	if err != nil {
		return nil, newError(op, executionID, err)
	}
	if e.Status != StatusWaitingApproval || e.WorkflowID == "" {
		return nil, newError(op, executionID, ErrInvalidState)
	}

	w, err := s.gate.Get(ctx, e.WorkflowID, e.TenantID)
	if err != nil {
		return nil, newError(op, executionID, err)
	}
	switch w.Status {
	case humangate.StatusPending:
		if _, err := s.gate.RecordFeedback(ctx, w.ID, fb); err != nil {
			return nil, newError(op, executionID, fmt.Errorf("%w: %w", ErrInvalidState, err))
		}
	case fb.Decision.Status():
	case humangate.StatusExpired:
		s.expireApproval(ctx, executionID, w.ID)
		return nil, newError(op, executionID, fmt.Errorf("%w: %w", ErrApprovalExpired, humangate.ErrExpired))
	default:
		return nil, newError(op, executionID, fmt.Errorf("%w: workflow is %s", ErrInvalidState, w.Status))
	}

	out, err := s.applyDecision(ctx, executionID, w.ID, fb.Decision)
	if err != nil {
		span.RecordError(err)
		return out, newError(op, executionID, err)
	}
	return out, nil
}

func (s *service) SubmitFeedbackByToken(ctx context.Context, tok string, fb humangate.Feedback) (*Execution, error) {
	const op = "submit_feedback"
	w, err := s.gate.SubmitFeedback(ctx, tok, fb)
	if err != nil {
		return nil, err
	}
	e, err := s.executions.ByWorkflow(ctx, w.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(op, "", err)
	}
	out, err := s.applyDecision(ctx, e.ID, w.ID, fb.Decision)
	if err != nil {
		return out, newError(op, e.ID, err)
	}
	return out, nil
}

// applyDecision moves a waiting execution according to the founder decision.
func (s *service) applyDecision(ctx context.Context, id, workflowID string, d humangate.Decision) (*Execution, error) {
	limitHit := false
	e, err := s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status != StatusWaitingApproval || e.WorkflowID != workflowID {
			return ErrInvalidState
		}
		switch d {
		case humangate.DecisionApprove:
			e.advance(StageMVPGeneration, now)
			e.Status = StatusProcessingFeedback
		case humangate.DecisionReject:
			e.leave(now, false)
			e.finish(StatusCancelled, now)
		case humangate.DecisionRequestRevision:
			if e.RevisionCycles >= s.maxRevisions {
				limitHit = true
				e.leave(now, false)
				e.ErrorMessage = ErrRevisionLimit.Error()
				e.finish(StatusFailed, now)
				return nil
			}
			e.RevisionCycles++
			e.leave(now, false)
			e.enter(StageBlueprintRefinement, now)
			e.Status = StatusProcessingFeedback
		default:
			return fmt.Errorf("%w: unknown decision %q", ErrInvalidRequest, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithWorkflowID(logging.WithExecutionID(ctx, id), workflowID)
	s.log(ctx).Info("founder decision applied", zap.String("decision", string(d)))

	switch {
	case limitHit:
		s.finished(ctx, e, project.StatusFailed)
		return e, ErrRevisionLimit
	case e.Status == StatusCancelled:
		s.finished(ctx, e, project.StatusCancelled)
	case e.CurrentStage == StageMVPGeneration:
		s.setProjectStatus(ctx, e.ProjectID, project.StatusApproved)
		err = s.tasks.launch(id, func(ctx context.Context) { s.generateMVP(ctx, id) })
	default:
		err = s.tasks.launch(id, func(ctx context.Context) { s.refineBlueprint(ctx, id) })
	}
	return e, err
}

// refineBlueprint applies the founder's revision requests and re-enters
// founder_approval with a new workflow.
func (s *service) refineBlueprint(ctx context.Context, id string) {
	defer s.recoverPanic(ctx, id)

	e, err := s.mutate(ctx, id, func(e *Execution, _ time.Time) error {
		if e.Status.Terminal() || e.CurrentStage != StageBlueprintRefinement {
			return errHalted
		}
		e.Status = StatusRunning
		return nil
	})
	if err != nil {
		s.stepFailed(ctx, id, "blueprint refinement", err)
		return
	}
	s.notifyProgress(ctx, e, "refining blueprint")

	w, err := s.gate.Get(ctx, e.WorkflowID, e.TenantID)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("revision feedback unavailable: %v", err))
		return
	}
	proj, err := s.projects.Get(ctx, e.ProjectID)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("project unavailable: %v", err))
		return
	}

	rev := blueprint.Revision{Comments: w.FounderFeedback}
	for _, r := range w.RevisionRequests {
		rev.Changes = append(rev.Changes, blueprint.Change{Area: r.Area, Description: r.Description})
	}
	bp, err := s.blueprints.Refine(ctx, proj.Blueprint, rev, proj.Interview)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, id, fmt.Sprintf("blueprint refinement failed: %v", err))
		return
	}

	if err := s.storeBlueprint(ctx, id, proj, bp, StageBlueprintRefinement); err != nil {
		s.stepFailed(ctx, id, "blueprint refinement", err)
		return
	}
	s.requestApproval(ctx, id)
}

// generateMVP runs the assembly line, then deployment and completion.
func (s *service) generateMVP(ctx context.Context, id string) {
	defer s.recoverPanic(ctx, id)
	ctx, span := s.tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(attribute.String("execution.id", id)))
	defer span.End()

	// The run is reserved under the execution lock, so a Cancel that
	// observes StatusRunning always reaches the assembly line.
	release := func() {}
	defer func() { release() }()
	e, err := s.mutate(ctx, id, func(e *Execution, _ time.Time) error {
		if e.Status.Terminal() || e.CurrentStage != StageMVPGeneration {
			return errHalted
		}
		rel, err := s.assembly.Reserve(id)
		if err != nil {
			return err
		}
		release = rel
		e.Status = StatusRunning
		return nil
	})
	if err != nil {
		s.stepFailed(ctx, id, "mvp generation", err)
		return
	}
	s.setProjectStatus(ctx, e.ProjectID, project.StatusGenerating)
	s.notifyProgress(ctx, e, "generating application")

	proj, err := s.projects.Get(ctx, e.ProjectID)
	if err != nil {
		s.fail(ctx, id, fmt.Sprintf("project unavailable: %v", err))
		return
	}

	res, runErr := s.assembly.Run(ctx, id, e.ProjectID, proj.Blueprint)
	if ctx.Err() != nil {
		return
	}
	var stageErr *assembly.StageError
	switch {
	case errors.As(runErr, &stageErr):
		span.SetStatus(codes.Error, "assembly failed")
		s.fail(ctx, id, fmt.Sprintf("assembly line failed at %s stage: %v", stageErr.Kind, stageErr.Err), func(e *Execution) {
			e.RetryCount += retries(res)
		})
		return
	case errors.Is(runErr, assembly.ErrCancelled):
		return
	case runErr != nil:
		s.fail(ctx, id, fmt.Sprintf("assembly line failed: %v", runErr))
		return
	}

	e, err = s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() {
			return errHalted
		}
		e.RetryCount += retries(res)
		e.Artifacts = res.Artifacts
		e.advance(StageDeployment, now)
		e.advance(StageCompleted, now)
		e.leave(now, true)
		e.finish(StatusCompleted, now)
		return nil
	})
	if err != nil {
		s.stepFailed(ctx, id, "deployment", err)
		return
	}
	s.finished(ctx, e, project.StatusDeployed)
	s.send(ctx, func(n notify.Sender) error {
		return n.SendDeploymentReady(ctx, notify.DeploymentNotice{
			ExecutionID:  e.ID,
			ProjectID:    e.ProjectID,
			TenantID:     e.TenantID,
			ProjectName:  e.ProjectName,
			FounderEmail: e.FounderEmail,
			Artifacts:    len(e.Artifacts),
		})
	})
}

// onAssemblyProgress mirrors assembly progress into the mvp_generation stage.
func (s *service) onAssemblyProgress(p assembly.Progress) {
	ctx := context.Background()
	e, err := s.mutate(ctx, p.RunID, func(e *Execution, _ time.Time) error {
		if e.Status != StatusRunning || e.CurrentStage != StageMVPGeneration {
			return errHalted
		}
		e.StageProgress = float64(p.Percentage)
		return nil
	})
	if err != nil {
		return
	}
	s.notifyProgress(ctx, e, p.Message)
}

func (s *service) GetPipelineProgress(ctx context.Context, executionID, tenantID string) (*Progress, error) {
	e, err := s.load(ctx, executionID, tenantID)
	if err != nil {
		return nil, newError("progress", executionID, err)
	}
	p := progressOf(e, s.now().UTC())
	if e.Status == StatusRunning && e.CurrentStage == StageMVPGeneration {
		st, ok := s.assembly.Status(executionID)
		p.Paused = ok && st == assembly.RunPaused
	}
	return p, nil
}

func (s *service) Get(ctx context.Context, executionID, tenantID string) (*Execution, error) {
	e, err := s.load(ctx, executionID, tenantID)
	if err != nil {
		return nil, newError("get", executionID, err)
	}
	return e, nil
}

func (s *service) List(ctx context.Context, tenantID string) ([]*Execution, error) {
	es, err := s.executions.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, newError("list", "", err)
	}
	sort.SliceStable(es, func(i, j int) bool { return es[i].CreatedAt.After(es[j].CreatedAt) })
	return es, nil
}

func (s *service) Cancel(ctx context.Context, executionID, tenantID string) (*Execution, error) {
	const op = "cancel"
	if _, err := s.load(ctx, executionID, tenantID); err != nil {
		return nil, newError(op, executionID, err)
	}

	var wasWaiting bool
	e, err := s.mutate(ctx, executionID, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() {
			return ErrInvalidState
		}
		wasWaiting = e.Status == StatusWaitingApproval
		e.leave(now, false)
		e.finish(StatusCancelled, now)
		return nil
	})
	if err != nil {
		return nil, newError(op, executionID, err)
	}

	if wasWaiting && e.WorkflowID != "" {
		if _, err := s.gate.CancelWorkflow(ctx, e.WorkflowID, e.TenantID); err != nil {
			s.log(ctx).Warn("failed to cancel approval workflow", zap.String("workflow_id", e.WorkflowID), zap.Error(err))
		}
	}
	s.assembly.Cancel(executionID)
	s.finished(ctx, e, project.StatusCancelled)
	return e, nil
}

func (s *service) PauseGeneration(ctx context.Context, executionID, tenantID string) error {
	return s.control(ctx, "pause", executionID, tenantID, s.assembly.Pause)
}

func (s *service) ResumeGeneration(ctx context.Context, executionID, tenantID string) error {
	return s.control(ctx, "resume", executionID, tenantID, s.assembly.Resume)
}

func (s *service) control(ctx context.Context, op, executionID, tenantID string, fn func(string) bool) error {
	e, err := s.load(ctx, executionID, tenantID)
	if err != nil {
		return newError(op, executionID, err)
	}
	if e.Status != StatusRunning || e.CurrentStage != StageMVPGeneration || !fn(executionID) {
		return newError(op, executionID, ErrInvalidState)
	}
	s.log(logging.WithExecutionID(ctx, executionID)).Info("assembly line " + op + "d")
	return nil
}

func (s *service) Recover(ctx context.Context) (int, error) {
	all, err := s.executions.All(ctx)
	if err != nil {
		return 0, newError("recover", "", err)
	}

	resumed := 0
	for _, e := range all {
		if e.Status.Terminal() || e.Status == StatusWaitingApproval || s.tasks.active(e.ID) {
			continue
		}
		id := e.ID
		var fn func(context.Context)
		switch e.CurrentStage {
		case StageInterviewReceived, StageBlueprintGeneration:
			fn = func(ctx context.Context) { s.generateBlueprint(ctx, id) }
		case StageFounderApproval:
			fn = func(ctx context.Context) { s.requestApproval(ctx, id) }
		case StageBlueprintRefinement:
			fn = func(ctx context.Context) { s.refineBlueprint(ctx, id) }
		case StageMVPGeneration:
			fn = func(ctx context.Context) { s.generateMVP(ctx, id) }
		default:
			continue
		}
		if err := s.tasks.launch(id, fn); err != nil {
			return resumed, newError("recover", id, err)
		}
		resumed++
		s.log(logging.WithExecutionID(ctx, id)).Info("pipeline recovered",
			zap.String("stage", string(e.CurrentStage)),
			zap.String("status", string(e.Status)),
		)
	}
	return resumed, nil
}

func (s *service) ExpireStaleApprovals(ctx context.Context) (int, error) {
	all, err := s.executions.All(ctx)
	if err != nil {
		return 0, newError("expire_approvals", "", err)
	}

	n := 0
	for _, e := range all {
		if e.Status != StatusWaitingApproval || e.WorkflowID == "" {
			continue
		}
		w, err := s.gate.Get(ctx, e.WorkflowID, e.TenantID)
		if err != nil {
			s.log(logging.WithExecutionID(ctx, e.ID)).Warn("failed to load approval workflow",
				zap.String("workflow_id", e.WorkflowID), zap.Error(err))
			continue
		}
		if w.Status == humangate.StatusExpired && s.expireApproval(ctx, e.ID, w.ID) {
			n++
		}
	}
	return n, nil
}

// expireApproval fails id if it still waits on workflowID.
func (s *service) expireApproval(ctx context.Context, id, workflowID string) bool {
	ctx = logging.WithWorkflowID(logging.WithExecutionID(ctx, id), workflowID)
	e, err := s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status != StatusWaitingApproval || e.WorkflowID != workflowID {
			return errHalted
		}
		e.ErrorMessage = ErrApprovalExpired.Error()
		e.leave(now, false)
		e.finish(StatusFailed, now)
		return nil
	})
	if err != nil {
		if !errors.Is(err, errHalted) {
			s.log(ctx).Error("failed to record approval expiry", zap.Error(err))
		}
		return false
	}
	s.log(ctx).Warn("approval window expired, pipeline failed")
	s.finished(ctx, e, project.StatusFailed)
	return true
}

func (s *service) Wait(ctx context.Context, executionID string) error {
	return s.tasks.wait(ctx, executionID)
}

func (s *service) Shutdown(ctx context.Context) error {
	return s.tasks.shutdown(ctx)
}

// mutate serializes writes to one execution: lock, reload, apply, persist.
func (s *service) mutate(ctx context.Context, id string, fn func(e *Execution, now time.Time) error) (*Execution, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Microsecond)
	}
	if err := fn(e, now); err != nil {
		return nil, err
	}
	e.UpdatedAt = now
	e.refreshProgress()
	if err := s.executions.Put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// load returns the execution if tenantID owns it.
func (s *service) load(ctx context.Context, id, tenantID string) (*Execution, error) {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return e, nil
}

// fail marks a non-terminal execution failed with a readable message.
func (s *service) fail(ctx context.Context, id, msg string, extra ...func(*Execution)) {
	ctx = logging.WithExecutionID(context.WithoutCancel(ctx), id)
	e, err := s.mutate(ctx, id, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() {
			return errHalted
		}
		for _, fn := range extra {
			fn(e)
		}
		e.ErrorMessage = msg
		e.leave(now, false)
		e.finish(StatusFailed, now)
		return nil
	})
	if err != nil {
		if !errors.Is(err, errHalted) {
			s.log(ctx).Error("failed to record pipeline failure", zap.Error(err))
		}
		return
	}
	s.log(ctx).Error("pipeline failed",
		zap.String("stage", string(e.CurrentStage)),
		zap.String("error", msg),
	)
	s.finished(ctx, e, project.StatusFailed)
}

// stepFailed handles an error from a background step's own bookkeeping.
func (s *service) stepFailed(ctx context.Context, id, step string, err error) {
	if errors.Is(err, errHalted) || ctx.Err() != nil {
		return
	}
	s.fail(ctx, id, fmt.Sprintf("%s failed: %v", step, err))
}

func (s *service) recoverPanic(ctx context.Context, id string) {
	if r := recover(); r != nil {
		s.log(ctx).Error("pipeline task panicked", zap.Any("panic", r))
		s.fail(ctx, id, "internal error")
	}
}

// finished records terminal bookkeeping for e.
func (s *service) finished(ctx context.Context, e *Execution, ps project.Status) {
	PipelinesFinished.WithLabelValues(string(e.Status)).Inc()
	s.setProjectStatus(ctx, e.ProjectID, ps)
	s.notifyProgress(ctx, e, string(e.Status))
}

func (s *service) setProjectStatus(ctx context.Context, projectID string, status project.Status) {
	s.updateProject(ctx, projectID, func(p *project.Project) { p.Status = status })
}

// updateProject reloads the project under its lock and applies fn. A project
// in a terminal status keeps that status.
func (s *service) updateProject(ctx context.Context, projectID string, fn func(p *project.Project)) {
	unlock := s.locks.Lock("project/" + projectID)
	defer unlock()

	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		s.log(ctx).Warn("failed to load project", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	prev := p.Status
	fn(p)
	if prev.Terminal() && p.Status != prev {
		s.log(ctx).Debug("project already finished", zap.String("project_id", projectID),
			zap.String("status", string(prev)), zap.String("ignored", string(p.Status)))
		p.Status = prev
	}
	if err := s.projects.Update(ctx, p); err != nil {
		s.log(ctx).Warn("failed to update project", zap.String("project_id", projectID), zap.Error(err))
	}
}

func (s *service) notifyProgress(ctx context.Context, e *Execution, msg string) {
	s.send(ctx, func(n notify.Sender) error {
		return n.SendProgress(ctx, notify.ProgressNotice{
			ExecutionID:     e.ID,
			ProjectID:       e.ProjectID,
			TenantID:        e.TenantID,
			Stage:           string(e.CurrentStage),
			Status:          string(e.Status),
			OverallProgress: e.OverallProgress,
			Message:         msg,
		})
	})
}

// send delivers a notification; failures are logged only.
func (s *service) send(ctx context.Context, fn func(notify.Sender) error) {
	if s.notifier == nil {
		return
	}
	if err := fn(s.notifier); err != nil {
		s.log(ctx).Warn("notification delivery failed", zap.Error(err))
	}
}

// log returns the service logger carrying the correlation fields of ctx.
func (s *service) log(ctx context.Context) *zap.Logger {
	return s.logger.With(logging.ContextFields(ctx)...)
}

func retries(res *assembly.RunResult) int {
	if res == nil {
		return 0
	}
	n := 0
	for _, st := range res.Stages {
		if st.Attempts > 1 {
			n += st.Attempts - 1
		}
	}
	return n
}

func lastOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[len(ss)-1]
}
