package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/launchpad/internal/assembly"
	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/notify"
	"github.com/fyrsmithlabs/launchpad/internal/project"
	"github.com/fyrsmithlabs/launchpad/internal/store"
	"github.com/fyrsmithlabs/launchpad/internal/token"
)

const (
	tenantA = "tenant-a"
	testKey = "0123456789abcdef0123456789abcdef"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSender struct {
	mu          sync.Mutex
	approvals   []notify.ApprovalNotice
	progress    []notify.ProgressNotice
	deployments []notify.DeploymentNotice
	failWith    error
}

func (r *recordingSender) SendApproval(_ context.Context, n notify.ApprovalNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = append(r.approvals, n)
	return r.failWith
}

func (r *recordingSender) SendReminder(context.Context, notify.ReminderNotice) error {
	return r.failWith
}

func (r *recordingSender) SendProgress(_ context.Context, n notify.ProgressNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, n)
	return r.failWith
}

func (r *recordingSender) SendDeploymentReady(_ context.Context, n notify.DeploymentNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments = append(r.deployments, n)
	return r.failWith
}

func (r *recordingSender) progressFor(id string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, p := range r.progress {
		if p.ExecutionID == id {
			out = append(out, p.OverallProgress)
		}
	}
	return out
}

// countingAssembler records whether the assembly line was invoked.
type countingAssembler struct {
	*assembly.Orchestrator
	runs atomic.Int32

	// entered and hold, when set, stall Run before it reaches the orchestrator.
	entered chan struct{}
	hold    chan struct{}
}

func (c *countingAssembler) Run(ctx context.Context, runID, projectID string, bp *blueprint.Blueprint) (*assembly.RunResult, error) {
	c.runs.Add(1)
	if c.entered != nil {
		close(c.entered)
		<-c.hold
	}
	return c.Orchestrator.Run(ctx, runID, projectID, bp)
}

// countingAgent counts invocations across every stage sharing calls.
type countingAgent struct {
	*assembly.TemplateAgent
	calls *atomic.Int32
}

func (a *countingAgent) Execute(ctx context.Context, in assembly.Input) (*assembly.AgentResult, error) {
	a.calls.Add(1)
	return a.TemplateAgent.Execute(ctx, in)
}

// gatedAgent blocks each attempt until released.
type gatedAgent struct {
	*assembly.TemplateAgent
	started chan struct{}
	release chan struct{}
}

func (a *gatedAgent) Execute(ctx context.Context, in assembly.Input) (*assembly.AgentResult, error) {
	a.started <- struct{}{}
	<-a.release
	return a.TemplateAgent.Execute(ctx, in)
}

// stubGenerator lets tests control blueprint generation.
type stubGenerator struct {
	blueprint.Generator
	generate func(ctx context.Context, in blueprint.Interview) (*blueprint.Blueprint, error)
}

func (g *stubGenerator) Generate(ctx context.Context, in blueprint.Interview) (*blueprint.Blueprint, error) {
	return g.generate(ctx, in)
}

type env struct {
	svc        Service
	gate       humangate.Service
	orch       *assembly.Orchestrator
	assembler  *countingAssembler
	executions Store
	projects   project.Store
	clock      *fakeClock
	sender     *recordingSender
}

type envOption func(*envConfig)

type envConfig struct {
	maxRevisions int
	agents       []assembly.AgentExecutor
	generator    blueprint.Generator
	executions   Store
	projects     project.Store
}

func withAgents(agents ...assembly.AgentExecutor) envOption {
	return func(c *envConfig) { c.agents = agents }
}

func withGenerator(g blueprint.Generator) envOption {
	return func(c *envConfig) { c.generator = g }
}

func withMaxRevisions(n int) envOption {
	return func(c *envConfig) { c.maxRevisions = n }
}

func withStores(e Store, p project.Store) envOption {
	return func(c *envConfig) { c.executions, c.projects = e, p }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := envConfig{
		agents:     assembly.TemplateAgents(),
		generator:  blueprint.NewHeuristicArchitect(logger),
		executions: NewMemoryStore(),
		projects:   project.NewMemoryStore(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	clock := &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	tokens, err := token.NewService([]byte(testKey), "launchpad-test", token.WithClock(clock.Now))
	require.NoError(t, err)
	gate, err := humangate.NewService(&humangate.Config{BaseURL: "https://lp.test/approve", Now: clock.Now},
		tokens, humangate.NewMemoryStore(), nil, logger)
	require.NoError(t, err)

	orch, err := assembly.NewOrchestrator(assembly.Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, cfg.agents, logger)
	require.NoError(t, err)
	asm := &countingAssembler{Orchestrator: orch}

	sender := &recordingSender{}
	svc, err := NewService(Config{MaxRevisionCycles: cfg.maxRevisions, Now: clock.Now}, Deps{
		Executions: cfg.executions,
		Projects:   cfg.projects,
		Gate:       gate,
		Blueprints: cfg.generator,
		Assembly:   asm,
		Notifier:   sender,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Shutdown(ctx))
	})

	return &env{
		svc: svc, gate: gate, orch: orch, assembler: asm,
		executions: cfg.executions, projects: cfg.projects,
		clock: clock, sender: sender,
	}
}

func interview(priority string) blueprint.Interview {
	return blueprint.Interview{
		ProductName: "Crafty",
		Description: "A marketplace where independent sellers list handmade goods for buyers",
		TargetUsers: "makers",
		Features:    []string{"seller listings", "buyer reviews"},
		Priority:    priority,
	}
}

func (e *env) start(t *testing.T, priority string) *Execution {
	t.Helper()
	ex, err := e.svc.StartPipeline(context.Background(), StartRequest{
		Interview:    interview(priority),
		TenantID:     tenantA,
		FounderEmail: "founder@example.com",
	})
	require.NoError(t, err)
	return ex
}

func (e *env) wait(t *testing.T, id string) *Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.svc.Wait(ctx, id))
	ex, err := e.svc.Get(context.Background(), id, tenantA)
	require.NoError(t, err)
	return ex
}

func (e *env) workflow(t *testing.T, ex *Execution) *humangate.Workflow {
	t.Helper()
	w, err := e.gate.Get(context.Background(), ex.WorkflowID, tenantA)
	require.NoError(t, err)
	return w
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestStartPipeline_SuspendsForApproval(t *testing.T) {
	e := newEnv(t)
	started := e.start(t, "")
	assert.Equal(t, StatusInitializing, started.Status)
	assert.Equal(t, StageInterviewReceived, started.CurrentStage)

	ex := e.wait(t, started.ID)
	assert.Equal(t, StatusWaitingApproval, ex.Status)
	assert.Equal(t, StageFounderApproval, ex.CurrentStage)
	assert.Equal(t, []Stage{StageInterviewReceived, StageBlueprintGeneration}, ex.StagesCompleted)
	assert.Len(t, ex.BlueprintVersions, 1)
	assert.NotEmpty(t, ex.WorkflowID)
	assert.InDelta(t, 20.0, ex.OverallProgress, 1e-9)
	assert.Contains(t, ex.StageDurations, StageBlueprintGeneration)

	w := e.workflow(t, ex)
	assert.Equal(t, humangate.StatusPending, w.Status)
	assert.Equal(t, humangate.TypeBlueprintApproval, w.Type)
	assert.Equal(t, ex.ID, w.Context["execution_id"])

	e.sender.mu.Lock()
	require.Len(t, e.sender.approvals, 1)
	assert.Equal(t, w.ApprovalURL, e.sender.approvals[0].ApprovalURL)
	e.sender.mu.Unlock()

	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusBlueprintReady, p.Status)
	assert.Equal(t, "Crafty", p.Name)
	require.NotNil(t, p.Blueprint)
	assert.Equal(t, ex.BlueprintVersions[0], p.Blueprint.Version)

	prog, err := e.svc.GetPipelineProgress(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	require.NotNil(t, prog.EstimatedCompletion)
	assert.Equal(t, StageBlueprintGeneration, prog.LastCompletedStage)
}

func TestStartPipeline_Validation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing tenant", StartRequest{Interview: interview(""), FounderEmail: "f@x.io"}},
		{"missing email", StartRequest{Interview: interview(""), TenantID: tenantA}},
		{"no features", StartRequest{Interview: blueprint.Interview{ProductName: "p"}, TenantID: tenantA, FounderEmail: "f@x.io"}},
		{"bad priority", StartRequest{Interview: interview("whenever"), TenantID: tenantA, FounderEmail: "f@x.io"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.StartPipeline(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestApprovalByToken_RunsToCompletion(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "high").ID)
	w := e.workflow(t, ex)

	_, err := e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCompleted, ex.Status)
	assert.Equal(t, StageCompleted, ex.CurrentStage)
	assert.Equal(t, 100.0, ex.OverallProgress)
	assert.Equal(t, []Stage{
		StageInterviewReceived, StageBlueprintGeneration, StageFounderApproval,
		StageMVPGeneration, StageDeployment, StageCompleted,
	}, ex.StagesCompleted)
	assert.NotEmpty(t, ex.Artifacts)
	require.NotNil(t, ex.CompletedAt)

	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusDeployed, p.Status)

	e.sender.mu.Lock()
	assert.Len(t, e.sender.deployments, 1)
	e.sender.mu.Unlock()

	prog, err := e.svc.GetPipelineProgress(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Nil(t, prog.EstimatedCompletion)

	_, err = e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	assert.ErrorIs(t, err, humangate.ErrNotPending)
}

func TestProgress_MonotonicAndHundredOnlyWhenCompleted(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "").ID)
	w := e.workflow(t, ex)
	_, err := e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)
	e.wait(t, ex.ID)

	seen := e.sender.progressFor(ex.ID)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards at %d: %v", i, seen)
	}
	for _, p := range seen[:len(seen)-1] {
		assert.Less(t, p, 100.0)
	}
	assert.Equal(t, 100.0, seen[len(seen)-1])
}

func TestUrgentReject_CancelsWithoutGeneration(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "urgent").ID)
	w := e.workflow(t, ex)
	assert.Equal(t, 12*time.Hour, w.ExpiresAt.Sub(w.CreatedAt))

	e.clock.Advance(time.Hour)
	got, err := e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCancelled, ex.Status)
	assert.Less(t, ex.OverallProgress, 100.0)
	assert.Equal(t, humangate.StatusRejected, e.workflow(t, ex).Status)
	assert.Zero(t, e.assembler.runs.Load())

	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusCancelled, p.Status)
}

func TestRequestRevision_ReentersApprovalWithFreshWorkflow(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "").ID)
	first := e.workflow(t, ex)

	_, err := e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, humangate.Feedback{
		Decision:         humangate.DecisionRequestRevision,
		Comments:         "almost",
		RevisionRequests: []humangate.RevisionRequest{{Area: "database", Description: "use mysql"}},
	})
	require.NoError(t, err)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusWaitingApproval, ex.Status)
	assert.Equal(t, StageFounderApproval, ex.CurrentStage)
	assert.Equal(t, 1, ex.RevisionCycles)
	assert.Len(t, ex.BlueprintVersions, 2)
	assert.Len(t, ex.WorkflowIDs, 2)
	assert.Contains(t, ex.StagesCompleted, StageBlueprintRefinement)
	assert.NotContains(t, ex.StagesCompleted, StageFounderApproval)

	second := e.workflow(t, ex)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ApprovalToken, second.ApprovalToken)
	assert.Equal(t, humangate.StatusPending, second.Status)

	old, err := e.gate.Get(context.Background(), first.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, humangate.StatusRevisionRequested, old.Status)

	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "mysql", p.Blueprint.TechStack.Database)

	_, err = e.svc.SubmitFeedbackByToken(context.Background(), first.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	assert.ErrorIs(t, err, humangate.ErrNotPending)

	_, err = e.svc.SubmitFeedbackByToken(context.Background(), second.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)
	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCompleted, ex.Status)
	assert.Equal(t, 100.0, ex.OverallProgress)
}

func TestRequestRevision_LimitFailsPipeline(t *testing.T) {
	e := newEnv(t, withMaxRevisions(1))
	ex := e.wait(t, e.start(t, "").ID)
	revise := humangate.Feedback{
		Decision:         humangate.DecisionRequestRevision,
		RevisionRequests: []humangate.RevisionRequest{{Area: "ux", Description: "simpler onboarding"}},
	}

	_, err := e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, revise)
	require.NoError(t, err)
	ex = e.wait(t, ex.ID)
	require.Equal(t, StatusWaitingApproval, ex.Status)

	got, err := e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, revise)
	require.ErrorIs(t, err, ErrRevisionLimit)
	assert.Equal(t, StatusFailed, got.Status)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusFailed, ex.Status)
	assert.Equal(t, "revision limit exceeded", ex.ErrorMessage)
}

func TestGenerationFailure_NamesFrontend(t *testing.T) {
	e := newEnv(t)
	e.orch.RegisterGate(assembly.KindFrontend, assembly.NewConfidenceGate(1.01))

	ex := e.wait(t, e.start(t, "").ID)
	_, err := e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusFailed, ex.Status)
	assert.Equal(t, StageMVPGeneration, ex.CurrentStage)
	assert.Contains(t, ex.ErrorMessage, "frontend")
	assert.Equal(t, 2, ex.RetryCount)
	assert.Less(t, ex.OverallProgress, 100.0)

	prog, err := e.svc.GetPipelineProgress(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StageFounderApproval, prog.LastCompletedStage)
	assert.Contains(t, prog.Error, "frontend")
}

func TestBlueprintFailure(t *testing.T) {
	gen := &stubGenerator{generate: func(context.Context, blueprint.Interview) (*blueprint.Blueprint, error) {
		return nil, errors.New("architect unavailable")
	}}
	e := newEnv(t, withGenerator(gen))

	ex := e.wait(t, e.start(t, "").ID)
	assert.Equal(t, StatusFailed, ex.Status)
	assert.Equal(t, StageBlueprintGeneration, ex.CurrentStage)
	assert.Contains(t, ex.ErrorMessage, "architect unavailable")
	assert.Equal(t, StageInterviewReceived, ex.LastCompletedStage())
}

func TestProcessFounderFeedback_Errors(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "urgent").ID)
	approve := humangate.Feedback{Decision: humangate.DecisionApprove}

	_, err := e.svc.ProcessFounderFeedback(context.Background(), ex.ID, "tenant-b", approve)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, humangate.Feedback{Decision: "shrug"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	e.clock.Advance(13 * time.Hour)
	_, err = e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, approve)
	assert.ErrorIs(t, err, ErrApprovalExpired)
	assert.ErrorIs(t, err, humangate.ErrExpired)
	assert.Equal(t, humangate.StatusExpired, e.workflow(t, ex).Status)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusFailed, ex.Status)
	assert.Equal(t, ErrApprovalExpired.Error(), ex.ErrorMessage)
	assert.Zero(t, e.assembler.runs.Load())

	_, err = e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, approve)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireStaleApprovals_FailsWaitingExecutions(t *testing.T) {
	e := newEnv(t)
	stale := e.wait(t, e.start(t, "urgent").ID)
	e.clock.Advance(13 * time.Hour)
	fresh := e.wait(t, e.start(t, "low").ID)

	sweeper, err := humangate.NewSweeper(e.gate, "", nil, e.svc.ExpireStaleApprovals)
	require.NoError(t, err)
	n, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.svc.Get(context.Background(), stale.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ErrApprovalExpired.Error(), got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	p, err := e.projects.Get(context.Background(), stale.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusFailed, p.Status)

	got, err = e.svc.Get(context.Background(), fresh.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingApproval, got.Status)

	failed, err := e.svc.ExpireStaleApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Zero(t, e.assembler.runs.Load())
}

func TestProcessFounderFeedback_AcceptsAlreadyRecordedDecision(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "").ID)
	w := e.workflow(t, ex)

	_, err := e.gate.RecordFeedback(context.Background(), w.ID, humangate.Feedback{Decision: humangate.DecisionReject})
	require.NoError(t, err)

	_, err = e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, humangate.Feedback{Decision: humangate.DecisionApprove})
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := e.svc.ProcessFounderFeedback(context.Background(), ex.ID, tenantA, humangate.Feedback{Decision: humangate.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestCancel_WhileWaitingApproval(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "").ID)
	w := e.workflow(t, ex)

	_, err := e.svc.Cancel(context.Background(), ex.ID, "tenant-b")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := e.svc.Cancel(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, humangate.StatusCancelled, e.workflow(t, ex).Status)

	_, err = e.svc.Cancel(context.Background(), ex.ID, tenantA)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	assert.ErrorIs(t, err, humangate.ErrNotPending)
}

func newGatedAgents() (*gatedAgent, []assembly.AgentExecutor) {
	gated := &gatedAgent{
		TemplateAgent: assembly.NewTemplateAgent(assembly.KindBackend),
		started:       make(chan struct{}, 4),
		release:       make(chan struct{}),
	}
	return gated, []assembly.AgentExecutor{
		gated,
		assembly.NewTemplateAgent(assembly.KindFrontend),
		assembly.NewTemplateAgent(assembly.KindInfrastructure),
		assembly.NewTemplateAgent(assembly.KindObservability),
	}
}

func TestCancel_DuringGenerationDiscardsResult(t *testing.T) {
	gated, agents := newGatedAgents()
	e := newEnv(t, withAgents(agents...))
	ex := e.wait(t, e.start(t, "").ID)
	_, err := e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)

	<-gated.started
	got, err := e.svc.Cancel(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	close(gated.release)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCancelled, ex.Status)
	assert.Empty(t, ex.Artifacts)
	assert.NotContains(t, ex.StagesCompleted, StageMVPGeneration)
}

func TestCancel_BeforeAssemblyStartsRunsNoAgents(t *testing.T) {
	var calls atomic.Int32
	var agents []assembly.AgentExecutor
	for _, k := range assembly.Order() {
		agents = append(agents, &countingAgent{TemplateAgent: assembly.NewTemplateAgent(k), calls: &calls})
	}
	e := newEnv(t, withAgents(agents...))
	e.assembler.entered = make(chan struct{})
	e.assembler.hold = make(chan struct{})
	ex := e.wait(t, e.start(t, "").ID)

	_, err := e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)
	select {
	case <-e.assembler.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("assembly line was not started")
	}

	got, err := e.svc.Cancel(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	close(e.assembler.hold)

	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCancelled, ex.Status)
	assert.Zero(t, calls.Load())
	assert.Empty(t, ex.Artifacts)

	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusCancelled, p.Status)
}

func TestSetProjectStatus_KeepsTerminalStatus(t *testing.T) {
	e := newEnv(t)
	ex := e.wait(t, e.start(t, "").ID)
	_, err := e.svc.Cancel(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)

	e.svc.(*service).setProjectStatus(context.Background(), ex.ProjectID, project.StatusGenerating)
	p, err := e.projects.Get(context.Background(), ex.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusCancelled, p.Status)
	assert.True(t, project.StatusCancelled.Terminal())
	assert.False(t, project.StatusGenerating.Terminal())
}

func TestPauseResumeGeneration(t *testing.T) {
	gated, agents := newGatedAgents()
	e := newEnv(t, withAgents(agents...))
	ex := e.wait(t, e.start(t, "").ID)

	err := e.svc.PauseGeneration(context.Background(), ex.ID, tenantA)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = e.svc.SubmitFeedbackByToken(context.Background(), e.workflow(t, ex).ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)
	<-gated.started

	require.NoError(t, e.svc.PauseGeneration(context.Background(), ex.ID, tenantA))
	close(gated.release)

	require.Eventually(t, func() bool {
		s, ok := e.orch.Status(ex.ID)
		return ok && s == assembly.RunPaused
	}, 5*time.Second, time.Millisecond)
	got, err := e.svc.Get(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	prog, err := e.svc.GetPipelineProgress(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.True(t, prog.Paused)

	require.NoError(t, e.svc.ResumeGeneration(context.Background(), ex.ID, tenantA))
	ex = e.wait(t, ex.ID)
	assert.Equal(t, StatusCompleted, ex.Status)
	prog, err = e.svc.GetPipelineProgress(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.False(t, prog.Paused)
}

func TestRecover_ResumesInterruptedWork(t *testing.T) {
	executions := NewMemoryStore()
	projects := project.NewMemoryStore()
	e := newEnv(t, withStores(executions, projects))
	ctx := context.Background()

	p, err := project.NewProject(tenantA, "Crafty", "founder@example.com", interview(""))
	require.NoError(t, err)
	require.NoError(t, projects.Save(ctx, p))

	now := e.clock.Now()
	interrupted := &Execution{
		ID: "exec-interrupted", ProjectID: p.ID, TenantID: tenantA, ProjectName: "Crafty",
		FounderEmail: "founder@example.com", CurrentStage: StageBlueprintGeneration, Status: StatusRunning,
		StagesCompleted: []Stage{StageInterviewReceived}, StageStartedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	waiting := &Execution{
		ID: "exec-waiting", ProjectID: p.ID, TenantID: tenantA, CurrentStage: StageFounderApproval,
		Status: StatusWaitingApproval, WorkflowID: "wf-x", CreatedAt: now, UpdatedAt: now,
	}
	done := &Execution{
		ID: "exec-done", ProjectID: p.ID, TenantID: tenantA, CurrentStage: StageCompleted,
		Status: StatusCompleted, CreatedAt: now, UpdatedAt: now,
	}
	for _, x := range []*Execution{interrupted, waiting, done} {
		require.NoError(t, executions.Put(ctx, x))
	}

	n, err := e.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ex := e.wait(t, interrupted.ID)
	assert.Equal(t, StatusWaitingApproval, ex.Status)
	assert.NotEmpty(t, ex.WorkflowID)
	assert.Len(t, ex.BlueprintVersions, 1)
}

func TestShutdown_StopsTasksWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan struct{})
	gen := &stubGenerator{generate: func(ctx context.Context, _ blueprint.Interview) (*blueprint.Blueprint, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := newEnv(t, withGenerator(gen))
	ex := e.start(t, "")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.svc.Shutdown(ctx))

	got, err := e.svc.Get(context.Background(), ex.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status, "shutdown leaves executions recoverable")

	_, err = e.svc.StartPipeline(context.Background(), StartRequest{Interview: interview(""), TenantID: tenantA, FounderEmail: "f@x.io"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestNotificationFailuresDoNotBlock(t *testing.T) {
	e := newEnv(t)
	e.sender.failWith = errors.New("bus down")

	ex := e.wait(t, e.start(t, "").ID)
	assert.Equal(t, StatusWaitingApproval, ex.Status)
}

func TestList_TenantScoped(t *testing.T) {
	e := newEnv(t)
	a := e.wait(t, e.start(t, "").ID)

	list, err := e.svc.List(context.Background(), tenantA)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	list, err = e.svc.List(context.Background(), "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = e.svc.GetPipelineProgress(context.Background(), a.ID, "tenant-b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SQLiteWorkflowIndex(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend, err := store.NewSQLite[Execution](db, "execution", Indexes()...)
	require.NoError(t, err)
	s := NewStore(backend)
	ctx := context.Background()

	ex := &Execution{ID: "e1", ProjectID: "p1", TenantID: tenantA, WorkflowIDs: []string{"wf-1", "wf-2"}}
	require.NoError(t, s.Put(ctx, ex))

	for _, wf := range []string{"wf-1", "wf-2"} {
		got, err := s.ByWorkflow(ctx, wf)
		require.NoError(t, err)
		assert.Equal(t, "e1", got.ID)
	}
	_, err = s.ByWorkflow(ctx, "wf-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitFeedbackByToken_StandaloneWorkflow(t *testing.T) {
	e := newEnv(t)
	w, err := e.gate.CreateWorkflow(context.Background(), humangate.CreateRequest{
		ProjectID:    "proj-standalone",
		Type:         humangate.TypeDeploymentApproval,
		FounderEmail: "founder@example.com",
	}, tenantA)
	require.NoError(t, err)

	got, err := e.svc.SubmitFeedbackByToken(context.Background(), w.ApprovalToken, humangate.Feedback{Decision: humangate.DecisionApprove})
	require.NoError(t, err)
	assert.Nil(t, got)

	w, err = e.gate.Get(context.Background(), w.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, humangate.StatusApproved, w.Status)
}
