package assembly

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
)

const instrumentationName = "github.com/fyrsmithlabs/launchpad/internal/assembly"

// Config tunes retries.
type Config struct {
	// MaxAttempts is the per-stage budget shared by execution and gate failures.
	MaxAttempts int

	// BackoffBase scales the delay before attempt n+1: BackoffBase * 2^n.
	BackoffBase time.Duration
}

// DefaultConfig returns three attempts with 2s then 4s between them.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: time.Second}
}

// Orchestrator runs the assembly line.
type Orchestrator struct {
	cfg    Config
	agents map[AgentKind]AgentExecutor
	logger *zap.Logger
	tracer trace.Tracer

	runCounter metric.Int64Counter

	mu       sync.RWMutex
	gates    map[AgentKind][]QualityGate
	progress ProgressFunc
	runs     map[string]*runControl
}

// NewOrchestrator requires exactly one agent for every kind in Order().
func NewOrchestrator(cfg Config, agents []AgentExecutor, logger *zap.Logger) (*Orchestrator, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase < 0 {
		return nil, errors.New("backoff base must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byKind := make(map[AgentKind]AgentExecutor, len(agents))
	for _, a := range agents {
		if _, dup := byKind[a.Kind()]; dup {
			return nil, fmt.Errorf("duplicate agent for %s", a.Kind())
		}
		byKind[a.Kind()] = a
	}
	for _, k := range Order() {
		if _, ok := byKind[k]; !ok {
			return nil, fmt.Errorf("no agent registered for %s", k)
		}
	}

	o := &Orchestrator{
		cfg:    cfg,
		agents: byKind,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		gates:  make(map[AgentKind][]QualityGate),
		runs:   make(map[string]*runControl),
	}

	var err error
	o.runCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"launchpad.assembly.runs_total",
		metric.WithDescription("Total number of assembly runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create run counter", zap.Error(err))
	}
	return o, nil
}

// RegisterGate adds a gate for kind.
func (o *Orchestrator) RegisterGate(kind AgentKind, gate QualityGate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gates[kind] = append(o.gates[kind], gate)
}

// RegisterGateAll adds a gate for every kind.
func (o *Orchestrator) RegisterGateAll(gate QualityGate) {
	for _, k := range Order() {
		o.RegisterGate(k, gate)
	}
}

// OnProgress sets the progress callback.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = fn
}

// Run executes every stage in order for one project. The returned result is
// never nil once the run has started, even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, runID, projectID string, bp *blueprint.Blueprint) (*RunResult, error) {
	if bp == nil {
		return nil, ErrNoBlueprint
	}
	ctl, err := o.register(runID)
	if err != nil {
		return nil, err
	}
	defer o.unregister(runID)

	ctx, span := o.tracer.Start(ctx, "assembly.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("project.id", projectID),
	))
	defer span.End()

	order := Order()
	res := &RunResult{
		RunID:     runID,
		ProjectID: projectID,
		Status:    RunRunning,
		Stages:    make([]StageResult, len(order)),
		Output:    make(map[string]any),
		StartedAt: time.Now().UTC(),
	}
	for i, k := range order {
		res.Stages[i] = StageResult{Kind: k, Status: StagePending}
	}

	runErr := o.runStages(ctx, ctl, res, bp)
	res.CompletedAt = time.Now().UTC()

	var stageErr *StageError
	switch {
	case runErr == nil:
		res.Status = RunCompleted
	case errors.As(runErr, &stageErr):
		res.Status = RunFailed
		res.FailedStage = stageErr.Kind
		res.Error = stageErr.Error()
	default:
		res.Status = RunCancelled
		res.Error = runErr.Error()
		cancelRemaining(res)
	}

	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	}
	span.SetAttributes(attribute.String("run.status", string(res.Status)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(res.Status))
	}

	o.logger.Info("assembly run finished",
		zap.String("run_id", runID),
		zap.String("project_id", projectID),
		zap.String("status", string(res.Status)),
		zap.String("failed_stage", string(res.FailedStage)),
		zap.Int("artifacts", len(res.Artifacts)),
	)
	return res, runErr
}

func (o *Orchestrator) runStages(ctx context.Context, ctl *runControl, res *RunResult, bp *blueprint.Blueprint) error {
	total := len(res.Stages)
	for i := range res.Stages {
		stage := &res.Stages[i]

		if err := o.between(ctx, ctl, res.RunID, stage.Kind, i*100/total); err != nil {
			return err
		}

		in := Input{
			RunID:       res.RunID,
			ProjectID:   res.ProjectID,
			Blueprint:   bp,
			Accumulated: maps.Clone(res.Output),
			Artifacts:   append([]string(nil), res.Artifacts...),
		}
		out, err := o.runStage(ctx, ctl, stage, in, i*100/total)
		if err != nil {
			return err
		}

		maps.Copy(res.Output, out.Output)
		res.Artifacts = append(res.Artifacts, out.Artifacts...)
		o.report(Progress{
			RunID:      res.RunID,
			Stage:      stage.Kind,
			Status:     StageCompleted,
			Message:    fmt.Sprintf("%s stage completed", stage.Kind),
			Percentage: (i + 1) * 100 / total,
		})
	}
	return nil
}

// runStage executes one stage with the retry budget.
func (o *Orchestrator) runStage(ctx context.Context, ctl *runControl, stage *StageResult, in Input, pct int) (*AgentResult, error) {
	agent := o.agents[stage.Kind]
	ctx, span := o.tracer.Start(ctx, "assembly.stage", trace.WithAttributes(
		attribute.String("stage.kind", string(stage.Kind)),
	))
	defer span.End()

	stage.StartedAt = time.Now().UTC()
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		stage.Attempts = attempt
		if attempt == 1 {
			stage.Status = StageRunning
		}
		o.report(Progress{RunID: in.RunID, Stage: stage.Kind, Status: stage.Status,
			Message: fmt.Sprintf("%s stage attempt %d", stage.Kind, attempt), Percentage: pct})

		in.Attempt = attempt
		out, err := agent.Execute(ctx, in)
		if ctl.isCancelled() {
			stage.Status = StageCancelled
			return nil, ErrCancelled
		}

		outcome := "error"
		switch {
		case err != nil:
			lastErr = err
		case out == nil:
			lastErr = errors.New("agent returned no result")
		case out.Status != AgentCompleted:
			lastErr = fmt.Errorf("agent reported %s: %s", out.Status, out.ErrorMessage)
		default:
			gate := o.evaluate(ctx, agent, out)
			stage.Gate = &gate
			if gate.OverallPassed {
				StageAttempts.WithLabelValues(string(stage.Kind), "passed").Inc()
				stage.Status = StageCompleted
				stage.CompletedAt = time.Now().UTC()
				stage.Error = ""
				span.SetAttributes(attribute.Int("stage.attempts", attempt))
				return out, nil
			}
			outcome = "gate_failed"
			lastErr = fmt.Errorf("quality gate failed with score %.2f", gate.OverallScore)
		}
		StageAttempts.WithLabelValues(string(stage.Kind), outcome).Inc()
		stage.Error = lastErr.Error()

		o.logger.Warn("assembly stage attempt failed",
			zap.String("run_id", in.RunID),
			zap.String("stage", string(stage.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if attempt < o.cfg.MaxAttempts {
			stage.Status = StageRetrying
			if err := ctl.sleep(ctx, o.backoff(attempt)); err != nil {
				stage.Status = StageCancelled
				return nil, err
			}
		}
	}

	stage.Status = StageFailed
	stage.CompletedAt = time.Now().UTC()
	span.SetStatus(codes.Error, "stage failed")
	o.report(Progress{RunID: in.RunID, Stage: stage.Kind, Status: StageFailed,
		Message: stage.Error, Percentage: pct})
	return nil, &StageError{Kind: stage.Kind, Attempts: stage.Attempts, Err: lastErr}
}

// evaluate runs the agent self-check and the registered gates.
func (o *Orchestrator) evaluate(ctx context.Context, agent AgentExecutor, res *AgentResult) QualityGateResult {
	kind := agent.Kind()
	checks := []QualityGateCheck{agent.SelfCheck(ctx, res)}
	var blockers []string

	o.mu.RLock()
	gates := append([]QualityGate(nil), o.gates[kind]...)
	o.mu.RUnlock()

	for _, g := range gates {
		c, err := g.Check(ctx, kind, res)
		if err != nil {
			blockers = append(blockers, fmt.Sprintf("%s: %v", g.Name(), err))
			GateFailures.WithLabelValues(string(kind), g.Name()).Inc()
			continue
		}
		if c.Name == "" {
			c.Name = g.Name()
		}
		if !c.Passed {
			GateFailures.WithLabelValues(string(kind), c.Name).Inc()
		}
		checks = append(checks, c)
	}
	return Aggregate(checks, blockers)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.cfg.BackoffBase * time.Duration(1<<attempt)
}

// between blocks while the run is paused and reports cancellation.
func (o *Orchestrator) between(ctx context.Context, ctl *runControl, runID string, next AgentKind, pct int) error {
	reported := false
	for {
		paused, resume, err := ctl.state(ctx)
		if err != nil {
			return err
		}
		if !paused {
			return nil
		}
		if !reported {
			o.report(Progress{RunID: runID, Stage: next, Status: StagePending,
				Message: "assembly line paused", Percentage: pct})
			o.logger.Info("assembly run paused", zap.String("run_id", runID), zap.String("next_stage", string(next)))
			reported = true
		}
		select {
		case <-resume:
		case <-ctl.cancelled:
		case <-ctx.Done():
		}
	}
}

func (o *Orchestrator) report(p Progress) {
	o.mu.RLock()
	fn := o.progress
	o.mu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// Cancel stops a run. The in-flight agent finishes and its result is discarded.
func (o *Orchestrator) Cancel(runID string) bool {
	ctl := o.lookup(runID)
	return ctl != nil && ctl.cancel()
}

// Pause holds a run before its next stage.
func (o *Orchestrator) Pause(runID string) bool {
	ctl := o.lookup(runID)
	return ctl != nil && ctl.pause()
}

// Resume releases a paused run.
func (o *Orchestrator) Resume(runID string) bool {
	ctl := o.lookup(runID)
	return ctl != nil && ctl.resume()
}

// Status reports whether runID is active and whether it is paused.
func (o *Orchestrator) Status(runID string) (RunStatus, bool) {
	ctl := o.lookup(runID)
	if ctl == nil {
		return "", false
	}
	if ctl.isPaused() {
		return RunPaused, true
	}
	return RunRunning, true
}

// Reserve registers runID ahead of Run so Cancel, Pause and Resume take
// effect even before the run starts. A cancelled reservation makes the
// following Run return ErrCancelled without invoking any agent. release drops
// the reservation if no Run claimed it and is safe to call more than once.
func (o *Orchestrator) Reserve(runID string) (release func(), err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runs[runID]; ok {
		return nil, ErrRunActive
	}
	ctl := newRunControl()
	ctl.reserved = true
	o.runs[runID] = ctl
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.runs[runID] == ctl && ctl.reserved {
			delete(o.runs, runID)
		}
	}, nil
}

func (o *Orchestrator) register(runID string) (*runControl, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctl, ok := o.runs[runID]; ok {
		if !ctl.reserved {
			return nil, ErrRunActive
		}
		ctl.reserved = false
		return ctl, nil
	}
	ctl := newRunControl()
	o.runs[runID] = ctl
	return ctl, nil
}

func (o *Orchestrator) unregister(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, runID)
}

func (o *Orchestrator) lookup(runID string) *runControl {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[runID]
}

func cancelRemaining(res *RunResult) {
	for i := range res.Stages {
		switch res.Stages[i].Status {
		case StagePending, StageRunning, StageRetrying:
			res.Stages[i].Status = StageCancelled
		}
	}
}
