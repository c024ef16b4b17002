package humangate

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/notify"
	"github.com/fyrsmithlabs/launchpad/internal/store"
	"github.com/fyrsmithlabs/launchpad/internal/token"
)

const instrumentationName = "github.com/fyrsmithlabs/launchpad/internal/humangate"

const defaultMetricsWindowDays = 30

// Tokens issues and validates approval tokens.
type Tokens interface {
	token.Issuer
	token.Validator
}

// Service manages approval workflows.
type Service interface {
	// CreateWorkflow opens a pending workflow and returns it with its token and URL.
	CreateWorkflow(ctx context.Context, req CreateRequest, tenantID string) (*Workflow, error)

	// Get returns the workflow if it belongs to tenantID.
	Get(ctx context.Context, id, tenantID string) (*Workflow, error)

	// List returns the tenant's workflows, newest first. An empty status matches all.
	List(ctx context.Context, tenantID string, status Status) ([]*Workflow, error)

	// GetByToken resolves an approval token. Invalid tokens and missing
	// workflows both yield ErrNotFound.
	GetByToken(ctx context.Context, token string) (*Workflow, error)

	// SubmitFeedback records a founder decision presented with a token.
	SubmitFeedback(ctx context.Context, token string, fb Feedback) (*Workflow, error)

	// RecordFeedback records a decision on a workflow by id.
	RecordFeedback(ctx context.Context, workflowID string, fb Feedback) (*Workflow, error)

	// SendReminder re-notifies the founder. Returns false unless the workflow is pending.
	SendReminder(ctx context.Context, id string) (bool, error)

	// CancelWorkflow cancels a pending workflow owned by tenantID.
	CancelWorkflow(ctx context.Context, id, tenantID string) (bool, error)

	// CleanupExpired expires every overdue pending workflow and returns the count.
	CleanupExpired(ctx context.Context) (int, error)

	// GetMetrics summarizes workflows created in the last windowDays days.
	GetMetrics(ctx context.Context, tenantID string, windowDays int) (*Metrics, error)
}

// Config configures the service.
type Config struct {
	// BaseURL prefixes approval links: {BaseURL}/{token}.
	BaseURL string

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type service struct {
	baseURL  string
	now      func() time.Time
	tokens   Tokens
	store    Store
	notifier notify.Sender
	logger   *zap.Logger
	locks    *store.KeyLock
	tracer   trace.Tracer
}

// NewService creates the HumanGate service. A nil notifier disables
// reminders; a nil logger discards logs.
func NewService(cfg *Config, tokens Tokens, st Store, notifier notify.Sender, logger *zap.Logger) (Service, error) {
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if st == nil {
		return nil, errors.New("workflow store is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		now:      now,
		tokens:   tokens,
		store:    st,
		notifier: notifier,
		logger:   logger,
		locks:    store.NewKeyLock(),
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

func (s *service) CreateWorkflow(ctx context.Context, req CreateRequest, tenantID string) (*Workflow, error) {
	const op = "create_workflow"
	ctx, span := s.tracer.Start(ctx, "humangate.create")
	defer span.End()

	if tenantID == "" {
		return nil, newError(op, KindInvalid, invalid("tenant id is required"))
	}
	if err := req.Validate(); err != nil {
		return nil, newError(op, KindInvalid, err)
	}

	window, _ := req.Priority.Window()
	// Token expiry has whole-second resolution.
	now := s.now().UTC().Truncate(time.Second)
	w := &Workflow{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		TenantID:     tenantID,
		Type:         req.Type,
		Status:       StatusPending,
		Priority:     req.Priority,
		Title:        req.Title,
		Description:  req.Description,
		Context:      req.Context,
		FounderEmail: req.FounderEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(window),
	}

	tok, err := s.tokens.Issue(w.ID, w.FounderEmail, w.ExpiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue token failed")
		return nil, newError(op, KindInternal, err)
	}
	w.ApprovalToken = tok
	w.ApprovalURL = s.baseURL + "/" + url.PathEscape(tok)

	if err := s.store.Put(ctx, w); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, newError(op, KindInternal, err)
	}

	WorkflowsCreated.WithLabelValues(string(w.Type), string(w.Priority)).Inc()
	span.SetAttributes(
		attribute.String("workflow.id", w.ID),
		attribute.String("workflow.priority", string(w.Priority)),
	)
	ctx = logging.WithTenantID(logging.WithWorkflowID(ctx, w.ID), tenantID)
	s.log(ctx).Info("approval workflow created",
		zap.String("project_id", w.ProjectID),
		zap.String("priority", string(w.Priority)),
		zap.Time("expires_at", w.ExpiresAt),
	)
	return w, nil
}

func (s *service) Get(ctx context.Context, id, tenantID string) (*Workflow, error) {
	const op = "get"
	w, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if w.TenantID != tenantID {
		return nil, newError(op, KindNotFound, ErrNotFound)
	}
	return s.expireIfDue(ctx, op, w)
}

func (s *service) List(ctx context.Context, tenantID string, status Status) ([]*Workflow, error) {
	const op = "list"
	if status != "" && !status.Valid() {
		return nil, newError(op, KindInvalid, invalid("unknown status %q", status))
	}

	ws, err := s.store.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}

	out := make([]*Workflow, 0, len(ws))
	for _, w := range ws {
		w, err := s.expireIfDue(ctx, op, w)
		if err != nil {
			return nil, err
		}
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *service) GetByToken(ctx context.Context, tok string) (*Workflow, error) {
	const op = "get_by_token"
	w, err := s.resolveToken(ctx, op, tok)
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, op, w)
}

func (s *service) SubmitFeedback(ctx context.Context, tok string, fb Feedback) (*Workflow, error) {
	const op = "submit_feedback"
	ctx, span := s.tracer.Start(ctx, "humangate.submit_feedback")
	defer span.End()

	if err := fb.Validate(); err != nil {
		return nil, newError(op, KindInvalid, err)
	}
	w, err := s.resolveToken(ctx, op, tok)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.id", w.ID))
	return s.record(ctx, op, w.ID, fb)
}

func (s *service) RecordFeedback(ctx context.Context, workflowID string, fb Feedback) (*Workflow, error) {
	const op = "record_feedback"
	if err := fb.Validate(); err != nil {
		return nil, newError(op, KindInvalid, err)
	}
	return s.record(ctx, op, workflowID, fb)
}

// record applies fb under the workflow lock, checking expiry first.
func (s *service) record(ctx context.Context, op, id string, fb Feedback) (*Workflow, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	w, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if w.expiredAt(now) {
		if err := s.markExpired(ctx, w, now); err != nil {
			return nil, newError(op, KindInternal, err)
		}
		return nil, newError(op, KindExpired, ErrExpired)
	}
	switch w.Status {
	case StatusPending:
	case StatusExpired:
		return nil, newError(op, KindExpired, ErrExpired)
	default:
		return nil, newError(op, KindNotPending, ErrNotPending)
	}

	w.Status = fb.Decision.Status()
	w.Decision = fb.Decision
	w.FounderFeedback = fb.Comments
	if fb.Decision == DecisionRequestRevision {
		w.RevisionRequests = append([]RevisionRequest(nil), fb.RevisionRequests...)
	}
	w.RespondedAt = &now
	hours := now.Sub(w.CreatedAt).Hours()
	w.ResponseTimeHours = &hours
	if fb.Decision == DecisionApprove {
		w.ApprovedAt = &now
	}
	w.UpdatedAt = now

	if err := s.store.Put(ctx, w); err != nil {
		return nil, newError(op, KindInternal, err)
	}

	WorkflowsResponded.WithLabelValues(string(fb.Decision)).Inc()
	ResponseHours.Observe(hours)
	s.log(logging.WithWorkflowID(ctx, w.ID)).Info("founder feedback recorded",
		zap.String("decision", string(fb.Decision)),
		zap.Int("revision_requests", len(w.RevisionRequests)),
		zap.Float64("response_time_hours", hours),
	)
	return w, nil
}

func (s *service) SendReminder(ctx context.Context, id string) (bool, error) {
	const op = "send_reminder"
	unlock := s.locks.Lock(id)

	w, err := s.load(ctx, op, id)
	if err != nil {
		unlock()
		return false, err
	}

	now := s.now().UTC()
	if w.expiredAt(now) {
		err := s.markExpired(ctx, w, now)
		unlock()
		if err != nil {
			return false, newError(op, KindInternal, err)
		}
		return false, nil
	}
	if w.Status != StatusPending {
		unlock()
		return false, nil
	}

	w.ReminderCount++
	w.LastReminderAt = &now
	w.UpdatedAt = now
	if err := s.store.Put(ctx, w); err != nil {
		unlock()
		return false, newError(op, KindInternal, err)
	}
	unlock()

	RemindersSent.Inc()
	if s.notifier != nil {
		err := s.notifier.SendReminder(ctx, notify.ReminderNotice{
			WorkflowID:    w.ID,
			TenantID:      w.TenantID,
			FounderEmail:  w.FounderEmail,
			ApprovalURL:   w.ApprovalURL,
			ReminderCount: w.ReminderCount,
			ExpiresAt:     w.ExpiresAt,
		})
		if err != nil {
			s.log(logging.WithWorkflowID(ctx, w.ID)).Warn("reminder delivery failed", zap.Error(err))
		}
	}
	return true, nil
}

func (s *service) CancelWorkflow(ctx context.Context, id, tenantID string) (bool, error) {
	const op = "cancel_workflow"
	unlock := s.locks.Lock(id)
	defer unlock()

	w, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, newError(op, KindInternal, err)
	}
	if w.TenantID != tenantID {
		return false, nil
	}

	now := s.now().UTC()
	if w.expiredAt(now) {
		if err := s.markExpired(ctx, w, now); err != nil {
			return false, newError(op, KindInternal, err)
		}
		return false, nil
	}
	if w.Status != StatusPending {
		return false, nil
	}

	w.Status = StatusCancelled
	w.UpdatedAt = now
	if err := s.store.Put(ctx, w); err != nil {
		return false, newError(op, KindInternal, err)
	}
	s.log(logging.WithWorkflowID(ctx, id)).Info("approval workflow cancelled")
	return true, nil
}

func (s *service) CleanupExpired(ctx context.Context) (int, error) {
	const op = "cleanup_expired"
	ctx, span := s.tracer.Start(ctx, "humangate.cleanup_expired")
	defer span.End()

	all, err := s.store.All(ctx)
	if err != nil {
		return 0, newError(op, KindInternal, err)
	}

	count := 0
	for _, candidate := range all {
		if !candidate.expiredAt(s.now()) {
			continue
		}
		flipped, err := s.expireLocked(ctx, candidate.ID)
		if err != nil {
			span.RecordError(err)
			return count, newError(op, KindInternal, err)
		}
		if flipped {
			count++
		}
	}

	span.SetAttributes(attribute.Int("expired.count", count))
	if count > 0 {
		s.log(ctx).Info("expired approval workflows", zap.Int("count", count))
	}
	return count, nil
}

func (s *service) GetMetrics(ctx context.Context, tenantID string, windowDays int) (*Metrics, error) {
	const op = "get_metrics"
	if windowDays <= 0 {
		windowDays = defaultMetricsWindowDays
	}

	ws, err := s.store.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}

	now := s.now().UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	m := &Metrics{
		TenantID:   tenantID,
		WindowDays: windowDays,
		ByStatus:   make(map[Status]int),
	}

	var hours []float64
	for _, w := range ws {
		if w.CreatedAt.Before(since) {
			continue
		}
		status := w.Status
		if w.expiredAt(now) {
			status = StatusExpired
		}
		m.Total++
		m.ByStatus[status]++
		if w.RespondedAt != nil {
			m.Responded++
			if w.ResponseTimeHours != nil {
				hours = append(hours, *w.ResponseTimeHours)
			}
		}
	}

	if m.Total > 0 {
		m.ResponseRate = float64(m.Responded) / float64(m.Total)
	}
	if m.Responded > 0 {
		m.ApprovalRate = float64(m.ByStatus[StatusApproved]) / float64(m.Responded)
	}
	m.ResponseTime = summarize(hours)
	return m, nil
}

func summarize(hours []float64) ResponseTimeStats {
	if len(hours) == 0 {
		return ResponseTimeStats{}
	}
	sorted := append([]float64(nil), hours...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, h := range sorted {
		sum += h
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return ResponseTimeStats{
		Count:  n,
		Mean:   sum / float64(n),
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

func (s *service) load(ctx context.Context, op, id string) (*Workflow, error) {
	w, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(op, KindNotFound, ErrNotFound)
	}
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}
	return w, nil
}

// resolveToken maps a token to its workflow. Every failure is not_found.
func (s *service) resolveToken(ctx context.Context, op, tok string) (*Workflow, error) {
	notFound := newError(op, KindNotFound, ErrNotFound)

	sub, err := s.tokens.Validate(tok)
	if err != nil {
		return nil, notFound
	}
	w, err := s.store.ByToken(ctx, tok)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}
	if subtle.ConstantTimeCompare([]byte(w.ID), []byte(sub.WorkflowID)) != 1 {
		return nil, notFound
	}
	return w, nil
}

// expireIfDue flips an overdue pending workflow to expired and returns the
// current record.
func (s *service) expireIfDue(ctx context.Context, op string, w *Workflow) (*Workflow, error) {
	if !w.expiredAt(s.now()) {
		return w, nil
	}
	if _, err := s.expireLocked(ctx, w.ID); err != nil {
		return nil, newError(op, KindInternal, err)
	}
	return s.load(ctx, op, w.ID)
}

// expireLocked re-checks expiry under the workflow lock.
func (s *service) expireLocked(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	w, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	if !w.expiredAt(now) {
		return false, nil
	}
	return true, s.markExpired(ctx, w, now)
}

func (s *service) markExpired(ctx context.Context, w *Workflow, now time.Time) error {
	w.Status = StatusExpired
	w.UpdatedAt = now
	if err := s.store.Put(ctx, w); err != nil {
		return err
	}
	WorkflowsExpired.Inc()
	s.log(logging.WithWorkflowID(ctx, w.ID)).Info("approval workflow expired")
	return nil
}

// log returns the service logger carrying the correlation fields of ctx.
func (s *service) log(ctx context.Context) *zap.Logger {
	return s.logger.With(logging.ContextFields(ctx)...)
}
