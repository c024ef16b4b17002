// Package notify delivers founder-facing notifications.
//
// Delivery is best effort. Callers treat every Send method as fire and
// forget: a returned error is logged, never allowed to block the pipeline.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind names a notification type. It is also the last subject token on NATS.
type Kind string

const (
	KindApproval        Kind = "approval"
	KindReminder        Kind = "reminder"
	KindProgress        Kind = "progress"
	KindDeploymentReady Kind = "deployment_ready"
)

// ApprovalNotice asks a founder to review a workflow.
type ApprovalNotice struct {
	WorkflowID   string            `json:"workflow_id"`
	ExecutionID  string            `json:"execution_id,omitempty"`
	ProjectID    string            `json:"project_id"`
	TenantID     string            `json:"tenant_id"`
	ProjectName  string            `json:"project_name,omitempty"`
	FounderEmail string            `json:"founder_email"`
	ApprovalURL  string            `json:"approval_url"`
	Priority     string            `json:"priority"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Context      map[string]string `json:"context,omitempty"`
}

// ReminderNotice nudges a founder about a pending workflow.
type ReminderNotice struct {
	WorkflowID    string    `json:"workflow_id"`
	TenantID      string    `json:"tenant_id"`
	FounderEmail  string    `json:"founder_email"`
	ApprovalURL   string    `json:"approval_url"`
	ReminderCount int       `json:"reminder_count"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ProgressNotice reports a pipeline stage transition.
type ProgressNotice struct {
	ExecutionID     string  `json:"execution_id"`
	ProjectID       string  `json:"project_id"`
	TenantID        string  `json:"tenant_id"`
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	OverallProgress float64 `json:"overall_progress"`
	Message         string  `json:"message,omitempty"`
}

// DeploymentNotice announces a completed pipeline.
type DeploymentNotice struct {
	ExecutionID  string `json:"execution_id"`
	ProjectID    string `json:"project_id"`
	TenantID     string `json:"tenant_id"`
	ProjectName  string `json:"project_name,omitempty"`
	FounderEmail string `json:"founder_email"`
	Artifacts    int    `json:"artifacts"`
}

// Sender delivers notifications.
type Sender interface {
	SendApproval(ctx context.Context, n ApprovalNotice) error
	SendReminder(ctx context.Context, n ReminderNotice) error
	SendProgress(ctx context.Context, n ProgressNotice) error
	SendDeploymentReady(ctx context.Context, n DeploymentNotice) error
}

// Multi fans out to every sender and joins their errors.
type Multi []Sender

var _ Sender = Multi(nil)

func (m Multi) SendApproval(ctx context.Context, n ApprovalNotice) error {
	return m.each(func(s Sender) error { return s.SendApproval(ctx, n) })
}

func (m Multi) SendReminder(ctx context.Context, n ReminderNotice) error {
	return m.each(func(s Sender) error { return s.SendReminder(ctx, n) })
}

func (m Multi) SendProgress(ctx context.Context, n ProgressNotice) error {
	return m.each(func(s Sender) error { return s.SendProgress(ctx, n) })
}

func (m Multi) SendDeploymentReady(ctx context.Context, n DeploymentNotice) error {
	return m.each(func(s Sender) error { return s.SendDeploymentReady(ctx, n) })
}

func (m Multi) each(fn func(Sender) error) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
