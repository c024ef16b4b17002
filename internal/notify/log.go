package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log. Approval links are logged under
// the approval_url key, which the launchpad encoder redacts.
type LogSender struct {
	logger *zap.Logger
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a LogSender. A nil logger discards everything.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("notify")}
}

func (s *LogSender) SendApproval(_ context.Context, n ApprovalNotice) error {
	s.logger.Info("approval requested",
		zap.String("workflow_id", n.WorkflowID),
		zap.String("project_id", n.ProjectID),
		zap.String("tenant_id", n.TenantID),
		zap.String("priority", n.Priority),
		zap.Time("expires_at", n.ExpiresAt),
		zap.String("approval_url", n.ApprovalURL),
	)
	return nil
}

func (s *LogSender) SendReminder(_ context.Context, n ReminderNotice) error {
	s.logger.Info("approval reminder",
		zap.String("workflow_id", n.WorkflowID),
		zap.String("tenant_id", n.TenantID),
		zap.Int("reminder_count", n.ReminderCount),
		zap.String("approval_url", n.ApprovalURL),
	)
	return nil
}

func (s *LogSender) SendProgress(_ context.Context, n ProgressNotice) error {
	s.logger.Debug("pipeline progress",
		zap.String("execution_id", n.ExecutionID),
		zap.String("stage", n.Stage),
		zap.String("status", n.Status),
		zap.Float64("overall_progress", n.OverallProgress),
	)
	return nil
}

func (s *LogSender) SendDeploymentReady(_ context.Context, n DeploymentNotice) error {
	s.logger.Info("deployment ready",
		zap.String("execution_id", n.ExecutionID),
		zap.String("project_id", n.ProjectID),
		zap.Int("artifacts", n.Artifacts),
	)
	return nil
}
