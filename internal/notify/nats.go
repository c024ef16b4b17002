package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is the envelope published for every notification.
type Event struct {
	Kind     Kind            `json:"kind"`
	TenantID string          `json:"tenant_id"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload"`
}

// NATSSender publishes notifications as JSON events.
//
// Subjects have the form:
//
//	{prefix}.{tenant_id}.{kind}
//
// A downstream mailer subscribes with {prefix}.*.approval and so on.
type NATSSender struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

var _ Sender = (*NATSSender)(nil)

// NewNATSSender creates a sender publishing under prefix.
func NewNATSSender(nc *nats.Conn, prefix string) *NATSSender {
	if prefix == "" {
		prefix = "launchpad.notify"
	}
	return &NATSSender{nc: nc, prefix: strings.TrimSuffix(prefix, "."), now: time.Now}
}

// Subject returns the subject used for tenant and kind.
func (s *NATSSender) Subject(tenantID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, subjectToken(tenantID), kind)
}

func (s *NATSSender) SendApproval(ctx context.Context, n ApprovalNotice) error {
	return s.publish(ctx, KindApproval, n.TenantID, n)
}

func (s *NATSSender) SendReminder(ctx context.Context, n ReminderNotice) error {
	return s.publish(ctx, KindReminder, n.TenantID, n)
}

func (s *NATSSender) SendProgress(ctx context.Context, n ProgressNotice) error {
	return s.publish(ctx, KindProgress, n.TenantID, n)
}

func (s *NATSSender) SendDeploymentReady(ctx context.Context, n DeploymentNotice) error {
	return s.publish(ctx, KindDeploymentReady, n.TenantID, n)
}

func (s *NATSSender) publish(ctx context.Context, kind Kind, tenantID string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s notice: %w", kind, err)
	}
	data, err := json.Marshal(Event{
		Kind:     kind,
		TenantID: tenantID,
		SentAt:   s.now().UTC(),
		Payload:  body,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if err := s.nc.Publish(s.Subject(tenantID, kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	return nil
}

// subjectToken makes an opaque tenant id safe for use as one subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}
