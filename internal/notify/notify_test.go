package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSSender_PublishesEnvelope(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sender := NewNATSSender(nc, "lp.test")
	sub, err := nc.SubscribeSync("lp.test.*.approval")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	notice := ApprovalNotice{
		WorkflowID:   "wf-1",
		ProjectID:    "p-1",
		TenantID:     "acme",
		FounderEmail: "f@example.com",
		ApprovalURL:  "https://lp/approve/abc",
		Priority:     "urgent",
	}
	require.NoError(t, sender.SendApproval(context.Background(), notice))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "lp.test.acme.approval", msg.Subject)

	var evt Event
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, KindApproval, evt.Kind)
	assert.Equal(t, "acme", evt.TenantID)

	var got ApprovalNotice
	require.NoError(t, json.Unmarshal(evt.Payload, &got))
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "urgent", got.Priority)
}

func TestNATSSender_AllKinds(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sender := NewNATSSender(nc, "")
	sub, err := nc.SubscribeSync("launchpad.notify.t1.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	require.NoError(t, sender.SendReminder(ctx, ReminderNotice{WorkflowID: "wf", TenantID: "t1"}))
	require.NoError(t, sender.SendProgress(ctx, ProgressNotice{ExecutionID: "e", TenantID: "t1"}))
	require.NoError(t, sender.SendDeploymentReady(ctx, DeploymentNotice{ExecutionID: "e", TenantID: "t1"}))

	var subjects []string
	for i := 0; i < 3; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject)
	}
	assert.Equal(t, []string{
		"launchpad.notify.t1.reminder",
		"launchpad.notify.t1.progress",
		"launchpad.notify.t1.deployment_ready",
	}, subjects)
}

func TestNATSSender_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	err = NewNATSSender(nc, "lp").SendProgress(context.Background(), ProgressNotice{TenantID: "t"})
	assert.Error(t, err)
}

func TestSubjectToken(t *testing.T) {
	s := NewNATSSender(nil, "lp.")
	assert.Equal(t, "lp.a_b_c.progress", s.Subject("a.b*c", KindProgress))
	assert.Equal(t, "lp._.approval", s.Subject("", KindApproval))
	assert.Equal(t, "lp.x__.reminder", s.Subject("x >", KindReminder))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendApproval(ctx context.Context, n ApprovalNotice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockSender) SendReminder(ctx context.Context, n ReminderNotice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockSender) SendProgress(ctx context.Context, n ProgressNotice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockSender) SendDeploymentReady(ctx context.Context, n DeploymentNotice) error {
	return m.Called(ctx, n).Error(0)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("smtp down")
	a, b := &mockSender{}, &mockSender{}
	n := ReminderNotice{WorkflowID: "wf"}
	a.On("SendReminder", mock.Anything, n).Return(boom)
	b.On("SendReminder", mock.Anything, n).Return(nil)

	err := Multi{a, nil, b}.SendReminder(context.Background(), n)
	assert.ErrorIs(t, err, boom)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSender(zap.New(core))
	ctx := context.Background()

	require.NoError(t, s.SendApproval(ctx, ApprovalNotice{WorkflowID: "wf-1", ApprovalURL: "u"}))
	require.NoError(t, s.SendReminder(ctx, ReminderNotice{WorkflowID: "wf-1", ReminderCount: 2}))
	require.NoError(t, s.SendProgress(ctx, ProgressNotice{ExecutionID: "e"}))
	require.NoError(t, s.SendDeploymentReady(ctx, DeploymentNotice{ExecutionID: "e"}))

	assert.Equal(t, 1, logs.FilterMessage("approval requested").Len())
	assert.Equal(t, 1, logs.FilterMessage("approval reminder").Len())
	assert.Equal(t, 1, logs.FilterMessage("pipeline progress").Len())
	assert.Equal(t, 1, logs.FilterMessage("deployment ready").Len())

	assert.NoError(t, NewLogSender(nil).SendProgress(ctx, ProgressNotice{}))
}
