package messagebus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/tmux"
)

// stubResolver is a minimal SessionResolver for exercising Bus without a
// live tmux multiplexer.
type stubResolver struct {
	sessions map[string]string
	active   []string
	admin    bool
}

func (s *stubResolver) SessionNameFor(agentID string) (string, bool) {
	name, ok := s.sessions[agentID]
	return name, ok
}
func (s *stubResolver) ActiveAgentIDs() []string { return s.active }
func (s *stubResolver) SendToAdminSession(ctx context.Context, message, urgency string) bool {
	return s.admin
}

func newTestBus(t *testing.T, resolver SessionResolver) (*Bus, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tmuxAdapter := tmux.New(tmux.Config{BinaryPath: "coordinator-test-nonexistent-tmux"}, logger.Default())
	return New(st, tmuxAdapter, resolver, nil, logger.Default()), st
}

func TestSendRejectsEmptyContent(t *testing.T) {
	bus, _ := newTestBus(t, &stubResolver{})
	_, err := bus.Send(context.Background(), SendParams{SenderID: "agent-a", RecipientID: "admin"})
	require.Error(t, err)
}

func TestSendToAdminAlwaysAllowed(t *testing.T) {
	bus, st := newTestBus(t, &stubResolver{admin: true})
	ctx := context.Background()

	msg, err := bus.Send(ctx, SendParams{
		SenderID: "agent-a", RecipientID: "admin", Content: "status update", Delivery: DeliveryLive,
	})
	require.NoError(t, err)
	assert.True(t, msg.Delivered)

	inbox, err := store.InboxFor(ctx, st.Reader(), "admin", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "status update", inbox[0].Content)
}

func TestSendToUnknownRecipientFails(t *testing.T) {
	bus, _ := newTestBus(t, &stubResolver{})
	_, err := bus.Send(context.Background(), SendParams{
		SenderID: "agent-a", RecipientID: "agent-ghost", Content: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestStopCommandRequiresLiveSession(t *testing.T) {
	bus, _ := newTestBus(t, &stubResolver{})
	err := bus.StopCommand(context.Background(), "admin", "agent-a")
	require.Error(t, err)
}

func TestBroadcastSkipsFailuresAndReturnsDelivered(t *testing.T) {
	bus, _ := newTestBus(t, &stubResolver{active: []string{"agent-ghost"}})
	msgs, err := bus.Broadcast(context.Background(), "admin", "all hands", model.PriorityNormal)
	require.NoError(t, err)
	assert.Empty(t, msgs, "broadcast to a nonexistent agent should be skipped, not fatal")
}

func TestRequestAssistanceRecordsAction(t *testing.T) {
	bus, st := newTestBus(t, &stubResolver{admin: true})
	ctx := context.Background()

	msg, err := bus.RequestAssistance(ctx, AssistanceParams{
		AgentID: "agent-a", TaskID: "task-1", Description: "stuck on merge conflict", Urgency: "high", Blocking: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityUrgent, msg.Priority)

	actions, err := store.ListActions(ctx, st.Reader(), "agent-a", 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "request_assistance", actions[0].ActionType)
}
