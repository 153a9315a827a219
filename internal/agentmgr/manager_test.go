package agentmgr

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/auth"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/filelock"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/tmux"
)

const testAdminToken = "super-secret-admin-token"

// newTestManager wires a Manager against an in-memory store and a tmux
// adapter pointed at a binary that does not exist. bootstrapSession will
// fail, but Create's contract (spec §4.E) is to return the committed
// agent alongside that best-effort error, so every assertion below
// exercises the store-backed half of the lifecycle.
func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authSvc := auth.New(st, 16, testAdminToken)
	tmuxAdapter := tmux.New(tmux.Config{BinaryPath: "coordinator-test-nonexistent-tmux"}, logger.Default())
	locks := filelock.New(st, logger.Default())
	return New(st, authSvc, tmuxAdapter, locks, logger.Default()), st
}

func seedTask(t *testing.T, st *store.Store, taskID string) {
	t.Helper()
	now := time.Now().UTC()
	err := st.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return store.CreateTask(context.Background(), tx, &model.Task{
			TaskID:         taskID,
			Title:          "seed task",
			Status:         model.TaskStatusPending,
			Priority:       model.TaskPriorityMedium,
			ChildTasks:     []string{},
			DependsOnTasks: []string{},
			Notes:          []model.Note{},
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
	require.NoError(t, err)
}

// TestCreateAgent is scenario S1: create_agent mints a 32-hex-char
// token, assigns a non-negative color, and logs a created_agent action.
func TestCreateAgent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")

	agent, err := m.Create(ctx, CreateParams{
		AgentID:          "agent-a",
		TaskIDs:          []string{"task-1"},
		WorkingDirectory: "/repo",
		AdminToken:       testAdminToken,
	})
	// bootstrapSession fails because tmux isn't on PATH in this fixture;
	// Create still returns the committed agent (spec §4.E "create_agent
	// contract": store mutation and session setup are not one transaction).
	require.NotNil(t, agent)
	_ = err

	assert.Len(t, agent.Token, 32)
	assert.GreaterOrEqual(t, agent.Color, 0)
	assert.Equal(t, "task-1", agent.CurrentTask)

	actions, listErr := store.ListActions(ctx, st.Reader(), "agent-a", 10)
	require.NoError(t, listErr)
	require.Len(t, actions, 1)
	assert.Equal(t, "created_agent", actions[0].ActionType)

	task, getErr := store.GetTask(ctx, st.Reader(), "task-1")
	require.NoError(t, getErr)
	assert.Equal(t, "agent-a", task.AssignedTo)
}

func TestCreateAgentRejectsBadAdminToken(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")

	_, err := m.Create(ctx, CreateParams{
		AgentID:    "agent-a",
		TaskIDs:    []string{"task-1"},
		AdminToken: "wrong",
	})
	require.Error(t, err)
}

func TestCreateAgentRejectsDuplicateID(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")
	seedTask(t, st, "task-2")

	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})

	_, err := m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-2"}, AdminToken: testAdminToken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

// TestTerminateUnassignsTasks is scenario S4: terminating an agent
// unassigns its tasks back to pending and clears current_task.
func TestTerminateUnassignsTasks(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")

	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})

	agent, err := m.Terminate(ctx, "agent-a", testAdminToken)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusTerminated, agent.Status)
	assert.Empty(t, agent.CurrentTask)
	require.NotNil(t, agent.TerminatedAt)

	task, err := store.GetTask(ctx, st.Reader(), "task-1")
	require.NoError(t, err)
	assert.Empty(t, task.AssignedTo)
	assert.Equal(t, model.TaskStatusPending, task.Status)
}

func TestTerminateUnknownAgentFails(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Terminate(context.Background(), "ghost", testAdminToken)
	require.Error(t, err)
}

// TestRelaunchFromFailed is scenario S6: relaunching a failed agent
// flips it back to active and logs the previous status.
func TestRelaunchFromFailed(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")

	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})
	err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpdateAgentStatus(ctx, tx, "agent-a", model.AgentStatusFailed, nil)
	})
	require.NoError(t, err)

	agent, err := m.Relaunch(ctx, RelaunchParams{AgentID: "agent-a", AdminToken: testAdminToken})
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusActive, agent.Status)

	actions, err := store.ListActions(ctx, st.Reader(), "agent-a", 10)
	require.NoError(t, err)
	var found bool
	for _, a := range actions {
		if a.ActionType == "relaunch_agent" {
			found = true
			assert.Equal(t, "failed", a.Details["previous_status"])
		}
	}
	assert.True(t, found, "expected a relaunch_agent action to be logged")
}

// TestAuditRejectsBadAdminToken confirms Audit verifies the admin token
// before touching agent state: an active agent with no live session
// would otherwise be flipped to terminated by the reconciliation pass.
func TestAuditRejectsBadAdminToken(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")
	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})
	// bootstrapSession fails in this fixture, so mark the agent active by hand.
	require.NoError(t, st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpdateAgentStatus(ctx, tx, "agent-a", model.AgentStatusActive, nil)
	}))

	_, err := m.Audit(ctx, "wrong-token")
	require.Error(t, err)

	agent, getErr := store.GetAgentByID(ctx, st.Reader(), "agent-a")
	require.NoError(t, getErr)
	assert.Equal(t, model.AgentStatusActive, agent.Status, "a rejected admin token must not trigger any reconciliation")
}

// TestAuditRejectsEmptyAdminToken covers the no-token case the same way.
func TestAuditRejectsEmptyAdminToken(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Audit(context.Background(), "")
	require.Error(t, err)
}

// TestSmartAuditRejectsBadAdminToken confirms SmartAudit shares Audit's
// admin check rather than bypassing it.
func TestSmartAuditRejectsBadAdminToken(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")
	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})
	require.NoError(t, st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpdateAgentStatus(ctx, tx, "agent-a", model.AgentStatusActive, nil)
	}))

	_, err := m.SmartAudit(ctx, "wrong-token")
	require.Error(t, err)

	agent, getErr := store.GetAgentByID(ctx, st.Reader(), "agent-a")
	require.NoError(t, getErr)
	assert.Equal(t, model.AgentStatusActive, agent.Status)
}

func TestRelaunchRejectsActiveAgent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedTask(t, st, "task-1")

	_, _ = m.Create(ctx, CreateParams{AgentID: "agent-a", TaskIDs: []string{"task-1"}, AdminToken: testAdminToken})
	require.NoError(t, st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpdateAgentStatus(ctx, tx, "agent-a", model.AgentStatusActive, nil)
	}))

	_, err := m.Relaunch(ctx, RelaunchParams{AgentID: "agent-a", AdminToken: testAdminToken})
	require.Error(t, err, "an already-active agent is not in a dormant status")
}
