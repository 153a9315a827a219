package taskengine

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, logger.Default()), st
}

func seedAgent(t *testing.T, st *store.Store, agentID string) {
	t.Helper()
	now := time.Now().UTC()
	err := st.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return store.CreateAgent(context.Background(), tx, &model.Agent{
			Token:     agentID + "-token",
			AgentID:   agentID,
			Status:    model.AgentStatusActive,
			Color:     0,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func TestCreateRequiresTitle(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), CreateParams{})
	require.Error(t, err)
}

func TestCreateDefaultsPriorityAndStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	task, err := e.Create(context.Background(), CreateParams{Title: "write docs", CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, model.TaskPriorityMedium, task.Priority)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Empty(t, task.AssignedTo)
}

// TestAssignDoubleAssignFails is scenario S2: a second assignment onto an
// already-assigned task fails with an error naming the current assignee.
func TestAssignDoubleAssignFails(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-a")
	seedAgent(t, st, "agent-b")

	task, err := e.Create(ctx, CreateParams{Title: "ship release", CreatedBy: "admin"})
	require.NoError(t, err)

	_, err = e.Assign(ctx, task.TaskID, "agent-a")
	require.NoError(t, err)

	_, err = e.Assign(ctx, task.TaskID, "agent-b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already assigned")
}

func TestAssignRejectsUnknownAgent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	task, err := e.Create(ctx, CreateParams{Title: "ship release", CreatedBy: "admin"})
	require.NoError(t, err)

	_, err = e.Assign(ctx, task.TaskID, "ghost-agent")
	require.Error(t, err)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-a")

	task, err := e.Create(ctx, CreateParams{Title: "fix bug", CreatedBy: "admin", AssignTo: "agent-a"})
	require.NoError(t, err)

	updated, err := e.UpdateStatus(ctx, task.TaskID, "agent-a", false, model.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInProgress, updated.Status)

	updated, err = e.UpdateStatus(ctx, task.TaskID, "agent-a", false, model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, updated.Status)

	_, err = e.UpdateStatus(ctx, task.TaskID, "agent-a", false, model.TaskStatusInProgress)
	require.Error(t, err, "completed tasks are terminal")
}

func TestUpdateStatusRejectsNonOwner(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-a")
	seedAgent(t, st, "agent-b")

	task, err := e.Create(ctx, CreateParams{Title: "fix bug", CreatedBy: "admin", AssignTo: "agent-a"})
	require.NoError(t, err)

	_, err = e.UpdateStatus(ctx, task.TaskID, "agent-b", false, model.TaskStatusInProgress)
	require.Error(t, err)

	_, err = e.UpdateStatus(ctx, task.TaskID, "admin", true, model.TaskStatusInProgress)
	require.NoError(t, err, "admin may update any task")
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-a")

	task, err := e.Create(ctx, CreateParams{Title: "fix bug", CreatedBy: "admin", AssignTo: "agent-a"})
	require.NoError(t, err)

	_, err = e.UpdateStatus(ctx, task.TaskID, "agent-a", false, model.TaskStatusCompleted)
	require.Error(t, err, "pending cannot jump straight to completed")
}

func TestListFiltersByParent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	parent, err := e.Create(ctx, CreateParams{Title: "epic", CreatedBy: "admin"})
	require.NoError(t, err)
	child, err := e.Create(ctx, CreateParams{Title: "subtask", CreatedBy: "admin", ParentTask: parent.TaskID})
	require.NoError(t, err)

	tasks, err := e.List(ctx, ListParams{ParentTask: parent.TaskID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, child.TaskID, tasks[0].TaskID)
}
