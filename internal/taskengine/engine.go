// Package taskengine owns the hierarchical, dependency-aware task graph
// (spec §4.F): creation, assignment, status transitions, notes, search,
// and the graph invariants (acyclic dependencies, consistent
// parent/child pairing, assign-only-if-unassigned).
package taskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

// Engine is the task graph's transactional façade over the store.
type Engine struct {
	store *store.Store
	log   *logger.Logger
}

// New builds an Engine.
func New(s *store.Store, log *logger.Logger) *Engine {
	return &Engine{store: s, log: log.WithFields()}
}

func newTaskID() string { return "task-" + uuid.NewString()[:8] }

// CreateParams describes a new task (spec §4.F "create").
type CreateParams struct {
	Title       string
	Description string
	CreatedBy   string
	Priority    model.TaskPriority
	ParentTask  string
	DependsOn   []string
	AssignTo    string // optional: self-assign or admin-assign at creation
}

// Create inserts a new task, optionally parented and/or pre-assigned. The
// parent (if any) must already exist and gains this task as a child;
// dependencies (if any) must not close a cycle.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.Task, error) {
	if p.Title == "" {
		return nil, apierr.Validation("title is required")
	}
	if p.Priority == "" {
		p.Priority = model.TaskPriorityMedium
	}
	if !validPriority(p.Priority) {
		return nil, apierr.Validation("invalid priority %q", p.Priority)
	}

	now := time.Now().UTC()
	t := &model.Task{
		TaskID:         newTaskID(),
		Title:          p.Title,
		Description:    p.Description,
		CreatedBy:      p.CreatedBy,
		Status:         model.TaskStatusPending,
		Priority:       p.Priority,
		ParentTask:     p.ParentTask,
		ChildTasks:     []string{},
		DependsOnTasks: append([]string{}, p.DependsOn...),
		Notes:          []model.Note{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.AssignTo != "" {
		t.AssignedTo = p.AssignTo
		t.Status = model.TaskStatusPending
	}

	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var parent *model.Task
		if t.ParentTask != "" {
			var err error
			parent, err = store.GetTask(ctx, tx, t.ParentTask)
			if err == store.ErrNotFound {
				return apierr.Invariant("parent task %q does not exist", t.ParentTask)
			}
			if err != nil {
				return apierr.Internal(err)
			}
		}
		for _, dep := range t.DependsOnTasks {
			if _, err := store.GetTask(ctx, tx, dep); err == store.ErrNotFound {
				return apierr.Invariant("dependency %q does not exist", dep)
			} else if err != nil {
				return apierr.Internal(err)
			}
		}
		if t.AssignedTo != "" {
			if _, err := store.GetAgentByID(ctx, tx, t.AssignedTo); err == store.ErrNotFound {
				return apierr.Invariant("agent %q does not exist", t.AssignedTo)
			} else if err != nil {
				return apierr.Internal(err)
			}
		}
		if err := store.CreateTask(ctx, tx, t); err != nil {
			return apierr.Internal(err)
		}
		if parent != nil {
			parent.ChildTasks = append(parent.ChildTasks, t.TaskID)
			if err := store.UpdateTask(ctx, tx, parent); err != nil {
				return apierr.Internal(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get looks up a task by id.
func (e *Engine) Get(ctx context.Context, taskID string) (*model.Task, error) {
	t, err := store.GetTask(ctx, e.store.Reader(), taskID)
	if err == store.ErrNotFound {
		return nil, apierr.Validation("task %q not found", taskID)
	}
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return t, nil
}

// ListParams filters List.
type ListParams struct {
	AssignedTo string
	Status     model.TaskStatus
	ParentTask string
}

// List returns tasks matching the given filters (spec §4.F "list").
func (e *Engine) List(ctx context.Context, p ListParams) ([]*model.Task, error) {
	tasks, err := store.ListTasks(ctx, e.store.Reader(), p.AssignedTo, p.Status)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if p.ParentTask == "" {
		return tasks, nil
	}
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.ParentTask == p.ParentTask {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search does a substring match over title/description (spec §4.F "search").
func (e *Engine) Search(ctx context.Context, query string) ([]*model.Task, error) {
	tasks, err := store.SearchTasks(ctx, e.store.Reader(), query)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return tasks, nil
}

// Assign assigns an unassigned task to an agent (spec §4.F "assign").
// Rejects assignment to a nonexistent agent and double assignment.
func (e *Engine) Assign(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	var out *model.Task
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := store.GetTask(ctx, tx, taskID)
		if err == store.ErrNotFound {
			return apierr.Validation("task %q not found", taskID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		if t.AssignedTo != "" {
			return apierr.Invariant("task %q is already assigned to %q", taskID, t.AssignedTo)
		}
		if _, err := store.GetAgentByID(ctx, tx, agentID); err == store.ErrNotFound {
			return apierr.Invariant("agent %q does not exist", agentID)
		} else if err != nil {
			return apierr.Internal(err)
		}
		t.AssignedTo = agentID
		if t.Status == model.TaskStatusPending {
			// stays pending until the agent picks it up via update_task_status
		}
		if err := store.UpdateTask(ctx, tx, t); err != nil {
			return apierr.Internal(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unassign clears a task's assignment and resets it to pending, used by
// the agent manager's terminate_agent path (spec §4.E, invariant #6).
func Unassign(ctx context.Context, tx *sqlx.Tx, taskID string) error {
	t, err := store.GetTask(ctx, tx, taskID)
	if err != nil {
		return err
	}
	t.AssignedTo = ""
	t.Status = model.TaskStatusPending
	return store.UpdateTask(ctx, tx, t)
}

var terminalFrom = map[model.TaskStatus]map[model.TaskStatus]bool{
	model.TaskStatusPending: {
		model.TaskStatusInProgress: true,
		model.TaskStatusCancelled:  true,
	},
	model.TaskStatusInProgress: {
		model.TaskStatusCompleted: true,
		model.TaskStatusFailed:    true,
		model.TaskStatusCancelled: true,
	},
}

// UpdateStatus transitions a task's status, enforcing spec §4.F's
// lifecycle: pending -> in_progress -> completed|failed|cancelled, with
// completed terminal. requesterID is the caller's agent_id, or "admin";
// a worker may only cancel a task it owns.
func (e *Engine) UpdateStatus(ctx context.Context, taskID, requesterID string, isAdmin bool, newStatus model.TaskStatus) (*model.Task, error) {
	if !validTaskStatus(newStatus) {
		return nil, apierr.Validation("invalid status %q", newStatus)
	}
	var out *model.Task
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := store.GetTask(ctx, tx, taskID)
		if err == store.ErrNotFound {
			return apierr.Validation("task %q not found", taskID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		if t.Status == model.TaskStatusCompleted {
			return apierr.Invariant("task %q is completed and cannot be updated further", taskID)
		}
		if !isAdmin && t.AssignedTo != requesterID {
			return apierr.Authorization("only the owning agent or admin may update task %q", taskID)
		}
		if t.Status != newStatus && !terminalFrom[t.Status][newStatus] {
			return apierr.Invariant("cannot transition task %q from %q to %q", taskID, t.Status, newStatus)
		}
		t.Status = newStatus
		if err := store.UpdateTask(ctx, tx, t); err != nil {
			return apierr.Internal(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendNote appends an opaque note to a task's append-only notes list
// (SPEC_FULL open question 2: appends preserved in order, shape is ours).
func (e *Engine) AppendNote(ctx context.Context, taskID, author, body string) (*model.Task, error) {
	var out *model.Task
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := store.GetTask(ctx, tx, taskID)
		if err == store.ErrNotFound {
			return apierr.Validation("task %q not found", taskID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		t.Notes = append(t.Notes, model.Note{
			NoteID:    uuid.NewString(),
			Author:    author,
			Body:      body,
			CreatedAt: time.Now().UTC(),
		})
		if err := store.UpdateTask(ctx, tx, t); err != nil {
			return apierr.Internal(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddDependency adds dep as a dependency of taskID, rejecting any edge
// that would close a cycle in the depends_on_tasks graph (spec §4.F).
func (e *Engine) AddDependency(ctx context.Context, taskID, dep string) (*model.Task, error) {
	var out *model.Task
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := store.GetTask(ctx, tx, taskID)
		if err == store.ErrNotFound {
			return apierr.Validation("task %q not found", taskID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		if _, err := store.GetTask(ctx, tx, dep); err == store.ErrNotFound {
			return apierr.Validation("dependency task %q not found", dep)
		} else if err != nil {
			return apierr.Internal(err)
		}
		wouldCycle, err := closesCycle(ctx, tx, taskID, dep)
		if err != nil {
			return apierr.Internal(err)
		}
		if wouldCycle {
			return apierr.Invariant("adding dependency %q to %q would close a cycle", dep, taskID)
		}
		for _, existing := range t.DependsOnTasks {
			if existing == dep {
				return nil // already present, idempotent
			}
		}
		t.DependsOnTasks = append(t.DependsOnTasks, dep)
		if err := store.UpdateTask(ctx, tx, t); err != nil {
			return apierr.Internal(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out, err = e.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// closesCycle reports whether adding the edge taskID -> dep would create
// a cycle, via DFS over the existing depends_on_tasks graph starting at
// dep looking for a path back to taskID (spec §4.F invariant).
func closesCycle(ctx context.Context, tx *sqlx.Tx, taskID, dep string) (bool, error) {
	if taskID == dep {
		return true, nil
	}
	visited := map[string]bool{}
	stack := []string{dep}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		t, err := store.GetTask(ctx, tx, cur)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		stack = append(stack, t.DependsOnTasks...)
	}
	return false, nil
}

// Delete permanently removes a task; gated to admin by the dispatcher
// (spec §4.F: "never physically deleted by normal flow").
func (e *Engine) Delete(ctx context.Context, taskID string) error {
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		t, err := store.GetTask(ctx, tx, taskID)
		if err == store.ErrNotFound {
			return apierr.Validation("task %q not found", taskID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		if t.ParentTask != "" {
			parent, err := store.GetTask(ctx, tx, t.ParentTask)
			if err == nil {
				parent.ChildTasks = removeString(parent.ChildTasks, taskID)
				if err := store.UpdateTask(ctx, tx, parent); err != nil {
					return apierr.Internal(err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
			return apierr.Internal(fmt.Errorf("delete task: %w", err))
		}
		return nil
	})
	return err
}

func removeString(ss []string, target string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func validPriority(p model.TaskPriority) bool {
	switch p {
	case model.TaskPriorityLow, model.TaskPriorityMedium, model.TaskPriorityHigh:
		return true
	}
	return false
}

func validTaskStatus(s model.TaskStatus) bool {
	switch s {
	case model.TaskStatusPending, model.TaskStatusInProgress, model.TaskStatusCompleted,
		model.TaskStatusCancelled, model.TaskStatusFailed:
		return true
	}
	return false
}
