package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/model"
)

type taskRow struct {
	TaskID         string         `db:"task_id"`
	Title          string         `db:"title"`
	Description    sql.NullString `db:"description"`
	AssignedTo     sql.NullString `db:"assigned_to"`
	CreatedBy      string         `db:"created_by"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	ParentTask     sql.NullString `db:"parent_task"`
	ChildTasks     string         `db:"child_tasks"`
	DependsOnTasks string         `db:"depends_on_tasks"`
	Notes          string         `db:"notes"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r taskRow) toModel() (*model.Task, error) {
	var children, deps []string
	var notes []model.Note
	if err := json.Unmarshal([]byte(r.ChildTasks), &children); err != nil {
		return nil, fmt.Errorf("decode child_tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(r.DependsOnTasks), &deps); err != nil {
		return nil, fmt.Errorf("decode depends_on_tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Notes), &notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &model.Task{
		TaskID:         r.TaskID,
		Title:          r.Title,
		Description:    r.Description.String,
		AssignedTo:     r.AssignedTo.String,
		CreatedBy:      r.CreatedBy,
		Status:         model.TaskStatus(r.Status),
		Priority:       model.TaskPriority(r.Priority),
		ParentTask:     r.ParentTask.String,
		ChildTasks:     children,
		DependsOnTasks: deps,
		Notes:          notes,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// CreateTask inserts a new task row.
func CreateTask(ctx context.Context, tx *sqlx.Tx, t *model.Task) error {
	children, err := marshalOrEmpty(t.ChildTasks)
	if err != nil {
		return err
	}
	deps, err := marshalOrEmpty(t.DependsOnTasks)
	if err != nil {
		return err
	}
	notes, err := marshalOrEmpty(t.Notes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, title, description, assigned_to, created_by, status,
		                    priority, parent_task, child_tasks, depends_on_tasks, notes,
		                    created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Title, nullableStr(t.Description), nullableStr(t.AssignedTo), t.CreatedBy,
		string(t.Status), string(t.Priority), nullableStr(t.ParentTask), children, deps, notes,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask looks up a task by id.
func GetTask(ctx context.Context, db sqlx.QueryerContext, taskID string) (*model.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM tasks WHERE task_id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return row.toModel()
}

// ListTasks returns every task, optionally filtered by assignee and/or status.
func ListTasks(ctx context.Context, db sqlx.QueryerContext, assignedTo string, status model.TaskStatus) ([]*model.Task, error) {
	query := `SELECT * FROM tasks WHERE 1=1`
	var args []interface{}
	if assignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, assignedTo)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	var rows []taskRow
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*model.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SearchTasks does a naive substring match over title/description, the
// way the teacher's task repository does before reaching for FTS.
func SearchTasks(ctx context.Context, db sqlx.QueryerContext, query string) ([]*model.Task, error) {
	var rows []taskRow
	like := "%" + query + "%"
	if err := sqlx.SelectContext(ctx, db, &rows,
		`SELECT * FROM tasks WHERE title LIKE ? OR description LIKE ? ORDER BY created_at`,
		like, like); err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	out := make([]*model.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateTask persists a full task row (status/priority/assignment/graph
// fields/notes), bumping updated_at. Callers are expected to have already
// validated invariants (cycle-freedom, parent/child consistency).
func UpdateTask(ctx context.Context, tx *sqlx.Tx, t *model.Task) error {
	children, err := marshalOrEmpty(t.ChildTasks)
	if err != nil {
		return err
	}
	deps, err := marshalOrEmpty(t.DependsOnTasks)
	if err != nil {
		return err
	}
	notes, err := marshalOrEmpty(t.Notes)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, assigned_to = ?, status = ?, priority = ?,
		                 parent_task = ?, child_tasks = ?, depends_on_tasks = ?, notes = ?, updated_at = ?
		WHERE task_id = ?`,
		t.Title, nullableStr(t.Description), nullableStr(t.AssignedTo), string(t.Status), string(t.Priority),
		nullableStr(t.ParentTask), children, deps, notes, t.UpdatedAt.Format(time.RFC3339Nano), t.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(res)
}

func marshalOrEmpty(v interface{}) (string, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			val = []string{}
		}
		b, err := json.Marshal(val)
		return string(b), err
	case []model.Note:
		if val == nil {
			val = []model.Note{}
		}
		b, err := json.Marshal(val)
		return string(b), err
	default:
		b, err := json.Marshal(v)
		return string(b), err
	}
}
