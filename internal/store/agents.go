package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

type agentRow struct {
	Token             string         `db:"token"`
	AgentID           string         `db:"agent_id"`
	Capabilities      string         `db:"capabilities"`
	Status            string         `db:"status"`
	CurrentTask       sql.NullString `db:"current_task"`
	WorkingDirectory  sql.NullString `db:"working_directory"`
	Color             int            `db:"color"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
	TerminatedAt      sql.NullString `db:"terminated_at"`
}

func (r agentRow) toModel() (*model.Agent, error) {
	var caps []string
	if err := json.Unmarshal([]byte(r.Capabilities), &caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	a := &model.Agent{
		Token:            r.Token,
		AgentID:          r.AgentID,
		Capabilities:     caps,
		Status:           model.AgentStatus(r.Status),
		CurrentTask:      r.CurrentTask.String,
		WorkingDirectory: r.WorkingDirectory.String,
		Color:            r.Color,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if r.TerminatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.TerminatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode terminated_at: %w", err)
		}
		a.TerminatedAt = &t
	}
	return a, nil
}

// CreateAgent inserts a new agent row. Callers hold tx from WithTx.
func CreateAgent(ctx context.Context, tx *sqlx.Tx, a *model.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return apierr.Internal(err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (token, agent_id, capabilities, status, current_task,
		                     working_directory, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Token, a.AgentID, string(caps), string(a.Status), nullableStr(a.CurrentTask),
		nullableStr(a.WorkingDirectory), a.Color,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgentByToken looks up an agent by its bearer token.
func GetAgentByToken(ctx context.Context, db sqlx.QueryerContext, token string) (*model.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM agents WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by token: %w", err)
	}
	return row.toModel()
}

// GetAgentByID looks up an agent by its public agent_id.
func GetAgentByID(ctx context.Context, db sqlx.QueryerContext, agentID string) (*model.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM agents WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by id: %w", err)
	}
	return row.toModel()
}

// ListAgents returns every agent, optionally filtered by status.
func ListAgents(ctx context.Context, db sqlx.QueryerContext, status model.AgentStatus) ([]*model.Agent, error) {
	var rows []agentRow
	var err error
	if status == "" {
		err = sqlx.SelectContext(ctx, db, &rows, `SELECT * FROM agents ORDER BY created_at`)
	} else {
		err = sqlx.SelectContext(ctx, db, &rows, `SELECT * FROM agents WHERE status = ? ORDER BY created_at`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]*model.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateAgentStatus transitions an agent's status and bumps updated_at.
func UpdateAgentStatus(ctx context.Context, tx *sqlx.Tx, agentID string, status model.AgentStatus, terminatedAt *time.Time) error {
	var terminated interface{}
	if terminatedAt != nil {
		terminated = terminatedAt.Format(time.RFC3339Nano)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET status = ?, updated_at = ?, terminated_at = COALESCE(?, terminated_at)
		WHERE agent_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), terminated, agentID,
	)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return expectOneRow(res)
}

// UpdateAgentCurrentTask sets or clears the agent's current task assignment.
func UpdateAgentCurrentTask(ctx context.Context, tx *sqlx.Tx, agentID, taskID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET current_task = ?, updated_at = ? WHERE agent_id = ?`,
		nullableStr(taskID), time.Now().UTC().Format(time.RFC3339Nano), agentID,
	)
	if err != nil {
		return fmt.Errorf("update agent current task: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
