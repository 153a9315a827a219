package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/model"
)

type actionRow struct {
	ID         int64          `db:"id"`
	AgentID    string         `db:"agent_id"`
	ActionType string         `db:"action_type"`
	TaskID     sql.NullString `db:"task_id"`
	Timestamp  string         `db:"timestamp"`
	Details    string         `db:"details"`
}

func (r actionRow) toModel() (*model.AgentAction, error) {
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
		return nil, fmt.Errorf("decode action details: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode action timestamp: %w", err)
	}
	return &model.AgentAction{
		ID:         r.ID,
		AgentID:    r.AgentID,
		ActionType: r.ActionType,
		TaskID:     r.TaskID.String,
		Timestamp:  ts,
		Details:    details,
	}, nil
}

// RecordAction appends an immutable audit-log row. Every lifecycle,
// task, lock, and message mutation writes one of these in the same
// transaction as the mutation itself (spec §4.E's audit trail). The
// generated row id is written back into a.ID.
func RecordAction(ctx context.Context, tx *sqlx.Tx, a *model.AgentAction) error {
	details := a.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode action details: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO agent_actions (agent_id, action_type, task_id, timestamp, details)
		VALUES (?, ?, ?, ?, ?)`,
		a.AgentID, a.ActionType, nullableStr(a.TaskID), a.Timestamp.Format(time.RFC3339Nano), string(b),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read action id: %w", err)
	}
	a.ID = id
	return nil
}

// ListActions returns an agent's action history, most recent first.
func ListActions(ctx context.Context, db sqlx.QueryerContext, agentID string, limit int) ([]*model.AgentAction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []actionRow
	if err := sqlx.SelectContext(ctx, db, &rows,
		`SELECT * FROM agent_actions WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`,
		agentID, limit); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	out := make([]*model.AgentAction, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
