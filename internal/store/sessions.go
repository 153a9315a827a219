package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/model"
)

type sessionRow struct {
	SessionID          string         `db:"session_id"`
	TransportState     string         `db:"transport_state"`
	ConversationState  sql.NullString `db:"conversation_state"`
	Status             string         `db:"status"`
	LastHeartbeat      string         `db:"last_heartbeat"`
	DisconnectedAt     sql.NullString `db:"disconnected_at"`
	GracePeriodExpires sql.NullString `db:"grace_period_expires"`
	RecoveryAttempts   int            `db:"recovery_attempts"`
}

func (r sessionRow) toModel() (*model.SessionState, error) {
	heartbeat, err := time.Parse(time.RFC3339Nano, r.LastHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("decode last_heartbeat: %w", err)
	}
	s := &model.SessionState{
		SessionID:         r.SessionID,
		TransportState:    r.TransportState,
		ConversationState: r.ConversationState.String,
		Status:            model.SessionStatus(r.Status),
		LastHeartbeat:     heartbeat,
		RecoveryAttempts:  r.RecoveryAttempts,
	}
	if r.DisconnectedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.DisconnectedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode disconnected_at: %w", err)
		}
		s.DisconnectedAt = &t
	}
	if r.GracePeriodExpires.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.GracePeriodExpires.String)
		if err != nil {
			return nil, fmt.Errorf("decode grace_period_expires: %w", err)
		}
		s.GracePeriodExpires = &t
	}
	return s, nil
}

// UpsertSession creates or replaces a session's persisted state.
func UpsertSession(ctx context.Context, tx *sqlx.Tx, s *model.SessionState) error {
	var disconnected, graceExpires interface{}
	if s.DisconnectedAt != nil {
		disconnected = s.DisconnectedAt.Format(time.RFC3339Nano)
	}
	if s.GracePeriodExpires != nil {
		graceExpires = s.GracePeriodExpires.Format(time.RFC3339Nano)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_state (session_id, transport_state, conversation_state, status,
		                            last_heartbeat, disconnected_at, grace_period_expires, recovery_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			transport_state = excluded.transport_state,
			conversation_state = excluded.conversation_state,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			disconnected_at = excluded.disconnected_at,
			grace_period_expires = excluded.grace_period_expires,
			recovery_attempts = excluded.recovery_attempts`,
		s.SessionID, s.TransportState, nullableStr(s.ConversationState), string(s.Status),
		s.LastHeartbeat.Format(time.RFC3339Nano), disconnected, graceExpires, s.RecoveryAttempts,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession looks up a session by id.
func GetSession(ctx context.Context, db sqlx.QueryerContext, sessionID string) (*model.SessionState, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM session_state WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toModel()
}

// ListExpiredGracePeriods returns sessions whose grace period has elapsed
// while still disconnected, for the reaper loop to finalize as terminated.
func ListExpiredGracePeriods(ctx context.Context, db sqlx.QueryerContext, asOf time.Time) ([]*model.SessionState, error) {
	var rows []sessionRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT * FROM session_state
		WHERE status = 'disconnected' AND grace_period_expires IS NOT NULL AND grace_period_expires <= ?`,
		asOf.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("list expired grace periods: %w", err)
	}
	out := make([]*model.SessionState, 0, len(rows))
	for _, r := range rows {
		s, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DeleteSession removes a session's persisted state entirely.
func DeleteSession(ctx context.Context, tx *sqlx.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM session_state WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectOneRow(res)
}
