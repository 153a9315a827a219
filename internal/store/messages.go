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

type messageRow struct {
	MessageID   string         `db:"message_id"`
	SenderID    string         `db:"sender_id"`
	RecipientID sql.NullString `db:"recipient_id"`
	Content     string         `db:"content"`
	MessageType string         `db:"message_type"`
	Priority    string         `db:"priority"`
	Timestamp   string         `db:"timestamp"`
	Delivered   bool           `db:"delivered"`
	Read        bool           `db:"read"`
}

func (r messageRow) toModel() (*model.AgentMessage, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode message timestamp: %w", err)
	}
	return &model.AgentMessage{
		MessageID:   r.MessageID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID.String,
		Content:     r.Content,
		MessageType: model.MessageType(r.MessageType),
		Priority:    model.MessagePriority(r.Priority),
		Timestamp:   ts,
		Delivered:   r.Delivered,
		Read:        r.Read,
	}, nil
}

// CreateMessage stores a message durably before any live-delivery attempt
// (spec §4.H: storage never depends on a connected recipient).
func CreateMessage(ctx context.Context, tx *sqlx.Tx, m *model.AgentMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agent_messages (message_id, sender_id, recipient_id, content,
		                             message_type, priority, timestamp, delivered, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.SenderID, nullableStr(m.RecipientID), m.Content,
		string(m.MessageType), string(m.Priority), m.Timestamp.Format(time.RFC3339Nano),
		m.Delivered, m.Read,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkDelivered flags a message as having been pushed over a live channel.
func MarkDelivered(ctx context.Context, tx *sqlx.Tx, messageID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agent_messages SET delivered = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("mark message delivered: %w", err)
	}
	return expectOneRow(res)
}

// MarkRead flags a message as read by its recipient.
func MarkRead(ctx context.Context, tx *sqlx.Tx, messageID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agent_messages SET read = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return expectOneRow(res)
}

// InboxFor returns messages addressed directly to agentID or broadcast
// (recipient_id IS NULL), newest first.
func InboxFor(ctx context.Context, db sqlx.QueryerContext, agentID string, unreadOnly bool) ([]*model.AgentMessage, error) {
	query := `SELECT * FROM agent_messages WHERE (recipient_id = ? OR recipient_id IS NULL)`
	args := []interface{}{agentID}
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY timestamp DESC`

	var rows []messageRow
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("inbox query: %w", err)
	}
	out := make([]*model.AgentMessage, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMessage looks up a single message by id.
func GetMessage(ctx context.Context, db sqlx.QueryerContext, messageID string) (*model.AgentMessage, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM agent_messages WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toModel()
}
