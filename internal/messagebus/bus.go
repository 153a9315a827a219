// Package messagebus routes direct, broadcast, and assistance-request
// messages between agents and the operator (spec §4.H): every message
// is stored durably first, then a best-effort live delivery is attempted
// through the multiplexer adapter.
package messagebus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/eventbus"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/tmux"
)

// SessionResolver is the slice of the agent manager the message bus
// needs: mapping an agent_id to its live tmux session name, and finding
// the session attached to the operator's own console (spec §9 open
// question: send_to_admin_session).
type SessionResolver interface {
	SessionNameFor(agentID string) (string, bool)
	ActiveAgentIDs() []string
	SendToAdminSession(ctx context.Context, message string, urgency string) bool
}

// DeliveryMode selects whether Send attempts a live push in addition to
// durable storage (spec §4.H "delivery" parameter).
type DeliveryMode string

const (
	DeliveryStoreOnly DeliveryMode = "store_only"
	DeliveryLive      DeliveryMode = "live"
)

// Bus is the message routing façade over the store and the multiplexer.
type Bus struct {
	store     *store.Store
	tmux      *tmux.Adapter
	sessions  SessionResolver
	events    eventbus.Bus
	log       *logger.Logger
}

// New builds a Bus.
func New(s *store.Store, adapter *tmux.Adapter, sessions SessionResolver, events eventbus.Bus, log *logger.Logger) *Bus {
	return &Bus{store: s, tmux: adapter, sessions: sessions, events: events, log: log.WithFields()}
}

// SendParams describes one message (spec §6 send_agent_message).
type SendParams struct {
	SenderID    string
	RecipientID string // agent_id or "admin"
	Content     string
	Type        model.MessageType
	Priority    model.MessagePriority
	Delivery    DeliveryMode
}

// Send stores the message, then attempts live delivery if requested
// (spec §4.H). The stored row's delivered flag reflects whether the
// live attempt (if any) succeeded; storage itself never fails because
// of a disconnected recipient.
func (b *Bus) Send(ctx context.Context, p SendParams) (*model.AgentMessage, error) {
	if p.Content == "" {
		return nil, apierr.Validation("message content is required")
	}
	if p.Type == "" {
		p.Type = model.MessageTypeText
	}
	if p.Priority == "" {
		p.Priority = model.PriorityNormal
	}
	if p.RecipientID != "admin" {
		if _, err := store.GetAgentByID(ctx, b.store.Reader(), p.RecipientID); err == store.ErrNotFound {
			return nil, apierr.Invariant("recipient %q does not exist", p.RecipientID)
		} else if err != nil {
			return nil, apierr.Internal(err)
		}
	}

	msg := &model.AgentMessage{
		MessageID:   uuid.NewString(),
		SenderID:    p.SenderID,
		RecipientID: p.RecipientID,
		Content:     p.Content,
		MessageType: p.Type,
		Priority:    p.Priority,
		Timestamp:   time.Now().UTC(),
	}

	if err := b.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateMessage(ctx, tx, msg); err != nil {
			return apierr.Internal(err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if b.events != nil {
		_ = b.events.Publish(ctx, eventbus.SubjectAgentMessage, eventbus.NewEvent("agent_message", p.SenderID, map[string]interface{}{
			"message_id":   msg.MessageID,
			"recipient_id": msg.RecipientID,
			"message_type": string(msg.MessageType),
		}))
	}

	if p.Delivery != DeliveryLive {
		return msg, nil
	}

	if b.deliverLive(ctx, msg) {
		if err := b.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			return store.MarkDelivered(ctx, tx, msg.MessageID)
		}); err != nil {
			b.log.WithError(err).Warn("failed to mark message delivered")
		} else {
			msg.Delivered = true
		}
	}

	return msg, nil
}

// deliverLive writes a formatted block to the recipient's attached
// session. Best-effort: any failure is swallowed, the message remains
// available via get_agent_messages (spec §5 "Backpressure: none").
func (b *Bus) deliverLive(ctx context.Context, msg *model.AgentMessage) bool {
	if msg.RecipientID == "admin" {
		return b.sessions.SendToAdminSession(ctx, FormatMessageBlock(msg), string(msg.Priority))
	}
	session, ok := b.sessions.SessionNameFor(msg.RecipientID)
	if !ok {
		return false
	}
	if err := b.tmux.SendPrompt(ctx, session, FormatMessageBlock(msg)); err != nil {
		b.log.WithError(err).Warn("live message delivery failed")
		return false
	}
	return true
}

// StopCommand sends the admin-only cancellation sequence (spec §4.H):
// an escape character sent four times, roughly 1s apart, regardless of
// the recipient's recorded status.
func (b *Bus) StopCommand(ctx context.Context, adminID, agentID string) error {
	session, ok := b.sessions.SessionNameFor(agentID)
	if !ok {
		return apierr.Invariant("agent %q has no live session", agentID)
	}
	for i := 0; i < 4; i++ {
		if err := b.tmux.SendCommand(ctx, session, "\x1b"); err != nil {
			return apierr.External(err, "stop_command escape send failed")
		}
		if i < 3 {
			time.Sleep(time.Second)
		}
	}
	_, err := b.Send(ctx, SendParams{
		SenderID:    adminID,
		RecipientID: agentID,
		Content:     "stop command issued by admin",
		Type:        model.MessageTypeStopCommand,
		Priority:    model.PriorityUrgent,
		Delivery:    DeliveryStoreOnly,
	})
	return err
}

// Broadcast fans a message out to every agent currently active (spec §4.H).
func (b *Bus) Broadcast(ctx context.Context, senderID, content string, priority model.MessagePriority) ([]*model.AgentMessage, error) {
	var out []*model.AgentMessage
	for _, agentID := range b.sessions.ActiveAgentIDs() {
		msg, err := b.Send(ctx, SendParams{
			SenderID:    senderID,
			RecipientID: agentID,
			Content:     content,
			Type:        model.MessageTypeBroadcast,
			Priority:    priority,
			Delivery:    DeliveryLive,
		})
		if err != nil {
			b.log.WithError(err).Warn("broadcast delivery to one agent failed")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// AssistanceParams describes a request_assistance call (spec §4.H).
type AssistanceParams struct {
	AgentID          string
	TaskID           string
	Description      string
	Urgency          string
	Blocking         bool
	Context          string
	SuggestedActions []string
}

// RequestAssistance sends a structured assistance block to "admin" and
// additionally tries the operator's own attached session (spec §4.H,
// testable property #9: the stored AgentAction shares the message's
// timestamp).
func (b *Bus) RequestAssistance(ctx context.Context, p AssistanceParams) (*model.AgentMessage, error) {
	if p.Description == "" {
		return nil, apierr.Validation("description is required")
	}
	requestID := uuid.NewString()
	content := FormatAssistanceBlock(p, requestID)
	priority := model.PriorityNormal
	if p.Blocking || strings.EqualFold(p.Urgency, "high") || strings.EqualFold(p.Urgency, "urgent") {
		priority = model.PriorityUrgent
	}

	now := time.Now().UTC()
	msg := &model.AgentMessage{
		MessageID:   uuid.NewString(),
		SenderID:    p.AgentID,
		RecipientID: "admin",
		Content:     content,
		MessageType: model.MessageTypeAssistanceRequest,
		Priority:    priority,
		Timestamp:   now,
	}

	err := b.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateMessage(ctx, tx, msg); err != nil {
			return apierr.Internal(err)
		}
		action := &model.AgentAction{
			AgentID:    p.AgentID,
			ActionType: "request_assistance",
			TaskID:     p.TaskID,
			Timestamp:  now,
			Details: map[string]interface{}{
				"request_id": requestID,
				"urgency":    p.Urgency,
				"blocking":   p.Blocking,
			},
		}
		if err := store.RecordAction(ctx, tx, action); err != nil {
			return apierr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.sessions.SendToAdminSession(ctx, content, p.Urgency) {
		if err := b.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			return store.MarkDelivered(ctx, tx, msg.MessageID)
		}); err == nil {
			msg.Delivered = true
		}
	}

	return msg, nil
}

// Inbox returns an agent's direct and broadcast messages, newest first;
// with unreadOnly set, only those not yet marked read.
func (b *Bus) Inbox(ctx context.Context, agentID string, unreadOnly bool) ([]*model.AgentMessage, error) {
	msgs, err := store.InboxFor(ctx, b.store.Reader(), agentID, unreadOnly)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return msgs, nil
}

// MarkRead flags a message as read by its recipient.
func (b *Bus) MarkRead(ctx context.Context, messageID string) error {
	return b.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.MarkRead(ctx, tx, messageID); err != nil {
			if err == store.ErrNotFound {
				return apierr.Validation("message %q not found", messageID)
			}
			return apierr.Internal(err)
		}
		return nil
	})
}

// FormatMessageBlock renders a message as the plain-text block written
// into a recipient's terminal session.
func FormatMessageBlock(msg *model.AgentMessage) string {
	return fmt.Sprintf("[coordinator message from %s | %s | %s]\n%s",
		msg.SenderID, msg.MessageType, msg.Priority, msg.Content)
}

// FormatAssistanceBlock renders the structured assistance-request block
// spec §4.H describes: agent id, request id, urgency, blocking flag,
// related task, context, and suggested actions.
func FormatAssistanceBlock(p AssistanceParams, requestID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[assistance request %s from %s]\n", requestID, p.AgentID)
	fmt.Fprintf(&sb, "urgency: %s | blocking: %t\n", p.Urgency, p.Blocking)
	if p.TaskID != "" {
		fmt.Fprintf(&sb, "related task: %s\n", p.TaskID)
	}
	sb.WriteString("description: " + p.Description + "\n")
	if p.Context != "" {
		sb.WriteString("context: " + p.Context + "\n")
	}
	if len(p.SuggestedActions) > 0 {
		sb.WriteString("suggested actions:\n")
		for _, a := range p.SuggestedActions {
			sb.WriteString("  - " + a + "\n")
		}
	}
	sb.WriteString(fmt.Sprintf("respond with send_agent_message(recipient_id=%q, ...) or assign a task.\n", p.AgentID))
	return sb.String()
}
