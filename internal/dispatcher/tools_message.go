package dispatcher

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/messagebus"
	"github.com/fleetmcp/coordinator/internal/model"
)

// registerMessageTools wires the message & assistance bus (spec §4.H, §6).
func registerMessageTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "agentCommunication") {
		return
	}
	s.AddTool(
		mcp.NewTool("send_agent_message",
			mcp.WithDescription("Send a message to another agent or to admin. message_type=stop_command is an admin-only special delivery that repeatedly cancels the recipient's session."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Sender's bearer token (worker token or admin token)")),
			mcp.WithString("recipient_id", mcp.Required(), mcp.Description("Recipient agent_id, or \"admin\"")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Message content")),
			mcp.WithString("message_type", mcp.Description("text | assistance_request | task_update | notification | stop_command | broadcast | announcement | system_alert")),
			mcp.WithString("priority", mcp.Description("low | normal | high | urgent")),
			mcp.WithString("deliver_method", mcp.Description("store_only | live")),
		),
		sendAgentMessageHandler(d),
	)
	s.AddTool(
		mcp.NewTool("get_agent_messages",
			mcp.WithDescription("Fetch the calling agent's inbox."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Caller's bearer token")),
			mcp.WithBoolean("unread_only", mcp.Description("Only return unread messages")),
		),
		getAgentMessagesHandler(d),
	)
	s.AddTool(
		mcp.NewTool("broadcast_admin_message",
			mcp.WithDescription("Broadcast a message from admin to every active agent."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Admin token")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Message content")),
			mcp.WithString("priority", mcp.Description("low | normal | high | urgent")),
		),
		broadcastAdminMessageHandler(d),
	)
	s.AddTool(
		mcp.NewTool("request_assistance",
			mcp.WithDescription("Ask admin (and the operator's attached session, if any) for help."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Caller's bearer token")),
			mcp.WithString("task_id", mcp.Description("Related task, if any")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What the agent needs help with")),
			mcp.WithString("urgency", mcp.Description("normal | high | urgent")),
			mcp.WithString("context", mcp.Description("Extra context for the operator")),
			mcp.WithArray("suggested_actions", mcp.Description("Actions the operator might take")),
			mcp.WithBoolean("blocking", mcp.Description("Whether the agent is blocked pending a response")),
		),
		requestAssistanceHandler(d),
	)
}

func resolveSender(ctx context.Context, d *Deps, token string) (senderID string, isAdmin bool, err error) {
	if d.Auth.VerifyAdmin(token) == nil {
		return "admin", true, nil
	}
	agentID, err := d.Auth.AgentIDFor(ctx, token)
	if err != nil {
		return "", false, err
	}
	return agentID, false, nil
}

func sendAgentMessageHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		senderID, isAdmin, err := resolveSender(ctx, d, token)
		if err != nil {
			return errResult(err), nil
		}
		recipientID, err := req.RequireString("recipient_id")
		if err != nil {
			return errResult(err), nil
		}
		content, err := req.RequireString("message")
		if err != nil {
			return errResult(err), nil
		}
		msgType := model.MessageType(req.GetString("message_type", string(model.MessageTypeText)))

		if msgType == model.MessageTypeStopCommand {
			if !isAdmin {
				return errResult(errAdminRequired("stop_command")), nil
			}
			if err := d.Messages.StopCommand(ctx, senderID, recipientID); err != nil {
				return errResult(err), nil
			}
			return textResult("🛑 stop command delivered to %s", recipientID), nil
		}

		delivery := messagebus.DeliveryMode(req.GetString("deliver_method", string(messagebus.DeliveryLive)))
		priority := model.MessagePriority(req.GetString("priority", string(model.PriorityNormal)))
		msg, err := d.Messages.Send(ctx, messagebus.SendParams{
			SenderID:    senderID,
			RecipientID: recipientID,
			Content:     content,
			Type:        msgType,
			Priority:    priority,
			Delivery:    delivery,
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("✉️ message %s sent to %s (delivered=%t)", msg.MessageID, msg.RecipientID, msg.Delivered), nil
	}
}

func getAgentMessagesHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		agentID, err := d.Auth.AgentIDFor(ctx, token)
		if err != nil {
			return errResult(err), nil
		}
		messages, err := d.Messages.Inbox(ctx, agentID, req.GetBool("unread_only", false))
		if err != nil {
			return errResult(err), nil
		}
		if len(messages) == 0 {
			return textResult("no messages"), nil
		}
		out := ""
		for _, m := range messages {
			out += "- [" + string(m.Priority) + "] " + m.SenderID + ": " + m.Content + "\n"
		}
		return textResult("%d message(s):\n%s", len(messages), out), nil
	}
}

func broadcastAdminMessageHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		if err := d.Auth.VerifyAdmin(token); err != nil {
			return errResult(err), nil
		}
		content, err := req.RequireString("message")
		if err != nil {
			return errResult(err), nil
		}
		priority := model.MessagePriority(req.GetString("priority", string(model.PriorityNormal)))
		sent, err := d.Messages.Broadcast(ctx, "admin", content, priority)
		if err != nil {
			return errResult(err), nil
		}
		return textResult("📢 broadcast delivered to %d agent(s)", len(sent)), nil
	}
}

func requestAssistanceHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		agentID, err := d.Auth.AgentIDFor(ctx, token)
		if err != nil {
			return errResult(err), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return errResult(err), nil
		}
		msg, err := d.Messages.RequestAssistance(ctx, messagebus.AssistanceParams{
			AgentID:          agentID,
			TaskID:           req.GetString("task_id", ""),
			Description:      description,
			Urgency:          req.GetString("urgency", "normal"),
			Blocking:         req.GetBool("blocking", false),
			Context:          req.GetString("context", ""),
			SuggestedActions: stringSliceArg(req, "suggested_actions"),
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("🆘 assistance request %s sent", msg.MessageID), nil
	}
}
