package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/agentmgr"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func registerAgentTools(s *server.MCPServer, d *Deps) {
	if enabled(d, "agentManagement") {
		s.AddTool(
			mcp.NewTool("create_agent",
				mcp.WithDescription("Create a new worker agent, attach it to a fresh multiplexer session, and assign it the given tasks."),
				mcp.WithString("agent_id", mcp.Required(), mcp.Description("Unique identifier for the new agent")),
				mcp.WithArray("task_ids", mcp.Required(), mcp.Description("Ids of currently-unassigned tasks to hand to this agent; the first becomes current_task")),
				mcp.WithArray("capabilities", mcp.Description("Optional capability tags for this agent")),
				mcp.WithString("working_directory", mcp.Description("Working directory for the agent's multiplexer session")),
				mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
			),
			createAgentHandler(d),
		)
		s.AddTool(
			mcp.NewTool("terminate_agent",
				mcp.WithDescription("Terminate an agent: unassign its tasks back to pending and kill its multiplexer session."),
				mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to terminate")),
				mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
			),
			terminateAgentHandler(d),
		)
		s.AddTool(
			mcp.NewTool("relaunch_agent",
				mcp.WithDescription("Relaunch a dormant or terminated agent: clear its session and send a fresh prompt."),
				mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to relaunch")),
				mcp.WithBoolean("generate_new_token", mcp.Description("Mint a new bearer token for the agent")),
				mcp.WithString("custom_prompt", mcp.Description("Override the default resume prompt")),
				mcp.WithString("prompt_template", mcp.Description("Named prompt template (reserved)")),
				mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
			),
			relaunchAgentHandler(d),
		)
		s.AddTool(
			mcp.NewTool("audit_agent_sessions",
				mcp.WithDescription("Reconcile the agent table against live multiplexer sessions and the in-memory session cache."),
				mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
			),
			auditHandler(d, false),
		)
		s.AddTool(
			mcp.NewTool("smart_audit_agents",
				mcp.WithDescription("Runs the same reconciliation as audit_agent_sessions: a terminated agent's session with recent activity is kept and relaunch suggested, a stale one is killed."),
				mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
			),
			auditHandler(d, true),
		)
	}

	if enabled(d, "basic") {
		s.AddTool(
			mcp.NewTool("list_agents",
				mcp.WithDescription("List agents, optionally filtered by status."),
				mcp.WithString("status", mcp.Description("Filter by agent status (created, active, terminated, failed, completed, cancelled, paused)")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of agents to return")),
				mcp.WithBoolean("include_details", mcp.Description("Include full agent rows rather than a summary line")),
			),
			listAgentsHandler(d),
		)
	}
}

func createAgentHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		taskIDs := stringSliceArg(req, "task_ids")
		capabilities := stringSliceArg(req, "capabilities")
		workingDir := req.GetString("working_directory", ".")

		agent, err := d.Agents.Create(ctx, agentmgr.CreateParams{
			AgentID:          agentID,
			Capabilities:     capabilities,
			TaskIDs:          taskIDs,
			WorkingDirectory: workingDir,
			AdminToken:       adminToken,
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("✅ agent %q created (status=%s, color=%d, current_task=%s)",
			agent.AgentID, agent.Status, agent.Color, agent.CurrentTask), nil
	}
}

func terminateAgentHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		agent, err := d.Agents.Terminate(ctx, agentID, adminToken)
		if err != nil {
			return errResult(err), nil
		}
		return textResult("🛑 agent %q terminated at %s", agent.AgentID, agent.TerminatedAt.Format("2006-01-02T15:04:05Z07:00")), nil
	}
}

func relaunchAgentHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		agent, err := d.Agents.Relaunch(ctx, agentmgr.RelaunchParams{
			AgentID:          agentID,
			GenerateNewToken: req.GetBool("generate_new_token", false),
			CustomPrompt:     req.GetString("custom_prompt", ""),
			AdminToken:       adminToken,
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("🔁 agent %q relaunched, now active", agent.AgentID), nil
	}
}

func auditHandler(d *Deps, smart bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		var reconciliations []agentmgr.Reconciliation
		if smart {
			reconciliations, err = d.Agents.SmartAudit(ctx, adminToken)
		} else {
			reconciliations, err = d.Agents.Audit(ctx, adminToken)
		}
		if err != nil {
			return errResult(err), nil
		}
		if len(reconciliations) == 0 {
			return textResult("✅ audit found no inconsistencies"), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "🔎 audit resolved %d inconsistencies:\n", len(reconciliations))
		for _, r := range reconciliations {
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.AgentID, r.Kind, r.Detail)
		}
		return textResult("%s", sb.String()), nil
	}
}

func listAgentsHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := model.AgentStatus(req.GetString("status", ""))
		limit := req.GetInt("limit", 0)
		includeDetails := req.GetBool("include_details", false)

		agents, err := store.ListAgents(ctx, d.Store.Reader(), status)
		if err != nil {
			return errResult(err), nil
		}
		if limit > 0 && limit < len(agents) {
			agents = agents[:limit]
		}
		if len(agents) == 0 {
			return textResult("no agents match"), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d agent(s):\n", len(agents))
		for _, a := range agents {
			if includeDetails {
				fmt.Fprintf(&sb, "- %s status=%s current_task=%s capabilities=%v color=%d working_directory=%s\n",
					a.AgentID, a.Status, a.CurrentTask, a.Capabilities, a.Color, a.WorkingDirectory)
			} else {
				fmt.Fprintf(&sb, "- %s (%s)\n", a.AgentID, a.Status)
			}
		}
		return textResult("%s", sb.String()), nil
	}
}
