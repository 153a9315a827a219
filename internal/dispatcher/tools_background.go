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

// registerBackgroundTools wires the background-agent creation path
// (spec §4.E: "a distinct creation path: no admin token required, no
// hierarchical task requirement").
func registerBackgroundTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "backgroundAgents") {
		return
	}
	s.AddTool(
		mcp.NewTool("create_background_agent",
			mcp.WithDescription("Create a background agent whose objectives (not discrete tasks) drive its work."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Unique identifier for the new background agent")),
			mcp.WithArray("objectives", mcp.Required(), mcp.Description("Free-text objectives for the agent to pursue")),
			mcp.WithString("working_directory", mcp.Description("Working directory for the agent's multiplexer session")),
		),
		createBackgroundAgentHandler(d),
	)
	s.AddTool(
		mcp.NewTool("list_background_agents",
			mcp.WithDescription("List agents carrying the background-agent capability."),
		),
		listBackgroundAgentsHandler(d),
	)
	s.AddTool(
		mcp.NewTool("terminate_background_agent",
			mcp.WithDescription("Terminate a background agent (admin-equivalent operation, no task reassignment needed)."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Background agent to terminate")),
			mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
		),
		terminateBackgroundAgentHandler(d),
	)
}

func createBackgroundAgentHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		objectives := stringSliceArg(req, "objectives")
		agent, err := d.Agents.CreateBackground(ctx, agentmgr.BackgroundParams{
			AgentID:          agentID,
			Objectives:       objectives,
			WorkingDirectory: req.GetString("working_directory", "."),
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("✅ background agent %q created (status=%s)", agent.AgentID, agent.Status), nil
	}
}

func listBackgroundAgentsHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agents, err := store.ListAgents(ctx, d.Store.Reader(), "")
		if err != nil {
			return errResult(err), nil
		}
		var sb strings.Builder
		count := 0
		for _, a := range agents {
			if !a.HasCapability(model.BackgroundCapability) {
				continue
			}
			count++
			fmt.Fprintf(&sb, "- %s status=%s objectives=%s\n", a.AgentID, a.Status,
				strings.TrimPrefix(a.CurrentTask, model.BackgroundObjectivesPrefix))
		}
		if count == 0 {
			return textResult("no background agents"), nil
		}
		return textResult("%d background agent(s):\n%s", count, sb.String()), nil
	}
}

func terminateBackgroundAgentHandler(d *Deps) server.ToolHandlerFunc {
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
		return textResult("🛑 background agent %q terminated", agent.AgentID), nil
	}
}
