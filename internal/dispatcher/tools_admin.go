package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/taskengine"
)

// registerAdminTools wires health, view_status, and the token-inspection
// tools. None of these map to a §4.L category in the obvious way (they
// are cross-cutting ops surfaces), so they register under "basic" —
// always on, matching view_status/health being usable unauthenticated
// in practice per spec §6.
func registerAdminTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "basic") {
		return
	}
	s.AddTool(
		mcp.NewTool("health",
			mcp.WithDescription("Report whether the store and the multiplexer are reachable."),
		),
		healthHandler(d),
	)
	s.AddTool(
		mcp.NewTool("view_status",
			mcp.WithDescription("Aggregate snapshot: agents by status, tasks by status, pending file locks, RAG index size."),
			mcp.WithString("admin_token", mcp.Description("Unused; accepted for client compatibility")),
		),
		viewStatusHandler(d),
	)
	s.AddTool(
		mcp.NewTool("list_tokens",
			mcp.WithDescription("List every agent's bearer token (admin only)."),
			mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
		),
		listTokensHandler(d),
	)
	s.AddTool(
		mcp.NewTool("get_token",
			mcp.WithDescription("Look up one agent's bearer token (admin only)."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent whose token to return")),
			mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
		),
		getTokenHandler(d),
	)
	s.AddTool(
		mcp.NewTool("validate_token",
			mcp.WithDescription("Check whether a bearer token is currently valid and which agent it belongs to."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Token to validate")),
		),
		validateTokenHandler(d),
	)
}

func healthHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := d.Store.Ping(ctx); err != nil {
			return textResult("💥 store unreachable: %v", err), nil
		}
		tmuxOK := d.Tmux != nil && d.Tmux.Available(ctx)
		return textResult("✅ store ok, tmux available=%t", tmuxOK), nil
	}
}

func viewStatusHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agents, err := store.ListAgents(ctx, d.Store.Reader(), "")
		if err != nil {
			return errResult(err), nil
		}
		byAgentStatus := map[model.AgentStatus]int{}
		for _, a := range agents {
			byAgentStatus[a.Status]++
		}

		tasks, err := d.Tasks.List(ctx, taskengine.ListParams{})
		if err != nil {
			return errResult(err), nil
		}
		byTaskStatus := map[model.TaskStatus]int{}
		for _, t := range tasks {
			byTaskStatus[t.Status]++
		}

		var pendingLocks int
		if err := d.Store.Reader().GetContext(ctx, &pendingLocks,
			`SELECT COUNT(*) FROM file_status WHERE status = ?`, model.FileLockInUse); err != nil {
			return errResult(err), nil
		}
		var chunkCount int
		if err := d.Store.Reader().GetContext(ctx, &chunkCount, `SELECT COUNT(*) FROM rag_chunks`); err != nil {
			return errResult(err), nil
		}

		var sb strings.Builder
		sb.WriteString("agents: ")
		for st, n := range byAgentStatus {
			fmt.Fprintf(&sb, "%s=%d ", st, n)
		}
		sb.WriteString("\ntasks: ")
		for st, n := range byTaskStatus {
			fmt.Fprintf(&sb, "%s=%d ", st, n)
		}
		fmt.Fprintf(&sb, "\nfile locks in use: %d\nrag chunks indexed: %d\n", pendingLocks, chunkCount)
		return textResult("%s", sb.String()), nil
	}
}

func listTokensHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		if err := d.Auth.VerifyAdmin(adminToken); err != nil {
			return errResult(err), nil
		}
		agents, err := store.ListAgents(ctx, d.Store.Reader(), "")
		if err != nil {
			return errResult(err), nil
		}
		var sb strings.Builder
		for _, a := range agents {
			fmt.Fprintf(&sb, "- %s: %s\n", a.AgentID, a.Token)
		}
		return textResult("%d token(s):\n%s", len(agents), sb.String()), nil
	}
}

func getTokenHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		if err := d.Auth.VerifyAdmin(adminToken); err != nil {
			return errResult(err), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		agent, err := store.GetAgentByID(ctx, d.Store.Reader(), agentID)
		if err == store.ErrNotFound {
			return errResult(apierr.Validation("agent %q not found", agentID)), nil
		}
		if err != nil {
			return errResult(apierr.Internal(err)), nil
		}
		return textResult("%s: %s", agent.AgentID, agent.Token), nil
	}
}

func validateTokenHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		agent, err := d.Auth.VerifyToken(ctx, token)
		if err != nil {
			return textResult("❌ invalid token"), nil
		}
		return textResult("✅ valid, belongs to %s (status=%s)", agent.AgentID, agent.Status), nil
	}
}
