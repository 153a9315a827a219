package dispatcher

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/model"
)

// registerFileTools wires the file-lock arbiter (spec §4.G, §6,
// scenario S3). update_file_status is a single tool branching on the
// status argument between acquire (in_use) and release (released), the
// shape §6 implies with one signature covering both transitions.
func registerFileTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "fileManagement") {
		return
	}
	s.AddTool(
		mcp.NewTool("check_file_status",
			mcp.WithDescription("Report whether a file is currently locked and by whom."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to check")),
			mcp.WithString("agent_id", mcp.Description("Requesting agent, used to compute can_edit")),
		),
		checkFileStatusHandler(d),
	)
	s.AddTool(
		mcp.NewTool("update_file_status",
			mcp.WithDescription("Acquire (status=in_use) or release (status=released) a file lock."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to lock or release")),
			mcp.WithString("status", mcp.Required(), mcp.Description("in_use | released")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent acquiring or releasing the lock")),
			mcp.WithString("notes", mcp.Description("Optional note stored with the lock")),
		),
		updateFileStatusHandler(d),
	)
}

func checkFileStatusHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("filepath")
		if err != nil {
			return errResult(err), nil
		}
		requesterID := req.GetString("agent_id", "")
		status, err := d.Locks.Check(ctx, filePath, requesterID)
		if err != nil {
			return errResult(err), nil
		}
		if !status.Locked {
			return textResult("🔓 %s is free", filePath), nil
		}
		return textResult("🔒 %s is locked by %s (can_edit=%t)", filePath, status.LockedBy.AgentID, status.CanEdit), nil
	}
}

func updateFileStatusHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("filepath")
		if err != nil {
			return errResult(err), nil
		}
		status, err := req.RequireString("status")
		if err != nil {
			return errResult(err), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}

		switch model.FileLockStatus(status) {
		case model.FileLockInUse:
			fs, err := d.Locks.Acquire(ctx, filePath, agentID, req.GetString("notes", ""))
			if err != nil {
				return errResult(err), nil
			}
			return textResult("🔒 %s locked by %s", fs.FilePath, fs.AgentID), nil
		case model.FileLockReleased:
			if err := d.Locks.Release(ctx, filePath, agentID); err != nil {
				return errResult(err), nil
			}
			return textResult("🔓 %s released by %s", filePath, agentID), nil
		default:
			return errResult(apierr.Validation("status must be %q or %q", model.FileLockInUse, model.FileLockReleased)), nil
		}
	}
}
