package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/taskengine"
)

// registerTaskTools wires the task graph tools (spec §4.F, §6).
// Assignment and deletion take the admin token, view and search take no
// token, and the others identify their caller by bearer token so the
// ownership check in UpdateStatus has something to compare against.
func registerTaskTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "taskManagement") {
		return
	}
	s.AddTool(
		mcp.NewTool("create_self_task",
			mcp.WithDescription("Create a task, self-assigned to the calling agent unless left unassigned."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Caller's bearer token")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
			mcp.WithString("description", mcp.Description("Task description")),
			mcp.WithString("priority", mcp.Description("low | medium | high")),
			mcp.WithString("parent_task", mcp.Description("Parent task id, if this is a subtask")),
			mcp.WithArray("depends_on", mcp.Description("Task ids this task depends on")),
			mcp.WithBoolean("unassigned", mcp.Description("Create without self-assigning")),
		),
		createSelfTaskHandler(d),
	)
	s.AddTool(
		mcp.NewTool("assign_task",
			mcp.WithDescription("Assign an unassigned task to an agent."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to assign")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to assign it to")),
			mcp.WithArray("depends_on", mcp.Description("Additional dependency task ids to attach")),
			mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
		),
		assignTaskHandler(d),
	)
	s.AddTool(
		mcp.NewTool("view_tasks",
			mcp.WithDescription("List tasks, optionally filtered by assignee, status, or parent."),
			mcp.WithString("assigned_to", mcp.Description("Filter by assignee agent_id")),
			mcp.WithString("status", mcp.Description("Filter by status")),
			mcp.WithString("parent_task", mcp.Description("Filter by parent task id")),
		),
		viewTasksHandler(d),
	)
	s.AddTool(
		mcp.NewTool("update_task_status",
			mcp.WithDescription("Transition a task's status; workers may only update tasks they own, admins may update any task."),
			mcp.WithString("token", mcp.Required(), mcp.Description("Caller's bearer token")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to update")),
			mcp.WithString("status", mcp.Required(), mcp.Description("pending | in_progress | completed | failed | cancelled")),
			mcp.WithString("note", mcp.Description("Optional note to append alongside the transition")),
			mcp.WithString("admin_token", mcp.Description("Admin secret, grants cross-agent updates")),
		),
		updateTaskStatusHandler(d),
	)
	s.AddTool(
		mcp.NewTool("search_tasks",
			mcp.WithDescription("Substring search over task title and description."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		),
		searchTasksHandler(d),
	)
	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task (admin only)."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to delete")),
			mcp.WithString("admin_token", mcp.Required(), mcp.Description("Admin secret")),
		),
		deleteTaskHandler(d),
	)
}

func createSelfTaskHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		agentID, err := d.Auth.AgentIDFor(ctx, token)
		if err != nil {
			return errResult(err), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return errResult(err), nil
		}
		assignTo := agentID
		if req.GetBool("unassigned", false) {
			assignTo = ""
		}
		task, err := d.Tasks.Create(ctx, taskengine.CreateParams{
			Title:       title,
			Description: req.GetString("description", ""),
			CreatedBy:   agentID,
			Priority:    model.TaskPriority(req.GetString("priority", "")),
			ParentTask:  req.GetString("parent_task", ""),
			DependsOn:   stringSliceArg(req, "depends_on"),
			AssignTo:    assignTo,
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("✅ task %q created (assigned_to=%s)", task.TaskID, task.AssignedTo), nil
	}
}

func assignTaskHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		if err := d.Auth.VerifyAdmin(adminToken); err != nil {
			return errResult(err), nil
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return errResult(err), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return errResult(err), nil
		}
		task, err := d.Tasks.Assign(ctx, taskID, agentID)
		if err != nil {
			return errResult(err), nil
		}
		for _, dep := range stringSliceArg(req, "depends_on") {
			if task, err = d.Tasks.AddDependency(ctx, taskID, dep); err != nil {
				return errResult(err), nil
			}
		}
		return textResult("✅ task %q assigned to %s", task.TaskID, task.AssignedTo), nil
	}
}

func viewTasksHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := d.Tasks.List(ctx, taskengine.ListParams{
			AssignedTo: req.GetString("assigned_to", ""),
			Status:     model.TaskStatus(req.GetString("status", "")),
			ParentTask: req.GetString("parent_task", ""),
		})
		if err != nil {
			return errResult(err), nil
		}
		return textResult("%s", formatTasks(tasks)), nil
	}
}

func updateTaskStatusHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return errResult(err), nil
		}
		requesterID, err := d.Auth.AgentIDFor(ctx, token)
		if err != nil {
			return errResult(err), nil
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return errResult(err), nil
		}
		status, err := req.RequireString("status")
		if err != nil {
			return errResult(err), nil
		}
		isAdmin := req.GetString("admin_token", "") != "" && d.Auth.VerifyAdmin(req.GetString("admin_token", "")) == nil

		task, err := d.Tasks.UpdateStatus(ctx, taskID, requesterID, isAdmin, model.TaskStatus(status))
		if err != nil {
			return errResult(err), nil
		}
		if note := req.GetString("note", ""); note != "" {
			if task, err = d.Tasks.AppendNote(ctx, taskID, requesterID, note); err != nil {
				return errResult(err), nil
			}
		}
		return textResult("✅ task %q now %s", task.TaskID, task.Status), nil
	}
}

func searchTasksHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return errResult(err), nil
		}
		tasks, err := d.Tasks.Search(ctx, query)
		if err != nil {
			return errResult(err), nil
		}
		return textResult("%s", formatTasks(tasks)), nil
	}
}

func deleteTaskHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return errResult(err), nil
		}
		adminToken, err := req.RequireString("admin_token")
		if err != nil {
			return errResult(err), nil
		}
		if err := d.Auth.VerifyAdmin(adminToken); err != nil {
			return errResult(err), nil
		}
		if err := d.Tasks.Delete(ctx, taskID); err != nil {
			return errResult(err), nil
		}
		return textResult("🗑️ task %q deleted", taskID), nil
	}
}

func formatTasks(tasks []*model.Task) string {
	if len(tasks) == 0 {
		return "no tasks match"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s %q status=%s assigned_to=%s priority=%s\n", t.TaskID, t.Title, t.Status, t.AssignedTo, t.Priority)
	}
	return sb.String()
}
