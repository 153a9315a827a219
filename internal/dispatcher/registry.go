// Package dispatcher wires the coordinator's business-logic packages
// into mcp-go tool registrations (spec §4.J): a registry mapping tool
// name to description, input schema, and handler, gated per §4.L's
// capability categories. The registry itself is server.MCPServer; this
// package's job is choosing what gets registered and translating
// handler errors into the {content, isError} contract.
package dispatcher

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/fleetmcp/coordinator/internal/agentmgr"
	"github.com/fleetmcp/coordinator/internal/auth"
	"github.com/fleetmcp/coordinator/internal/capability"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/filelock"
	"github.com/fleetmcp/coordinator/internal/messagebus"
	"github.com/fleetmcp/coordinator/internal/rag"
	"github.com/fleetmcp/coordinator/internal/session"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/taskengine"
	"github.com/fleetmcp/coordinator/internal/tmux"
	"github.com/fleetmcp/coordinator/internal/vectorindex"
)

// Deps bundles every collaborator a tool handler may need. Built once at
// startup in cmd/coordinator and threaded through every tools_*.go file.
type Deps struct {
	Store    *store.Store
	Gate     *capability.Gate
	Auth     *auth.Service
	Agents   *agentmgr.Manager
	Tasks    *taskengine.Engine
	Locks    *filelock.Arbiter
	Messages *messagebus.Bus
	Query    *rag.QueryEngine
	Indexer  *rag.Indexer
	Vec      *vectorindex.Index
	Sessions *session.Manager
	Tmux     *tmux.Adapter
	Log      *logger.Logger
}

// Register builds the full tool surface onto s, skipping any tool whose
// category is disabled by the capability gate (spec §4.L: "only tools
// belonging to enabled categories are registered").
func Register(s *server.MCPServer, d *Deps) {
	registerAgentTools(s, d)
	registerBackgroundTools(s, d)
	registerTaskTools(s, d)
	registerFileTools(s, d)
	registerMessageTools(s, d)
	registerRAGTools(s, d)
	registerAdminTools(s, d)
}
