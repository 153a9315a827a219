// Package capability implements the tool registry's gate (spec §4.L):
// a flat category->bool map loaded at boot, consulted by the dispatcher
// before a tool is registered at all.
package capability

import "github.com/fleetmcp/coordinator/internal/common/config"

// Category names mirror config.CategoriesConfig's fields (spec §4.L).
const (
	Basic              = "basic"
	RAG                = "rag"
	Memory             = "memory"
	AgentManagement    = "agentManagement"
	TaskManagement     = "taskManagement"
	FileManagement     = "fileManagement"
	AgentCommunication = "agentCommunication"
	SessionState       = "sessionState"
	AssistanceRequest  = "assistanceRequest"
	BackgroundAgents   = "backgroundAgents"
)

// Gate is the loaded ToolCategories map, always forcing "basic" on.
type Gate struct {
	enabled map[string]bool
}

// FromConfig builds a Gate from the persisted categories configuration.
func FromConfig(cfg config.CategoriesConfig) *Gate {
	return &Gate{enabled: map[string]bool{
		Basic:              true, // spec §4.L: "basic is always on"
		RAG:                cfg.RAG,
		Memory:             cfg.Memory,
		AgentManagement:    cfg.AgentManagement,
		TaskManagement:     cfg.TaskManagement,
		FileManagement:     cfg.FileManagement,
		AgentCommunication: cfg.AgentCommunication,
		SessionState:       cfg.SessionState,
		AssistanceRequest:  cfg.AssistanceRequest,
		BackgroundAgents:   cfg.BackgroundAgents,
	}}
}

// Enabled reports whether category is on.
func (g *Gate) Enabled(category string) bool { return g.enabled[category] }

// Mode is a named shorthand for a particular category map (spec §4.L:
// "stored only as hints for the config UI" — these never feed back into
// Gate state automatically, a caller must apply one explicitly).
type Mode string

const (
	ModeMinimal   Mode = "minimal"
	ModeMemoryRAG Mode = "memoryRag"
	ModeFull      Mode = "full"
	ModeBackground Mode = "background"
)

// ApplyMode returns the category map a named mode represents, for a
// config UI to preview or apply.
func ApplyMode(mode Mode) config.CategoriesConfig {
	switch mode {
	case ModeMinimal:
		return config.CategoriesConfig{Basic: true}
	case ModeMemoryRAG:
		return config.CategoriesConfig{Basic: true, RAG: true, Memory: true}
	case ModeBackground:
		return config.CategoriesConfig{Basic: true, BackgroundAgents: true, TaskManagement: true, AgentManagement: true}
	case ModeFull:
		return config.CategoriesConfig{
			Basic: true, RAG: true, Memory: true, AgentManagement: true, TaskManagement: true,
			FileManagement: true, AgentCommunication: true, SessionState: true,
			AssistanceRequest: true, BackgroundAgents: true,
		}
	default:
		return config.CategoriesConfig{Basic: true}
	}
}

// DependencyWarning names one unmet category dependency.
type DependencyWarning struct {
	Category string
	Requires string
	Detail   string
}

// dependencies records the known category relationships spec §4.L
// names as an example ("taskManagement depends on agentManagement").
var dependencies = []DependencyWarning{
	{Category: TaskManagement, Requires: AgentManagement, Detail: "tasks are assigned to agents; without agent management there is no one to assign to"},
	{Category: AgentCommunication, Requires: AgentManagement, Detail: "messages address agent_ids that only exist once agent management is enabled"},
	{Category: BackgroundAgents, Requires: TaskManagement, Detail: "background agents still log actions against the task graph"},
	{Category: AssistanceRequest, Requires: AgentCommunication, Detail: "assistance requests are delivered over the message bus"},
}

// Warnings surfaces every dependency violation in the current map.
// Spec §4.L: "surfaced but never auto-corrected" — the caller decides
// whether to act on them.
func (g *Gate) Warnings() []DependencyWarning {
	var out []DependencyWarning
	for _, dep := range dependencies {
		if g.Enabled(dep.Category) && !g.Enabled(dep.Requires) {
			out = append(out, dep)
		}
	}
	return out
}
