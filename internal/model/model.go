// Package model holds the entity types shared by the store and every
// component built on top of it. Nothing in here talks to the database;
// it is the vocabulary the rest of the coordinator shares.
package model

import "time"

// AgentStatus is the agent lifecycle state (spec §3, §4.E).
type AgentStatus string

const (
	AgentStatusCreated    AgentStatus = "created"
	AgentStatusActive     AgentStatus = "active"
	AgentStatusTerminated AgentStatus = "terminated"
	AgentStatusFailed     AgentStatus = "failed"
	AgentStatusCompleted  AgentStatus = "completed"
	AgentStatusCancelled  AgentStatus = "cancelled"
	AgentStatusPaused     AgentStatus = "paused"
)

// DormantStatuses are the statuses (plus Terminated) relaunch_agent may act from.
var DormantStatuses = map[AgentStatus]bool{
	AgentStatusFailed:     true,
	AgentStatusCompleted:  true,
	AgentStatusCancelled:  true,
	AgentStatusPaused:     true,
	AgentStatusTerminated: true,
}

// BackgroundObjectivesPrefix marks an agent's current_task as an overloaded
// BACKGROUND_OBJECTIVES carrier rather than a task reference (spec §9).
const BackgroundObjectivesPrefix = "BACKGROUND_OBJECTIVES:"

// BackgroundCapability is the reserved capability tag background agents carry.
const BackgroundCapability = "background-agent"

// OperatorCapability is the reserved tag send_to_admin_session uses to find
// the agent attached to the operator's own console (SPEC_FULL open question 1).
const OperatorCapability = "operator-console"

// Agent is a long-running external assistant tracked by the coordinator.
type Agent struct {
	Token             string      `json:"-"`
	AgentID           string      `json:"agent_id"`
	Capabilities      []string    `json:"capabilities"`
	Status            AgentStatus `json:"status"`
	CurrentTask       string      `json:"current_task,omitempty"`
	WorkingDirectory  string      `json:"working_directory"`
	Color             int         `json:"color"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	TerminatedAt      *time.Time  `json:"terminated_at,omitempty"`
}

// HasCapability reports whether the agent declares the given tag.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// IsBackground reports whether the agent carries BackgroundCapability.
func (a *Agent) IsBackground() bool {
	return a.HasCapability(BackgroundCapability)
}

// TaskStatus is a task's lifecycle state (spec §3, §4.F).
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskPriority is a task's priority tier.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Note is one opaque entry in a task's append-only notes list
// (SPEC_FULL open question 2: shape is ours to define, appends preserved in order).
type Note struct {
	NoteID    string    `json:"note_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a node in the hierarchical, dependency-aware task graph.
type Task struct {
	TaskID         string       `json:"task_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	AssignedTo     string       `json:"assigned_to,omitempty"`
	CreatedBy      string       `json:"created_by"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	ParentTask     string       `json:"parent_task,omitempty"`
	ChildTasks     []string     `json:"child_tasks"`
	DependsOnTasks []string     `json:"depends_on_tasks"`
	Notes          []Note       `json:"notes"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// AgentAction is one append-only row in the audit log (spec §3).
type AgentAction struct {
	ID         int64          `json:"id"`
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	TaskID     string         `json:"task_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// KVEntry backs AdminConfig / ProjectContext / FileMetadata — opaque
// key -> JSON-value stores with provenance (spec §3).
type KVEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"` // JSON-encoded
	Description string    `json:"description,omitempty"`
	UpdatedBy   string    `json:"updated_by"`
	LastUpdated time.Time `json:"last_updated"`
}

// MessageType enumerates AgentMessage.message_type (spec §3).
type MessageType string

const (
	MessageTypeText               MessageType = "text"
	MessageTypeAssistanceRequest  MessageType = "assistance_request"
	MessageTypeTaskUpdate         MessageType = "task_update"
	MessageTypeNotification       MessageType = "notification"
	MessageTypeStopCommand        MessageType = "stop_command"
	MessageTypeBroadcast          MessageType = "broadcast"
	MessageTypeAnnouncement       MessageType = "announcement"
	MessageTypeSystemAlert        MessageType = "system_alert"
)

// MessagePriority enumerates AgentMessage.priority (spec §3).
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// AgentMessage is one row on the message bus (spec §3, §4.H).
type AgentMessage struct {
	MessageID   string          `json:"message_id"`
	SenderID    string          `json:"sender_id"`
	RecipientID string          `json:"recipient_id"`
	Content     string          `json:"content"`
	MessageType MessageType     `json:"message_type"`
	Priority    MessagePriority `json:"priority"`
	Timestamp   time.Time       `json:"timestamp"`
	Delivered   bool            `json:"delivered"`
	Read        bool            `json:"read"`
}

// FileLockStatus is FileStatus.status (spec §3, §4.G).
type FileLockStatus string

const (
	FileLockInUse    FileLockStatus = "in_use"
	FileLockReleased FileLockStatus = "released"
)

// FileStatus is one row in the file-lock table (spec §3).
type FileStatus struct {
	ID         int64          `json:"id"`
	FilePath   string         `json:"filepath"`
	AgentID    string         `json:"agent_id"`
	LockedAt   time.Time      `json:"locked_at"`
	ReleasedAt *time.Time     `json:"released_at,omitempty"`
	Status     FileLockStatus `json:"status"`
	Notes      string         `json:"notes,omitempty"`
}

// RagSourceType enumerates RagChunk.source_type (spec §3).
type RagSourceType string

const (
	RagSourceMarkdown RagSourceType = "markdown"
	RagSourceContext  RagSourceType = "context"
	RagSourceFileMeta RagSourceType = "filemeta"
	RagSourceCodeFile RagSourceType = "codefile"
	RagSourceTask     RagSourceType = "task"
)

// RagChunk is one unit of indexed text (spec §3).
type RagChunk struct {
	ID         int64          `json:"id"`
	SourceType RagSourceType  `json:"source_type"`
	SourceRef  string         `json:"source_ref"`
	ChunkText  string         `json:"chunk_text"`
	IndexedAt  time.Time      `json:"indexed_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionStatus is AgentSessionState.status (spec §4.K).
type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionDisconnected SessionStatus = "disconnected"
	SessionRecovered    SessionStatus = "recovered"
	SessionExpired      SessionStatus = "expired"
)

// SessionState is the persisted per-connection transport state (spec §3, §4.K).
type SessionState struct {
	SessionID           string        `json:"session_id"`
	TransportState      string        `json:"transport_state"` // JSON
	ConversationState   string        `json:"conversation_state,omitempty"`
	Status              SessionStatus `json:"status"`
	LastHeartbeat        time.Time     `json:"last_heartbeat"`
	DisconnectedAt       *time.Time    `json:"disconnected_at,omitempty"`
	GracePeriodExpires   *time.Time    `json:"grace_period_expires,omitempty"`
	RecoveryAttempts     int           `json:"recovery_attempts"`
}
