// Package agentmgr owns the agent lifecycle state machine (spec §4.E):
// create_agent, terminate_agent, relaunch_agent, background_agent, and
// the audit/smart_audit reconciliation between the agent table, live
// multiplexer sessions, and the in-memory session-name cache.
package agentmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/auth"
	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/filelock"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/taskengine"
	"github.com/fleetmcp/coordinator/internal/tmux"
)

// colorPaletteSize bounds the small fixed set of indices nextColor rotates through, the way a
// dashboard would assign distinguishable colors to concurrent agents.
const colorPaletteSize = 12

// Manager is the agent lifecycle façade. Its in-memory maps are a cache
// over the Store, rebuildable at any time by Audit (spec §5 "Shared state").
type Manager struct {
	store    *store.Store
	auth     *auth.Service
	tmux     *tmux.Adapter
	locks    *filelock.Arbiter
	log      *logger.Logger

	mu          sync.Mutex
	sessions    map[string]string // agent_id -> tmux session name
	colorCursor int
}

// New builds a Manager.
func New(s *store.Store, authSvc *auth.Service, adapter *tmux.Adapter, locks *filelock.Arbiter, log *logger.Logger) *Manager {
	return &Manager{
		store:    s,
		auth:     authSvc,
		tmux:     adapter,
		locks:    locks,
		log:      log.WithFields(),
		sessions: map[string]string{},
	}
}

// SessionNameFor implements messagebus.SessionResolver.
func (m *Manager) SessionNameFor(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.sessions[agentID]
	return name, ok
}

// ActiveAgentIDs implements messagebus.SessionResolver.
func (m *Manager) ActiveAgentIDs() []string {
	agents, err := store.ListAgents(context.Background(), m.store.Reader(), model.AgentStatusActive)
	if err != nil {
		m.log.WithError(err).Warn("list active agents failed")
		return nil
	}
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.AgentID)
	}
	return out
}

// SendToAdminSession implements messagebus.SessionResolver: it takes the
// first agent, in creation order, that carries OperatorCapability and has
// a session in the in-memory cache, and writes message to that session.
// It returns false when no such agent exists or the write fails.
func (m *Manager) SendToAdminSession(ctx context.Context, message, urgency string) bool {
	agents, err := store.ListAgents(ctx, m.store.Reader(), "")
	if err != nil {
		m.log.WithError(err).Warn("list agents for admin delivery failed")
		return false
	}
	for _, a := range agents {
		if !a.HasCapability(model.OperatorCapability) {
			continue
		}
		session, ok := m.SessionNameFor(a.AgentID)
		if !ok {
			continue
		}
		if err := m.tmux.SendPrompt(ctx, session, message); err != nil {
			m.log.WithError(err).Warn("admin session delivery failed")
			return false
		}
		return true
	}
	return false
}

func (m *Manager) nextColor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.colorCursor % colorPaletteSize
	m.colorCursor++
	return c
}

// CreateParams describes a create_agent call (spec §4.E).
type CreateParams struct {
	AgentID          string
	Capabilities     []string
	TaskIDs          []string
	WorkingDirectory string
	AdminToken       string
}

// Create implements create_agent: reject duplicates, atomically reassign
// the given tasks and set current_task, then best-effort stand up a live
// multiplexer session outside the transaction (spec §4.E).
func (m *Manager) Create(ctx context.Context, p CreateParams) (*model.Agent, error) {
	if err := m.auth.VerifyAdmin(p.AdminToken); err != nil {
		return nil, err
	}
	if len(p.TaskIDs) == 0 {
		return nil, apierr.Validation("at least one task id is required")
	}
	if p.AgentID == "" {
		return nil, apierr.Validation("agent_id is required")
	}

	m.mu.Lock()
	_, inMemory := m.sessions[p.AgentID]
	m.mu.Unlock()
	if inMemory {
		return nil, apierr.Invariant("agent %q already active", p.AgentID)
	}

	if _, err := store.GetAgentByID(ctx, m.store.Reader(), p.AgentID); err == nil {
		return nil, apierr.Invariant("agent %q already exists", p.AgentID)
	} else if err != store.ErrNotFound {
		return nil, apierr.Internal(err)
	}

	token, err := m.auth.GenerateToken()
	if err != nil {
		return nil, apierr.Internal(err)
	}

	now := time.Now().UTC()
	agent := &model.Agent{
		Token:            token,
		AgentID:          p.AgentID,
		Capabilities:     p.Capabilities,
		Status:           model.AgentStatusCreated,
		WorkingDirectory: p.WorkingDirectory,
		Color:            m.nextColor(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateAgent(ctx, tx, agent); err != nil {
			return apierr.Internal(err)
		}
		for _, taskID := range p.TaskIDs {
			t, err := store.GetTask(ctx, tx, taskID)
			if err == store.ErrNotFound {
				return apierr.Invariant("task %q does not exist", taskID)
			}
			if err != nil {
				return apierr.Internal(err)
			}
			if t.AssignedTo != "" {
				return apierr.Invariant("task %q is already assigned to %q", taskID, t.AssignedTo)
			}
			t.AssignedTo = p.AgentID
			if err := store.UpdateTask(ctx, tx, t); err != nil {
				return apierr.Internal(err)
			}
		}
		agent.CurrentTask = p.TaskIDs[0]
		if err := store.UpdateAgentCurrentTask(ctx, tx, p.AgentID, agent.CurrentTask); err != nil {
			return apierr.Internal(err)
		}
		return store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    p.AgentID,
			ActionType: "created_agent",
			Timestamp:  now,
			Details: map[string]interface{}{
				"assigned_tasks": p.TaskIDs,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session := tmux.GenerateAgentSessionName(p.AgentID, p.AdminToken)
	m.sessions[p.AgentID] = session
	m.mu.Unlock()

	setupErr := m.bootstrapSession(ctx, session, agent)
	if setupErr != nil {
		m.log.WithError(setupErr).Warn("multiplexer setup failed, deferring to next audit")
	}

	return agent, setupErr
}

// bootstrapSession stands up the tmux session and fires the welcome
// prompt (spec §4.E "create_agent contract"). Failures here do not roll
// back the Store transaction that already committed.
func (m *Manager) bootstrapSession(ctx context.Context, session string, agent *model.Agent) error {
	if _, err := m.tmux.CreateSession(ctx, session, agent.AgentID, agent.WorkingDirectory); err != nil {
		return err
	}
	if err := m.tmux.SendCommand(ctx, session, fmt.Sprintf("echo 'coordinator: agent %s ready'", agent.AgentID)); err != nil {
		return err
	}
	if agent.WorkingDirectory != "" {
		if err := m.tmux.SendCommand(ctx, session, fmt.Sprintf("echo 'working directory: %s'", agent.WorkingDirectory)); err != nil {
			return err
		}
	}
	prompt := fmt.Sprintf("You are %s - Agent Token: %s. Start working on your assigned tasks.", agent.AgentID, agent.Token)
	if err := m.tmux.SendPrompt(ctx, session, prompt); err != nil {
		return err
	}
	if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpdateAgentStatus(ctx, tx, agent.AgentID, model.AgentStatusActive, nil)
	}); err != nil {
		return apierr.Internal(err)
	}
	agent.Status = model.AgentStatusActive
	return nil
}

// Terminate implements terminate_agent (spec §4.E): unassign every task
// the agent owns, clear current_task, stamp terminated_at, then
// best-effort kill the live session.
func (m *Manager) Terminate(ctx context.Context, agentID, adminToken string) (*model.Agent, error) {
	if err := m.auth.VerifyAdmin(adminToken); err != nil {
		return nil, err
	}

	var out *model.Agent
	now := time.Now().UTC()
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := store.GetAgentByID(ctx, tx, agentID)
		if err == store.ErrNotFound {
			return apierr.Validation("agent %q not found", agentID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		tasks, err := store.ListTasks(ctx, tx, agentID, "")
		if err != nil {
			return apierr.Internal(err)
		}
		for _, t := range tasks {
			if err := taskengine.Unassign(ctx, tx, t.TaskID); err != nil {
				return apierr.Internal(err)
			}
		}
		if err := m.locks.ReleaseAllForAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := store.UpdateAgentCurrentTask(ctx, tx, agentID, ""); err != nil {
			return apierr.Internal(err)
		}
		if err := store.UpdateAgentStatus(ctx, tx, agentID, model.AgentStatusTerminated, &now); err != nil {
			return apierr.Internal(err)
		}
		if err := store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    agentID,
			ActionType: "terminate_agent",
			Timestamp:  now,
			Details:    map[string]interface{}{"unassigned_tasks": taskIDs(tasks)},
		}); err != nil {
			return apierr.Internal(err)
		}
		agent.Status = model.AgentStatusTerminated
		agent.TerminatedAt = &now
		agent.CurrentTask = ""
		out = agent
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session, ok := m.sessions[agentID]
	delete(m.sessions, agentID)
	m.mu.Unlock()
	if ok {
		if err := m.tmux.KillSession(ctx, session); err != nil {
			m.log.WithError(err).Warn("kill session on terminate failed")
		}
	}
	return out, nil
}

// RelaunchParams describes a relaunch_agent call.
type RelaunchParams struct {
	AgentID        string
	GenerateNewToken bool
	CustomPrompt   string
	AdminToken     string
}

// Relaunch transitions a dormant/terminated agent back to active,
// sending a clear command and a fresh prompt to its existing session
// (spec §4.E).
func (m *Manager) Relaunch(ctx context.Context, p RelaunchParams) (*model.Agent, error) {
	if err := m.auth.VerifyAdmin(p.AdminToken); err != nil {
		return nil, err
	}

	var out *model.Agent
	var previousStatus model.AgentStatus
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := store.GetAgentByID(ctx, tx, p.AgentID)
		if err == store.ErrNotFound {
			return apierr.Validation("agent %q not found", p.AgentID)
		}
		if err != nil {
			return apierr.Internal(err)
		}
		if !model.DormantStatuses[agent.Status] {
			return apierr.Invariant("agent %q is in status %q and cannot be relaunched", p.AgentID, agent.Status)
		}
		previousStatus = agent.Status
		if p.GenerateNewToken {
			token, err := m.auth.GenerateToken()
			if err != nil {
				return apierr.Internal(err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE agents SET token = ? WHERE agent_id = ?`, token, p.AgentID); err != nil {
				return apierr.Internal(fmt.Errorf("rotate token: %w", err))
			}
			agent.Token = token
		}
		if err := store.UpdateAgentStatus(ctx, tx, p.AgentID, model.AgentStatusActive, nil); err != nil {
			return apierr.Internal(err)
		}
		if err := store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    p.AgentID,
			ActionType: "relaunch_agent",
			Timestamp:  time.Now().UTC(),
			Details:    map[string]interface{}{"previous_status": string(previousStatus)},
		}); err != nil {
			return apierr.Internal(err)
		}
		agent.Status = model.AgentStatusActive
		out = agent
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session, ok := m.sessions[p.AgentID]
	if !ok {
		session = tmux.GenerateAgentSessionName(p.AgentID, p.AdminToken)
		m.sessions[p.AgentID] = session
	}
	m.mu.Unlock()

	prompt := p.CustomPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s - Agent Token: %s. Resume your assigned tasks.", out.AgentID, out.Token)
	}
	if exists, _ := m.tmux.SessionExists(ctx, session); !exists {
		if _, err := m.tmux.CreateSession(ctx, session, out.AgentID, out.WorkingDirectory); err != nil {
			m.log.WithError(err).Warn("relaunch session recreation failed")
			return out, nil
		}
	} else {
		_ = m.tmux.SendCommand(ctx, session, "clear")
	}
	if err := m.tmux.SendPrompt(ctx, session, prompt); err != nil {
		m.log.WithError(err).Warn("relaunch prompt delivery failed")
	}
	return out, nil
}

// BackgroundParams describes a background_agent call (spec §4.E): no
// admin token, no hierarchical task requirement.
type BackgroundParams struct {
	AgentID          string
	Objectives       []string
	WorkingDirectory string
}

// CreateBackground implements background_agent.
func (m *Manager) CreateBackground(ctx context.Context, p BackgroundParams) (*model.Agent, error) {
	if p.AgentID == "" {
		return nil, apierr.Validation("agent_id is required")
	}
	if len(p.Objectives) == 0 {
		return nil, apierr.Validation("at least one objective is required")
	}
	if _, err := store.GetAgentByID(ctx, m.store.Reader(), p.AgentID); err == nil {
		return nil, apierr.Invariant("agent %q already exists", p.AgentID)
	} else if err != store.ErrNotFound {
		return nil, apierr.Internal(err)
	}

	token, err := m.auth.GenerateToken()
	if err != nil {
		return nil, apierr.Internal(err)
	}
	objectives, err := json.Marshal(p.Objectives)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	now := time.Now().UTC()
	agent := &model.Agent{
		Token:            token,
		AgentID:          p.AgentID,
		Capabilities:     []string{model.BackgroundCapability},
		Status:           model.AgentStatusCreated,
		CurrentTask:      model.BackgroundObjectivesPrefix + string(objectives),
		WorkingDirectory: p.WorkingDirectory,
		Color:            m.nextColor(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateAgent(ctx, tx, agent); err != nil {
			return apierr.Internal(err)
		}
		return store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    p.AgentID,
			ActionType: "background_agent",
			Timestamp:  now,
			Details:    map[string]interface{}{"objectives": p.Objectives},
		})
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session := tmux.GenerateAgentSessionName(p.AgentID, "")
	m.sessions[p.AgentID] = session
	m.mu.Unlock()

	setupErr := m.bootstrapSession(ctx, session, agent)
	if setupErr != nil {
		m.log.WithError(setupErr).Warn("background agent multiplexer setup failed, deferring to next audit")
	}
	return agent, setupErr
}

func taskIDs(tasks []*model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.TaskID)
	}
	return out
}

// ViewStatus returns every agent row, unauthenticated in practice (spec §4.E).
func (m *Manager) ViewStatus(ctx context.Context) ([]*model.Agent, error) {
	agents, err := store.ListAgents(ctx, m.store.Reader(), "")
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return agents, nil
}
