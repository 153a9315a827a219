package agentmgr

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

// recentActivityWindow is how far back smart_audit looks for an
// AgentAction before deciding a terminated agent's lingering session has
// gone stale (spec §4.E "recent activity").
const recentActivityWindow = 15 * time.Minute

// Reconciliation is one resolved inconsistency from an audit pass (spec §4.E).
type Reconciliation struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

// Audit reconciles the agent table, live multiplexer sessions, and the
// in-memory session-name cache, per spec §4.E's four inconsistency
// cases. Unlike view_status, Audit mutates state (it can terminate
// agents and kill live sessions), so adminToken is verified up front
// and no reconciliation runs without a valid admin token.
func (m *Manager) Audit(ctx context.Context, adminToken string) ([]Reconciliation, error) {
	if err := m.auth.VerifyAdmin(adminToken); err != nil {
		return nil, err
	}

	agents, err := store.ListAgents(ctx, m.store.Reader(), "")
	if err != nil {
		return nil, apierr.Internal(err)
	}
	agentByID := make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		agentByID[a.AgentID] = a
	}

	liveSessions, err := m.tmux.ListSessions(ctx)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	liveSet := make(map[string]bool, len(liveSessions))
	for _, s := range liveSessions {
		liveSet[s] = true
	}

	m.mu.Lock()
	cache := make(map[string]string, len(m.sessions))
	for k, v := range m.sessions {
		cache[k] = v
	}
	m.mu.Unlock()

	var out []Reconciliation
	now := time.Now().UTC()

	for agentID, agent := range agentByID {
		session, cached := cache[agentID]
		if !cached {
			session = sessionForAgent(liveSessions, agentID)
		}
		live := session != "" && liveSet[session]

		switch {
		case agent.Status == model.AgentStatusActive && !live:
			if err := m.markTerminatedByAudit(ctx, agentID); err != nil {
				return out, err
			}
			m.dropFromCache(agentID)
			out = append(out, Reconciliation{AgentID: agentID, Kind: "active_no_session", Detail: "status set to terminated"})

		case agent.Status == model.AgentStatusTerminated && live:
			recent, err := m.hasRecentActivity(ctx, agentID, now)
			if err != nil {
				return out, err
			}
			if recent {
				m.addToCache(agentID, session)
				out = append(out, Reconciliation{AgentID: agentID, Kind: "terminated_live_recent", Detail: "session kept, relaunch suggested"})
			} else {
				if err := m.tmux.KillSession(ctx, session); err != nil {
					return out, apierr.Internal(err)
				}
				m.dropFromCache(agentID)
				if err := m.logReconciliation(ctx, agentID, "terminated_live_stale", "session killed"); err != nil {
					return out, err
				}
				out = append(out, Reconciliation{AgentID: agentID, Kind: "terminated_live_stale", Detail: "session killed"})
			}

		case cached && !live:
			m.dropFromCache(agentID)
			out = append(out, Reconciliation{AgentID: agentID, Kind: "memory_without_session", Detail: "dropped from memory"})

		case !cached && live && agent.Status != model.AgentStatusTerminated:
			m.addToCache(agentID, session)
			out = append(out, Reconciliation{AgentID: agentID, Kind: "session_without_memory", Detail: "added to memory"})
		}
	}

	return out, nil
}

// SmartAudit is smart_audit_agents: the same reconciliation as Audit.
// The two tools share one resolution algorithm; "smart" names the
// caller-facing framing (suggested actions surfaced instead of a flat
// session list), not a different decision procedure.
func (m *Manager) SmartAudit(ctx context.Context, adminToken string) ([]Reconciliation, error) {
	return m.Audit(ctx, adminToken)
}

// sessionForAgent finds a live session matching agentID's sanitized
// prefix plus the naming convention's hyphen-suffix, used when the
// in-memory cache has no entry to consult.
func sessionForAgent(sessions []string, agentID string) string {
	for _, s := range sessions {
		idx := strings.LastIndex(s, "-")
		if idx < 0 || len(s)-idx-1 != 4 {
			continue
		}
		if s[:idx] == agentID {
			return s
		}
	}
	return ""
}

func (m *Manager) markTerminatedByAudit(ctx context.Context, agentID string) error {
	now := time.Now().UTC()
	return m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.UpdateAgentStatus(ctx, tx, agentID, model.AgentStatusTerminated, &now); err != nil {
			return apierr.Internal(err)
		}
		return store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    agentID,
			ActionType: "audit_reconciled",
			Timestamp:  now,
			Details:    map[string]interface{}{"kind": "active_no_session"},
		})
	})
}

func (m *Manager) logReconciliation(ctx context.Context, agentID, kind, detail string) error {
	return m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.RecordAction(ctx, tx, &model.AgentAction{
			AgentID:    agentID,
			ActionType: "audit_reconciled",
			Timestamp:  time.Now().UTC(),
			Details:    map[string]interface{}{"kind": kind, "detail": detail},
		})
	})
}

func (m *Manager) hasRecentActivity(ctx context.Context, agentID string, now time.Time) (bool, error) {
	actions, err := store.ListActions(ctx, m.store.Reader(), agentID, 1)
	if err != nil {
		return false, apierr.Internal(err)
	}
	if len(actions) == 0 {
		return false, nil
	}
	return now.Sub(actions[0].Timestamp) <= recentActivityWindow, nil
}

func (m *Manager) dropFromCache(agentID string) {
	m.mu.Lock()
	delete(m.sessions, agentID)
	m.mu.Unlock()
}

func (m *Manager) addToCache(agentID, session string) {
	m.mu.Lock()
	m.sessions[agentID] = session
	m.mu.Unlock()
}
