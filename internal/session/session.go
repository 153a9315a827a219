// Package session tracks per-connection JSON-RPC session state on top
// of the mcp-go SSE/StreamableHTTP transports (spec §4.K): heartbeats,
// disconnect-with-grace-period, and reconnection within that window.
package session

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

// Manager owns session_state persistence and the reaper sweep.
type Manager struct {
	store       *store.Store
	gracePeriod time.Duration
	log         *logger.Logger
}

// New builds a Manager. gracePeriod comes from config.SessionConfig.GracePeriod().
func New(s *store.Store, gracePeriod time.Duration, log *logger.Logger) *Manager {
	return &Manager{store: s, gracePeriod: gracePeriod, log: log.WithFields()}
}

// Open creates a new active session, called when a transport accepts a
// fresh connection (no session id presented, or the presented id is
// unknown/expired).
func (m *Manager) Open(ctx context.Context, sessionID, transportState string) (*model.SessionState, error) {
	now := time.Now().UTC()
	s := &model.SessionState{
		SessionID:      sessionID,
		TransportState: transportState,
		Status:         model.SessionActive,
		LastHeartbeat:  now,
	}
	if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpsertSession(ctx, tx, s)
	}); err != nil {
		return nil, apierr.Internal(err)
	}
	return s, nil
}

// Touch refreshes last_heartbeat, called on every inbound request (spec
// §4.K "On every request the handler touches last_heartbeat").
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	s, err := store.GetSession(ctx, m.store.Reader(), sessionID)
	if err == store.ErrNotFound {
		return apierr.Validation("session %q not found", sessionID)
	}
	if err != nil {
		return apierr.Internal(err)
	}
	s.LastHeartbeat = time.Now().UTC()
	if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpsertSession(ctx, tx, s)
	}); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// Disconnect marks a session disconnected and starts its grace period
// (spec §4.K "On transport drop").
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	s, err := store.GetSession(ctx, m.store.Reader(), sessionID)
	if err == store.ErrNotFound {
		return nil // already gone, nothing to mark
	}
	if err != nil {
		return apierr.Internal(err)
	}
	now := time.Now().UTC()
	expires := now.Add(m.gracePeriod)
	s.Status = model.SessionDisconnected
	s.DisconnectedAt = &now
	s.GracePeriodExpires = &expires
	if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpsertSession(ctx, tx, s)
	}); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// Recover resumes a disconnected session presented within its grace
// period: status -> recovered, heartbeat refreshed, recovery_attempts
// incremented (spec §4.K). Returns an Authorization error if the
// session is unknown or its grace period has already elapsed, so the
// caller opens a fresh session instead.
func (m *Manager) Recover(ctx context.Context, sessionID, transportState string) (*model.SessionState, error) {
	s, err := store.GetSession(ctx, m.store.Reader(), sessionID)
	if err == store.ErrNotFound {
		return nil, apierr.Authorization("session %q not found, open a new session", sessionID)
	}
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if s.Status != model.SessionDisconnected {
		return nil, apierr.Validation("session %q is not disconnected", sessionID)
	}
	now := time.Now().UTC()
	if s.GracePeriodExpires != nil && now.After(*s.GracePeriodExpires) {
		return nil, apierr.Authorization("session %q grace period has expired", sessionID)
	}
	s.Status = model.SessionRecovered
	s.TransportState = transportState
	s.LastHeartbeat = now
	s.DisconnectedAt = nil
	s.GracePeriodExpires = nil
	s.RecoveryAttempts++
	if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.UpsertSession(ctx, tx, s)
	}); err != nil {
		return nil, apierr.Internal(err)
	}
	return s, nil
}

// SweepExpired finalizes every session whose grace period has elapsed
// while still disconnected, evicting its persisted row (spec §4.K
// "After expiry the persistence row is marked expired and evicted").
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := store.ListExpiredGracePeriods(ctx, m.store.Reader(), time.Now().UTC())
	if err != nil {
		return 0, apierr.Internal(err)
	}
	for _, s := range expired {
		s.Status = model.SessionExpired
		if err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := store.UpsertSession(ctx, tx, s); err != nil {
				return err
			}
			return store.DeleteSession(ctx, tx, s.SessionID)
		}); err != nil {
			m.log.WithError(err).Warn("failed to evict expired session")
		}
	}
	return len(expired), nil
}
