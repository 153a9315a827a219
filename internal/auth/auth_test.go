package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func newTestService(t *testing.T, adminToken string) (*Service, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, 16, adminToken), st
}

func TestGenerateTokenIsHexOfConfiguredLength(t *testing.T) {
	svc, _ := newTestService(t, "admin-secret")
	token, err := svc.GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 32) // 16 bytes hex-encoded
	token2, err := svc.GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestVerifyTokenRejectsEmpty(t *testing.T) {
	svc, _ := newTestService(t, "admin-secret")
	_, err := svc.VerifyToken(context.Background(), "")
	require.Error(t, err)
}

func TestVerifyTokenRejectsUnknown(t *testing.T) {
	svc, _ := newTestService(t, "admin-secret")
	_, err := svc.VerifyToken(context.Background(), "not-a-real-token")
	require.Error(t, err)
}

func TestVerifyTokenResolvesKnownAgent(t *testing.T) {
	svc, st := newTestService(t, "admin-secret")
	ctx := context.Background()
	now := time.Now().UTC()
	err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.CreateAgent(ctx, tx, &model.Agent{
			Token: "known-token", AgentID: "agent-a", Status: model.AgentStatusActive,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	agent, err := svc.VerifyToken(ctx, "known-token")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", agent.AgentID)

	id, err := svc.AgentIDFor(ctx, "known-token")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", id)
}

func TestVerifyAdminRequiresExactMatch(t *testing.T) {
	svc, _ := newTestService(t, "admin-secret")
	require.NoError(t, svc.VerifyAdmin("admin-secret"))
	require.Error(t, svc.VerifyAdmin("wrong-secret"))
	require.Error(t, svc.VerifyAdmin(""))
}

func TestRequireCapability(t *testing.T) {
	agent := &model.Agent{AgentID: "agent-a", Capabilities: []string{model.BackgroundCapability}}
	assert.NoError(t, RequireCapability(agent, model.BackgroundCapability))
	assert.Error(t, RequireCapability(agent, model.OperatorCapability))
	assert.Error(t, RequireCapability(nil, model.BackgroundCapability))
}
