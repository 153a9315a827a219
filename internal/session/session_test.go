package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func newTestManager(t *testing.T, gracePeriod time.Duration) *Manager {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, gracePeriod, logger.Default())
}

func TestOpenThenTouch(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	s, err := m.Open(ctx, "sess-1", "sse")
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, s.Status)

	require.NoError(t, m.Touch(ctx, "sess-1"))
}

func TestTouchUnknownSessionFails(t *testing.T) {
	m := newTestManager(t, time.Minute)
	err := m.Touch(context.Background(), "ghost")
	require.Error(t, err)
}

func TestDisconnectThenRecoverWithinGracePeriod(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()

	_, err := m.Open(ctx, "sess-1", "sse")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "sess-1"))

	recovered, err := m.Recover(ctx, "sess-1", "streamable")
	require.NoError(t, err)
	assert.Equal(t, model.SessionRecovered, recovered.Status)
	assert.Equal(t, 1, recovered.RecoveryAttempts)
	assert.Nil(t, recovered.GracePeriodExpires)
}

func TestRecoverAfterGracePeriodExpiresFails(t *testing.T) {
	m := newTestManager(t, -time.Second) // already-expired grace period
	ctx := context.Background()

	_, err := m.Open(ctx, "sess-1", "sse")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "sess-1"))

	_, err = m.Recover(ctx, "sess-1", "sse")
	require.Error(t, err)
}

func TestSweepExpiredEvictsPastGracePeriod(t *testing.T) {
	m := newTestManager(t, -time.Second)
	ctx := context.Background()

	_, err := m.Open(ctx, "sess-1", "sse")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "sess-1"))

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetSession(ctx, m.store.Reader(), "sess-1")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestSweepExpiredNoopWhenNothingExpired(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()

	_, err := m.Open(ctx, "sess-1", "sse")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "sess-1"))

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
