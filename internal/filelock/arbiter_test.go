package filelock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func newTestArbiter(t *testing.T) (*Arbiter, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, logger.Default()), st
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		workDir string
		want    string
	}{
		{"absolute path ignores working dir", "/tmp/a.go", "/home/agent", "/tmp/a.go"},
		{"relative path joins working dir", "a.go", "/home/agent", "/home/agent/a.go"},
		{"relative path with no working dir", "a.go", "", "a.go"},
		{"cleans dot segments", "./sub/../a.go", "/home/agent", "/home/agent/a.go"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.path, tc.workDir))
		})
	}
}

// TestAcquireContention walks through scenario S3: agent A locks a file,
// agent B's acquire is rejected, a check from B reports locked/can_edit
// false, then A releases and B's acquire succeeds.
func TestAcquireContention(t *testing.T) {
	a, _ := newTestArbiter(t)
	ctx := context.Background()

	lock, err := a.Acquire(ctx, "/repo/main.go", "agent-a", "editing")
	require.NoError(t, err)
	assert.Equal(t, model.FileLockInUse, lock.Status)

	_, err = a.Acquire(ctx, "/repo/main.go", "agent-b", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by")

	status, err := a.Check(ctx, "/repo/main.go", "agent-b")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.False(t, status.CanEdit)
	require.NotNil(t, status.LockedBy)
	assert.Equal(t, "agent-a", status.LockedBy.AgentID)

	require.NoError(t, a.Release(ctx, "/repo/main.go", "agent-a"))

	status, err = a.Check(ctx, "/repo/main.go", "agent-b")
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.True(t, status.CanEdit)

	_, err = a.Acquire(ctx, "/repo/main.go", "agent-b", "")
	require.NoError(t, err)
}

func TestAcquireReacquireBySameAgent(t *testing.T) {
	a, _ := newTestArbiter(t)
	ctx := context.Background()

	_, err := a.Acquire(ctx, "/repo/main.go", "agent-a", "first pass")
	require.NoError(t, err)

	_, err = a.Acquire(ctx, "/repo/main.go", "agent-a", "second pass")
	require.NoError(t, err, "same agent re-acquiring its own lock should not conflict")
}

func TestReleaseWithoutLockFails(t *testing.T) {
	a, _ := newTestArbiter(t)
	ctx := context.Background()

	err := a.Release(ctx, "/repo/never-locked.go", "agent-a")
	require.Error(t, err)
}

func TestCheckUnlockedFile(t *testing.T) {
	a, _ := newTestArbiter(t)
	ctx := context.Background()

	status, err := a.Check(ctx, "/repo/untouched.go", "agent-a")
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.True(t, status.CanEdit)
	assert.Nil(t, status.LockedBy)
}
