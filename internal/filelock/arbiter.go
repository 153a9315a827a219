// Package filelock is the at-most-one-owner file-lock arbiter (spec
// §4.G): acquire fails against a different agent's active lock, release
// closes this agent's own lock, and every transition is mirrored into
// the audit log as a file_in_use/file_released AgentAction.
package filelock

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

// Arbiter owns the file_status table's invariant: at most one in_use
// row per normalized path.
type Arbiter struct {
	store *store.Store
	log   *logger.Logger
}

// New builds an Arbiter.
func New(s *store.Store, log *logger.Logger) *Arbiter {
	return &Arbiter{store: s, log: log.WithFields()}
}

// Normalize resolves a possibly-relative path against the requesting
// agent's working directory, matching spec §4.G's normalization rule.
func Normalize(path, workingDirectory string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if workingDirectory == "" {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workingDirectory, path))
}

// Acquire marks filePath in_use by agentID. Fails if another agent
// already holds it; releases and replaces any stale lock this same
// agent already held on the path (spec §4.G "Acquire").
func (a *Arbiter) Acquire(ctx context.Context, filePath, agentID, notes string) (*model.FileStatus, error) {
	var out *model.FileStatus
	err := a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		active, err := store.GetActiveLock(ctx, tx, filePath)
		if err != nil && err != store.ErrNotFound {
			return apierr.Internal(err)
		}
		if err == nil && active.AgentID != agentID {
			return apierr.Invariant("file %q is locked by %q", filePath, active.AgentID)
		}
		if err == nil && active.AgentID == agentID {
			if err := store.ReleaseFileLock(ctx, tx, filePath, agentID, model.FileLockReleased); err != nil {
				return apierr.Internal(err)
			}
		}
		fs := &model.FileStatus{
			FilePath: filePath,
			AgentID:  agentID,
			LockedAt: time.Now().UTC(),
			Status:   model.FileLockInUse,
			Notes:    notes,
		}
		if err := store.AcquireFileLock(ctx, tx, fs); err != nil {
			if err == store.ErrFileLocked {
				return apierr.Invariant("file %q is locked by another agent", filePath)
			}
			return apierr.Internal(err)
		}
		if err := recordAction(ctx, tx, agentID, "file_in_use", filePath); err != nil {
			return err
		}
		out = fs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release closes agentID's active lock on filePath (spec §4.G "Release").
func (a *Arbiter) Release(ctx context.Context, filePath, agentID string) error {
	return a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.ReleaseFileLock(ctx, tx, filePath, agentID, model.FileLockReleased); err != nil {
			if err == store.ErrNotFound {
				return apierr.Invariant("no active lock on %q held by %q", filePath, agentID)
			}
			return apierr.Internal(err)
		}
		return recordAction(ctx, tx, agentID, "file_released", filePath)
	})
}

// Status describes a file's current lock state for check_file_status.
type Status struct {
	Locked   bool
	CanEdit  bool
	LockedBy *model.FileStatus
}

// Check reports filePath's current lock state from the requesting
// agent's perspective (spec §6 check_file_status, scenario S3).
func (a *Arbiter) Check(ctx context.Context, filePath, requesterID string) (*Status, error) {
	active, err := store.GetActiveLock(ctx, a.store.Reader(), filePath)
	if err == store.ErrNotFound {
		return &Status{Locked: false, CanEdit: true}, nil
	}
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return &Status{
		Locked:   true,
		CanEdit:  requesterID != "" && active.AgentID == requesterID,
		LockedBy: active,
	}, nil
}

// ListByAgent returns every lock (active or released) agentID has held.
func (a *Arbiter) ListByAgent(ctx context.Context, agentID string) ([]*model.FileStatus, error) {
	locks, err := store.ListLocksByAgent(ctx, a.store.Reader(), agentID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return locks, nil
}

// ReleaseAllForAgent releases every in_use lock agentID holds, used by
// the agent manager on terminate (the spec doesn't require this, but an
// agent that no longer exists should not keep files locked forever).
func (a *Arbiter) ReleaseAllForAgent(ctx context.Context, tx *sqlx.Tx, agentID string) error {
	locks, err := store.ListLocksByAgent(ctx, tx, agentID)
	if err != nil {
		return apierr.Internal(err)
	}
	for _, l := range locks {
		if l.Status != model.FileLockInUse {
			continue
		}
		if err := store.ReleaseFileLock(ctx, tx, l.FilePath, agentID, model.FileLockReleased); err != nil {
			return apierr.Internal(err)
		}
		if err := recordAction(ctx, tx, agentID, "file_released", l.FilePath); err != nil {
			return err
		}
	}
	return nil
}

func recordAction(ctx context.Context, tx *sqlx.Tx, agentID, actionType, filePath string) error {
	a := &model.AgentAction{
		AgentID:    agentID,
		ActionType: actionType,
		Timestamp:  time.Now().UTC(),
		Details:    map[string]interface{}{"filepath": filePath},
	}
	if err := store.RecordAction(ctx, tx, a); err != nil {
		return apierr.Internal(err)
	}
	return nil
}
