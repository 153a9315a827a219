package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/fleetmcp/coordinator/internal/model"
)

type fileStatusRow struct {
	ID         int64          `db:"id"`
	FilePath   string         `db:"file_path"`
	AgentID    string         `db:"agent_id"`
	LockedAt   string         `db:"locked_at"`
	ReleasedAt sql.NullString `db:"released_at"`
	Status     string         `db:"status"`
	Notes      sql.NullString `db:"notes"`
}

func (r fileStatusRow) toModel() (*model.FileStatus, error) {
	lockedAt, err := time.Parse(time.RFC3339Nano, r.LockedAt)
	if err != nil {
		return nil, fmt.Errorf("decode locked_at: %w", err)
	}
	fs := &model.FileStatus{
		ID:       r.ID,
		FilePath: r.FilePath,
		AgentID:  r.AgentID,
		LockedAt: lockedAt,
		Status:   model.FileLockStatus(r.Status),
		Notes:    r.Notes.String,
	}
	if r.ReleasedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.ReleasedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode released_at: %w", err)
		}
		fs.ReleasedAt = &t
	}
	return fs, nil
}

// ErrFileLocked is returned when a file's unique partial index on
// status='in_use' rejects a second concurrent lock (spec §4.G invariant:
// at most one in_use row per file path).
var ErrFileLocked = errors.New("file is already locked by another agent")

// AcquireFileLock inserts an in_use row for filePath. The partial unique
// index on (file_path) WHERE status='in_use' is the actual enforcement
// point; this function only translates the constraint violation. The
// generated row id is written back into fs.ID.
func AcquireFileLock(ctx context.Context, tx *sqlx.Tx, fs *model.FileStatus) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO file_status (file_path, agent_id, locked_at, status, notes)
		VALUES (?, ?, ?, ?, ?)`,
		fs.FilePath, fs.AgentID, fs.LockedAt.Format(time.RFC3339Nano), string(fs.Status), nullableStr(fs.Notes),
	)
	if isUniqueConstraintErr(err) {
		return ErrFileLocked
	}
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read file lock id: %w", err)
	}
	fs.ID = id
	return nil
}

// ReleaseFileLock marks the active lock row for filePath released.
func ReleaseFileLock(ctx context.Context, tx *sqlx.Tx, filePath, agentID string, status model.FileLockStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE file_status SET status = ?, released_at = ?
		WHERE file_path = ? AND agent_id = ? AND status = 'in_use'`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), filePath, agentID,
	)
	if err != nil {
		return fmt.Errorf("release file lock: %w", err)
	}
	return expectOneRow(res)
}

// GetActiveLock returns the current in_use row for filePath, if any.
func GetActiveLock(ctx context.Context, db sqlx.QueryerContext, filePath string) (*model.FileStatus, error) {
	var row fileStatusRow
	err := sqlx.GetContext(ctx, db, &row,
		`SELECT * FROM file_status WHERE file_path = ? AND status = 'in_use'`, filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active lock: %w", err)
	}
	return row.toModel()
}

// ListLocksByAgent returns every lock (active or released) held by agentID.
func ListLocksByAgent(ctx context.Context, db sqlx.QueryerContext, agentID string) ([]*model.FileStatus, error) {
	var rows []fileStatusRow
	if err := sqlx.SelectContext(ctx, db, &rows,
		`SELECT * FROM file_status WHERE agent_id = ? ORDER BY locked_at DESC`, agentID); err != nil {
		return nil, fmt.Errorf("list locks by agent: %w", err)
	}
	out := make([]*model.FileStatus, 0, len(rows))
	for _, r := range rows {
		fs, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, nil
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
