package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/model"
)

// Namespaces partition the shared kv_store table by concern, the way the
// teacher keeps project_context, admin_config, and file_metadata as
// separate tables — folded into one opaque-container table here since
// spec §3 describes them as interchangeable key/value containers.
const (
	NamespaceProjectContext = "project_context"
	NamespaceAdminConfig    = "admin_config"
	NamespaceFileMetadata   = "file_metadata"
	NamespaceRAGWatermark   = "rag_watermark" // key: "last_indexed_<type>"
	NamespaceRAGHash        = "rag_hash"      // key: "hash_<ref>"
)

type kvRow struct {
	Namespace   string         `db:"namespace"`
	Key         string         `db:"key"`
	Value       string         `db:"value"`
	Description sql.NullString `db:"description"`
	UpdatedBy   sql.NullString `db:"updated_by"`
	LastUpdated string         `db:"last_updated"`
}

func (r kvRow) toModel() (*model.KVEntry, error) {
	t, err := time.Parse(time.RFC3339Nano, r.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("decode last_updated: %w", err)
	}
	return &model.KVEntry{
		Key:         r.Key,
		Value:       r.Value,
		Description: r.Description.String,
		UpdatedBy:   r.UpdatedBy.String,
		LastUpdated: t,
	}, nil
}

// SetKV upserts a key within a namespace.
func SetKV(ctx context.Context, tx *sqlx.Tx, namespace string, e *model.KVEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, key, value, description, updated_by, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_by = excluded.updated_by,
			last_updated = excluded.last_updated`,
		namespace, e.Key, e.Value, nullableStr(e.Description), nullableStr(e.UpdatedBy),
		e.LastUpdated.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set kv %s/%s: %w", namespace, e.Key, err)
	}
	return nil
}

// GetKV reads a single key from a namespace.
func GetKV(ctx context.Context, db sqlx.QueryerContext, namespace, key string) (*model.KVEntry, error) {
	var row kvRow
	err := sqlx.GetContext(ctx, db, &row,
		`SELECT * FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kv %s/%s: %w", namespace, key, err)
	}
	return row.toModel()
}

// ListKV returns every entry in a namespace.
func ListKV(ctx context.Context, db sqlx.QueryerContext, namespace string) ([]*model.KVEntry, error) {
	var rows []kvRow
	if err := sqlx.SelectContext(ctx, db, &rows,
		`SELECT * FROM kv_store WHERE namespace = ? ORDER BY key`, namespace); err != nil {
		return nil, fmt.Errorf("list kv %s: %w", namespace, err)
	}
	out := make([]*model.KVEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteKV removes a single key from a namespace.
func DeleteKV(ctx context.Context, tx *sqlx.Tx, namespace, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete kv %s/%s: %w", namespace, key, err)
	}
	return expectOneRow(res)
}
