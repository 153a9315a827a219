package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/model"
)

type ragChunkRow struct {
	ID         int64  `db:"id"`
	SourceType string `db:"source_type"`
	SourceRef  string `db:"source_ref"`
	ChunkText  string `db:"chunk_text"`
	IndexedAt  string `db:"indexed_at"`
	Metadata   string `db:"metadata"`
}

func (r ragChunkRow) toModel() (*model.RagChunk, error) {
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, r.IndexedAt)
	if err != nil {
		return nil, fmt.Errorf("decode indexed_at: %w", err)
	}
	return &model.RagChunk{
		ID:         r.ID,
		SourceType: model.RagSourceType(r.SourceType),
		SourceRef:  r.SourceRef,
		ChunkText:  r.ChunkText,
		IndexedAt:  t,
		Metadata:   meta,
	}, nil
}

// InsertChunk appends a new chunk row and writes the generated id back
// into c.ID, used by the indexer's chunk-then-embed path (spec §4.I).
func InsertChunk(ctx context.Context, tx *sqlx.Tx, c *model.RagChunk) error {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode chunk metadata: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rag_chunks (source_type, source_ref, chunk_text, indexed_at, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.SourceType), c.SourceRef, c.ChunkText, c.IndexedAt.Format(time.RFC3339Nano), string(b),
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read chunk id: %w", err)
	}
	c.ID = id
	return nil
}

// DeleteChunksForRef removes every chunk (and cascaded embedding) for a
// given source_ref, used when a source is deleted or fully re-chunked —
// the indexer's usual pattern is delete-then-reinsert rather than a
// per-chunk diff (spec §4.I).
func DeleteChunksForRef(ctx context.Context, tx *sqlx.Tx, sourceType model.RagSourceType, sourceRef string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM rag_chunks WHERE source_type = ? AND source_ref = ?`,
		string(sourceType), sourceRef)
	if err != nil {
		return fmt.Errorf("delete chunks for ref: %w", err)
	}
	return nil
}

// PutEmbedding stores the embedding vector for a chunk, as a little-endian
// float32 blob (spec §4.B) — the vectorindex package interprets the bytes.
func PutEmbedding(ctx context.Context, tx *sqlx.Tx, chunkID int64, dimension int, vector []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rag_embeddings (chunk_id, dimension, vector)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET dimension = excluded.dimension, vector = excluded.vector`,
		chunkID, dimension, vector,
	)
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// EmbeddingRow pairs a chunk with its raw embedding bytes for the brute
// force cosine scan in internal/vectorindex.
type EmbeddingRow struct {
	ChunkID    int64  `db:"chunk_id"`
	Dimension  int    `db:"dimension"`
	Vector     []byte `db:"vector"`
	SourceType string `db:"source_type"`
	SourceRef  string `db:"source_ref"`
	ChunkText  string `db:"chunk_text"`
}

// AllEmbeddings returns every stored embedding joined with its chunk text,
// for a brute-force similarity scan (spec §4.B Non-goal: no ANN index).
func AllEmbeddings(ctx context.Context, db sqlx.QueryerContext, dimension int) ([]EmbeddingRow, error) {
	var rows []EmbeddingRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT e.chunk_id, e.dimension, e.vector, c.source_type, c.source_ref, c.chunk_text
		FROM rag_embeddings e JOIN rag_chunks c ON c.id = e.chunk_id
		WHERE e.dimension = ?`, dimension); err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	return rows, nil
}

// epochTimestamp is the "never indexed" value every last_indexed_* kv
// row resets to on a dimension migration (spec §4.B invariant #5).
const epochTimestamp = "1970-01-01T00:00:00Z"

// DropAllEmbeddings wipes every embedding row, resets every watermark to
// epoch, and drops the content hashes, the atomic dimension-migration
// step spec §4.B invariant #5 requires whenever the configured embedding
// dimension changes. Watermarks are reset rather than deleted so a
// reindex sweep sees every source as stale, not merely unindexed; the
// hash rows carry no such semantic, so they're simply dropped to force
// a full re-chunk on next pass.
func DropAllEmbeddings(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_embeddings`); err != nil {
		return fmt.Errorf("drop embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE kv_store SET value = ?, last_updated = ? WHERE namespace = ?`,
		epochTimestamp, epochTimestamp, NamespaceRAGWatermark); err != nil {
		return fmt.Errorf("reset rag watermarks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ?`, NamespaceRAGHash); err != nil {
		return fmt.Errorf("reset rag hashes: %w", err)
	}
	return nil
}

// GetChunk looks up a single chunk by id.
func GetChunk(ctx context.Context, db sqlx.QueryerContext, chunkID int64) (*model.RagChunk, error) {
	var row ragChunkRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT * FROM rag_chunks WHERE id = ?`, chunkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return row.toModel()
}
