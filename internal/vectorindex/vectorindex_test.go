package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

func TestEncodeDecodeFloat32Roundtrip(t *testing.T) {
	in := []float32{1.5, -2.25, 0, 3.125}
	out := decodeFloat32LE(EncodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("got %d floats, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := cosineSimilarity(v, v); got < 0.999 || got > 1.001 {
		t.Errorf("cosine(v, v) = %v, want ~1", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := cosineSimilarity(a, b); got != 0 {
		t.Errorf("cosine(a, b) = %v, want 0", got)
	}
}

// TestMigrateDimensionResetsEmbeddingsButKeepsChunks is scenario S5:
// a dimension change wipes every embedding row, resets every watermark
// to epoch, and drops the content hash keys — but the chunk text itself
// survives so the indexer can re-embed it at the new dimension on its
// next pass.
func TestMigrateDimensionResetsEmbeddingsButKeepsChunks(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer st.Close()

	now := time.Now().UTC()
	var chunkID int64
	err = st.WithTx(ctx, func(tx *sqlx.Tx) error {
		chunk := &model.RagChunk{
			SourceType: model.RagSourceMarkdown,
			SourceRef:  "README.md",
			ChunkText:  "hello world",
			IndexedAt:  now,
		}
		if err := store.InsertChunk(ctx, tx, chunk); err != nil {
			return err
		}
		chunkID = chunk.ID
		if err := store.PutEmbedding(ctx, tx, chunkID, 384, EncodeVector([]float32{0.1, 0.2})); err != nil {
			return err
		}
		if err := store.SetKV(ctx, tx, store.NamespaceRAGWatermark, &model.KVEntry{
			Key: "last_indexed_markdown", Value: now.Format(time.RFC3339Nano), LastUpdated: now,
		}); err != nil {
			return err
		}
		return store.SetKV(ctx, tx, store.NamespaceRAGHash, &model.KVEntry{
			Key: "hash_README.md", Value: "deadbeef", LastUpdated: now,
		})
	})
	if err != nil {
		t.Fatalf("seed rag state: %v", err)
	}

	if err := MigrateDimension(ctx, st, 768); err != nil {
		t.Fatalf("migrate dimension: %v", err)
	}

	var embeddingCount, chunkCount int
	if err := st.Reader().GetContext(ctx, &embeddingCount, `SELECT COUNT(*) FROM rag_embeddings`); err != nil {
		t.Fatalf("count embeddings: %v", err)
	}
	if embeddingCount != 0 {
		t.Errorf("embeddings after migration = %d, want 0", embeddingCount)
	}
	if err := st.Reader().GetContext(ctx, &chunkCount, `SELECT COUNT(*) FROM rag_chunks`); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunkCount != 1 {
		t.Errorf("chunks after migration = %d, want 1 (chunk text preserved)", chunkCount)
	}

	watermark, err := store.GetKV(ctx, st.Reader(), store.NamespaceRAGWatermark, "last_indexed_markdown")
	if err != nil {
		t.Fatalf("get watermark after migration: %v", err)
	}
	if watermark.Value != "1970-01-01T00:00:00Z" {
		t.Errorf("last_indexed_markdown = %q, want epoch", watermark.Value)
	}
	_, err = store.GetKV(ctx, st.Reader(), store.NamespaceRAGHash, "hash_README.md")
	if err != store.ErrNotFound {
		t.Errorf("hash key survived migration, want ErrNotFound, got %v", err)
	}

	dim, ok, err := CurrentDimension(ctx, st.Writer())
	if err != nil {
		t.Fatalf("current dimension: %v", err)
	}
	if !ok {
		t.Fatal("expected a vec0 table to still be declared after migration")
	}
	// ok above means the vec0 table was recreated, so the extension loaded.
	if dim != 768 {
		t.Errorf("declared vec0 dimension = %d, want 768", dim)
	}
	idx, err := Open(ctx, st.Writer(), 768, logger.Default())
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	if idx.Dimension() != 768 {
		t.Errorf("dimension = %d, want 768", idx.Dimension())
	}
}
