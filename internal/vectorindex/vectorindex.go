// Package vectorindex manages the embedding store's sqlite-vec virtual
// table: probing whether the extension loaded, tracking the configured
// embedding dimension, and performing the atomic migration a dimension
// change requires (spec §4.B invariant #5).
package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/store"
)

const vecTableName = "vec_embeddings"

func init() {
	sqlite_vec.Auto()
}

// Index owns the virtual table's lifecycle and the brute-force/vec0
// similarity queries built on top of it.
type Index struct {
	dimension int
	available bool
	log       *logger.Logger
}

// Open probes whether the sqlite-vec extension is loaded in this process
// (it auto-registers via the driver's connect hook) and ensures the vec0
// virtual table exists at dimension. A probe failure degrades to the
// brute-force cosine scan over rag_embeddings instead of failing startup
// (spec §4.B: the extension is optional; scoring must still work).
func Open(ctx context.Context, db *sqlx.DB, dimension int, log *logger.Logger) (*Index, error) {
	idx := &Index{dimension: dimension, log: log}

	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(chunk_id INTEGER PRIMARY KEY, embedding float[%d])`,
		vecTableName, dimension,
	))
	if err != nil {
		log.WithError(err).Warn("sqlite-vec virtual table unavailable, falling back to brute-force scan")
		idx.available = false
		return idx, nil
	}
	idx.available = true
	return idx, nil
}

// Available reports whether the vec0 virtual table backs queries.
func (idx *Index) Available() bool { return idx.available }

// Dimension returns the embedding dimension this index was opened with.
func (idx *Index) Dimension() int { return idx.dimension }

// CurrentDimension inspects sqlite_master for the vec0 table's declared
// dimension, used at boot to detect a dimension mismatch against the
// configured one (spec §4.B invariant #5).
func CurrentDimension(ctx context.Context, db *sqlx.DB) (int, bool, error) {
	var sqlText sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, vecTableName,
	).Scan(&sqlText)
	if err == sql.ErrNoRows || !sqlText.Valid {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read vec0 table definition: %w", err)
	}
	dim, ok := parseDimension(sqlText.String)
	return dim, ok, nil
}

func parseDimension(createSQL string) (int, bool) {
	var dim int
	n, _ := fmt.Sscanf(reverseFindFloatClause(createSQL), "float[%d]", &dim)
	return dim, n == 1
}

// reverseFindFloatClause extracts the "float[N]" fragment sqlite_vec emits
// in its CREATE VIRTUAL TABLE sql column, tolerant of column reordering.
func reverseFindFloatClause(s string) string {
	idx := indexOfFloatBracket(s)
	if idx < 0 {
		return ""
	}
	end := idx
	for end < len(s) && s[end] != ']' {
		end++
	}
	if end >= len(s) {
		return ""
	}
	return s[idx : end+1]
}

func indexOfFloatBracket(s string) int {
	for i := 0; i+6 <= len(s); i++ {
		if s[i:i+6] == "float[" {
			return i
		}
	}
	return -1
}

// MigrateDimension performs the full dimension-change transaction: drop
// every embedding, drop and recreate the vec0 table, reset RAG
// watermarks and content hashes so the background indexer treats every
// source as unseen. All-or-nothing (spec §4.B invariant #5).
func MigrateDimension(ctx context.Context, s *store.Store, newDimension int) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.DropAllEmbeddings(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTableName)); err != nil {
			return fmt.Errorf("drop vec0 table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE VIRTUAL TABLE %s USING vec0(chunk_id INTEGER PRIMARY KEY, embedding float[%d])`,
			vecTableName, newDimension,
		)); err != nil {
			return fmt.Errorf("recreate vec0 table: %w", err)
		}
		return nil
	})
}

// ScoredChunk is one query result: a chunk id with its similarity score.
type ScoredChunk struct {
	ChunkID int64
	Score   float64
}

// BruteForceTopK scans every stored embedding and returns the topK by
// cosine similarity to query. Used when the vec0 extension did not load,
// and as the reference implementation the vec0 path is checked against.
func BruteForceTopK(ctx context.Context, db *sqlx.DB, dimension int, query []float32, topK int) ([]ScoredChunk, error) {
	rows, err := store.AllEmbeddings(ctx, db, dimension)
	if err != nil {
		return nil, err
	}
	scored := make([]ScoredChunk, 0, len(rows))
	for _, r := range rows {
		vec := decodeFloat32LE(r.Vector)
		if len(vec) != dimension {
			continue
		}
		scored = append(scored, ScoredChunk{ChunkID: r.ChunkID, Score: cosineSimilarity(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// VecTopK queries the vec0 virtual table directly via its MATCH operator,
// used when Available() is true.
func (idx *Index) VecTopK(ctx context.Context, db *sqlx.DB, query []float32, topK int) ([]ScoredChunk, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}
	type row struct {
		ChunkID  int64   `db:"chunk_id"`
		Distance float64 `db:"distance"`
	}
	var rows []row
	err = sqlx.SelectContext(ctx, db, &rows, fmt.Sprintf(`
		SELECT chunk_id, distance FROM %s
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, vecTableName), blob, topK)
	if err != nil {
		return nil, fmt.Errorf("vec0 query: %w", err)
	}
	out := make([]ScoredChunk, len(rows))
	for i, r := range rows {
		out[i] = ScoredChunk{ChunkID: r.ChunkID, Score: 1 - r.Distance}
	}
	return out, nil
}

// PutVec mirrors an embedding into the vec0 table alongside its row in
// rag_embeddings, keeping both representations in sync.
func (idx *Index) PutVec(ctx context.Context, tx *sqlx.Tx, chunkID int64, vector []float32) error {
	if !idx.available {
		return nil
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("serialize embedding vector: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (chunk_id, embedding) VALUES (?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET embedding = excluded.embedding`, vecTableName),
		chunkID, blob,
	)
	if err != nil {
		return fmt.Errorf("put vec0 row: %w", err)
	}
	return nil
}

func encodeFloat32LE(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}

func decodeFloat32LE(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeVector converts a float32 vector into the little-endian blob
// stored in rag_embeddings.vector (spec §4.B).
func EncodeVector(v []float32) []byte { return encodeFloat32LE(v) }

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
