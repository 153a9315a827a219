package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/config"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/vectorindex"
)

// indexerConcurrency bounds the errgroup worker pool processing files
// within one source-type sweep (spec §4.I "background indexer").
const indexerConcurrency = 4

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".rs": true, ".java": true, ".rb": true, ".c": true, ".h": true, ".cpp": true,
	".sh": true, ".sql": true, ".yaml": true, ".yml": true, ".json": true,
}

// Indexer runs the background pipeline: enumerate, chunk, embed, insert
// (spec §4.I steps 1-5).
type Indexer struct {
	store    *store.Store
	vec      *vectorindex.Index
	embedder Embedder
	cfg      config.RAGConfig
	log      *logger.Logger
}

// New builds an Indexer.
func New(s *store.Store, vec *vectorindex.Index, embedder Embedder, cfg config.RAGConfig, log *logger.Logger) *Indexer {
	return &Indexer{store: s, vec: vec, embedder: embedder, cfg: cfg, log: log.WithFields()}
}

// RunOnce sweeps every source type a single time. A running dimension
// migration (embedder dimension mismatched against the open index) aborts
// the sweep so the caller can retry once MigrateDimension completes
// (spec §5 "single-writer during the dimension migration").
func (ix *Indexer) RunOnce(ctx context.Context) error {
	if ix.embedder.Dimension() != ix.vec.Dimension() {
		return apierr.Invariant("embedding dimension %d does not match index dimension %d, migration required",
			ix.embedder.Dimension(), ix.vec.Dimension())
	}
	if err := ix.sweepFiles(ctx, model.RagSourceMarkdown, ix.cfg.MarkdownRoots, isMarkdownFile); err != nil {
		return err
	}
	if err := ix.sweepFiles(ctx, model.RagSourceCodeFile, ix.cfg.CodeRoots, isCodeFile); err != nil {
		return err
	}
	return nil
}

func isMarkdownFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func isCodeFile(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

// sweepFiles walks roots, selects files matching pick, and reindexes
// every one whose content hash changed since hash_<ref> was last
// recorded (spec §4.I step 1).
func (ix *Indexer) sweepFiles(ctx context.Context, sourceType model.RagSourceType, roots []string, pick func(string) bool) error {
	var candidates []string
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if pick(path) {
				candidates = append(candidates, path)
			}
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexerConcurrency)
	for _, path := range candidates {
		path := path
		g.Go(func() error {
			return ix.reindexFileIfChanged(gctx, sourceType, path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return ix.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.SetKV(ctx, tx, store.NamespaceRAGWatermark, &model.KVEntry{
			Key:         "last_indexed_" + string(sourceType),
			Value:       time.Now().UTC().Format(time.RFC3339Nano),
			UpdatedBy:   "indexer",
			LastUpdated: time.Now().UTC(),
		})
	})
}

func (ix *Indexer) reindexFileIfChanged(ctx context.Context, sourceType model.RagSourceType, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		ix.log.WithError(err).Warn("skip unreadable rag source file")
		return nil
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	existing, err := store.GetKV(ctx, ix.store.Reader(), store.NamespaceRAGHash, "hash_"+path)
	if err == nil && existing.Value == hash {
		return nil // unchanged
	}
	if err != nil && err != store.ErrNotFound {
		return apierr.Internal(err)
	}

	var chunks []Chunk
	switch sourceType {
	case model.RagSourceMarkdown:
		chunks = ChunkMarkdown(string(content), ix.cfg.ChunkSize)
	case model.RagSourceCodeFile:
		chunks = ChunkCode(string(content), ix.cfg.ChunkSize/10, ix.cfg.ChunkOverlap/10)
	default:
		chunks = ChunkPlain(string(content), ix.cfg.ChunkSize)
	}

	if err := ix.reindex(ctx, sourceType, path, chunks); err != nil {
		return err
	}

	return ix.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return store.SetKV(ctx, tx, store.NamespaceRAGHash, &model.KVEntry{
			Key:         "hash_" + path,
			Value:       hash,
			UpdatedBy:   "indexer",
			LastUpdated: time.Now().UTC(),
		})
	})
}

// ReindexText chunks and indexes an in-memory source (used for task
// notes, project context, and file metadata entries rather than files
// on disk) under ref, replacing any chunks already indexed for it.
func (ix *Indexer) ReindexText(ctx context.Context, sourceType model.RagSourceType, ref, text string) error {
	chunks := ChunkPlain(text, ix.cfg.ChunkSize)
	return ix.reindex(ctx, sourceType, ref, chunks)
}

// reindex deletes any prior chunks for ref, embeds the new chunk set in
// one batch call, and inserts each chunk + embedding inside a single
// transaction (spec §4.I steps 3-4).
func (ix *Indexer) reindex(ctx context.Context, sourceType model.RagSourceType, ref string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return apierr.Internal(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	return ix.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.DeleteChunksForRef(ctx, tx, sourceType, ref); err != nil {
			return apierr.Internal(err)
		}
		now := time.Now().UTC()
		for i, c := range chunks {
			meta := c.Metadata
			if meta == nil {
				meta = map[string]interface{}{}
			}
			meta["source_ref"] = ref
			row := &model.RagChunk{
				SourceType: sourceType,
				SourceRef:  ref,
				ChunkText:  c.Text,
				IndexedAt:  now,
				Metadata:   meta,
			}
			if err := store.InsertChunk(ctx, tx, row); err != nil {
				return apierr.Internal(err)
			}
			blob := vectorindex.EncodeVector(vectors[i])
			if err := store.PutEmbedding(ctx, tx, row.ID, ix.vec.Dimension(), blob); err != nil {
				return apierr.Internal(err)
			}
			if err := ix.vec.PutVec(ctx, tx, row.ID, vectors[i]); err != nil {
				return apierr.Internal(err)
			}
		}
		return nil
	})
}
