package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/vectorindex"
)

// Answer is ask_project_rag's response: an assembled, citeable block
// plus the raw source references backing it, never the embedding
// vector itself (spec §4.I "Query" contract).
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Source is one citation backing an Answer.
type Source struct {
	SourceType string  `json:"source_type"`
	SourceRef  string  `json:"source_ref"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// QueryEngine answers ask_project_rag against the configured index.
type QueryEngine struct {
	store    *store.Store
	vec      *vectorindex.Index
	embedder Embedder
	topK     int
	log      *logger.Logger
}

// NewQueryEngine builds a QueryEngine.
func NewQueryEngine(s *store.Store, vec *vectorindex.Index, embedder Embedder, topK int, log *logger.Logger) *QueryEngine {
	if topK <= 0 {
		topK = 8
	}
	return &QueryEngine{store: s, vec: vec, embedder: embedder, topK: topK, log: log.WithFields()}
}

// Ask embeds queryText, retrieves the top K chunks by vector distance,
// and assembles a cited answer block (spec §4.I "Query"). If the index
// has no usable backing (extension unavailable and nothing indexed yet,
// or an unconfigured provider), it returns a clear external error naming
// the likely cause rather than an empty answer.
func (q *QueryEngine) Ask(ctx context.Context, queryText string) (*Answer, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, apierr.Validation("query_text is required")
	}

	vectors, err := q.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	queryVec := vectors[0]

	var scored []vectorindex.ScoredChunk
	if q.vec.Available() {
		scored, err = q.vec.VecTopK(ctx, q.store.Reader(), queryVec, q.topK)
	} else {
		scored, err = vectorindex.BruteForceTopK(ctx, q.store.Reader(), q.vec.Dimension(), queryVec, q.topK)
	}
	if err != nil {
		return nil, apierr.External(err, "rag index query failed")
	}
	if len(scored) == 0 {
		return nil, apierr.External(nil, "rag index is empty: nothing has been indexed yet, or the sqlite-vec extension is not loaded and no embeddings are stored")
	}

	var sb strings.Builder
	sources := make([]Source, 0, len(scored))
	for i, sc := range scored {
		chunk, err := store.GetChunk(ctx, q.store.Reader(), sc.ChunkID)
		if err != nil {
			continue
		}
		snippet := chunk.ChunkText
		if len(snippet) > 400 {
			snippet = snippet[:400] + "…"
		}
		fmt.Fprintf(&sb, "[%d] (%s: %s, score %.3f)\n%s\n\n", i+1, chunk.SourceType, chunk.SourceRef, sc.Score, snippet)
		sources = append(sources, Source{
			SourceType: string(chunk.SourceType),
			SourceRef:  chunk.SourceRef,
			Score:      sc.Score,
			Snippet:    snippet,
		})
	}

	return &Answer{Text: strings.TrimSpace(sb.String()), Sources: sources}, nil
}
