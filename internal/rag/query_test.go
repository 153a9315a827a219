package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmcp/coordinator/internal/common/config"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/vectorindex"
)

func TestAskRejectsEmptyQuery(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer st.Close()

	vec, err := vectorindex.Open(ctx, st.Writer(), 16, logger.Default())
	require.NoError(t, err)
	q := NewQueryEngine(st, vec, NewHashEmbedder(16), 4, logger.Default())

	_, err = q.Ask(ctx, "   ")
	require.Error(t, err)
}

func TestAskReturnsClearErrorWhenIndexEmpty(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer st.Close()

	vec, err := vectorindex.Open(ctx, st.Writer(), 16, logger.Default())
	require.NoError(t, err)
	q := NewQueryEngine(st, vec, NewHashEmbedder(16), 4, logger.Default())

	_, err = q.Ask(ctx, "what does this project do")
	require.Error(t, err)
}

// TestAskReturnsIndexedChunkAsTopResult seeds one chunk through the
// indexer's text path and confirms Ask surfaces it as the best (only)
// match, citing its source.
func TestAskReturnsIndexedChunkAsTopResult(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer st.Close()

	embedder := NewHashEmbedder(16)
	vec, err := vectorindex.Open(ctx, st.Writer(), 16, logger.Default())
	require.NoError(t, err)

	indexer := New(st, vec, embedder, config.RAGConfig{ChunkSize: 1000}, logger.Default())
	require.NoError(t, indexer.ReindexText(ctx, model.RagSourceContext, "notes-1", "the coordinator assigns tasks to agents"))

	q := NewQueryEngine(st, vec, embedder, 4, logger.Default())
	answer, err := q.Ask(ctx, "the coordinator assigns tasks to agents")
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "notes-1", answer.Sources[0].SourceRef)
	assert.Contains(t, answer.Text, "notes-1")
}
