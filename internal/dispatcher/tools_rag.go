package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerRAGTools wires ask_project_rag and get_rag_status (spec §4.I, §6).
func registerRAGTools(s *server.MCPServer, d *Deps) {
	if !enabled(d, "rag") {
		return
	}
	s.AddTool(
		mcp.NewTool("ask_project_rag",
			mcp.WithDescription("Ask a question answered from the indexed project knowledge base, with citations."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Question text")),
		),
		askProjectRAGHandler(d),
	)
	s.AddTool(
		mcp.NewTool("get_rag_status",
			mcp.WithDescription("Report whether the RAG index is available, its dimension, and how much it has indexed."),
		),
		getRAGStatusHandler(d),
	)
}

func askProjectRAGHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return errResult(err), nil
		}
		answer, err := d.Query.Ask(ctx, query)
		if err != nil {
			return errResult(err), nil
		}
		var sb strings.Builder
		sb.WriteString(answer.Text)
		sb.WriteString("\n\nsources:\n")
		for _, src := range answer.Sources {
			fmt.Fprintf(&sb, "- %s:%s (score %.3f)\n", src.SourceType, src.SourceRef, src.Score)
		}
		return textResult("%s", sb.String()), nil
	}
}

func getRAGStatusHandler(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var chunkCount, embeddingCount int
		if err := d.Store.Reader().GetContext(ctx, &chunkCount, `SELECT COUNT(*) FROM rag_chunks`); err != nil {
			return errResult(err), nil
		}
		if err := d.Store.Reader().GetContext(ctx, &embeddingCount, `SELECT COUNT(*) FROM rag_embeddings`); err != nil {
			return errResult(err), nil
		}
		status := "unavailable"
		if d.Vec.Available() {
			status = "vec0"
		} else if chunkCount > 0 {
			status = "brute-force fallback"
		}
		return textResult("rag index: %s, dimension=%d, chunks=%d, embeddings=%d",
			status, d.Vec.Dimension(), chunkCount, embeddingCount), nil
	}
}
