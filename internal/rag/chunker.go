// Package rag implements the background indexing pipeline and the
// ask_project_rag query front end over internal/vectorindex (spec §4.I).
package rag

import (
	"strings"
)

// Chunk is one unit of text produced by the chunker, ready to be
// inserted as a model.RagChunk.
type Chunk struct {
	Text     string
	Metadata map[string]interface{}
}

// ChunkMarkdown splits markdown text on heading boundaries (spec §4.I
// step 2 "markdown-aware"). Each chunk carries the nearest heading above
// it so the query front end can cite a section, not just a byte offset.
// A section longer than maxRunes is cut into maxRunes-sized pieces.
func ChunkMarkdown(text string, maxRunes int) []Chunk {
	if maxRunes <= 0 {
		maxRunes = 1200
	}
	lines := strings.Split(text, "\n")
	var chunks []Chunk
	var heading string
	var buf strings.Builder

	flush := func() {
		body := strings.TrimSpace(buf.String())
		if body == "" {
			return
		}
		for _, piece := range splitByRunes(body, maxRunes) {
			chunks = append(chunks, Chunk{
				Text:     piece,
				Metadata: map[string]interface{}{"heading": heading},
			})
		}
		buf.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return chunks
}

// ChunkCode splits source text into overlapping line windows (spec
// §4.I step 2 "line-aware for code"). windowLines and overlapLines come
// from config.RAG.ChunkSize/ChunkOverlap, which the indexer divides by 10
// and passes as line counts rather than rune counts for code — round-trip fidelity there matters
// more at the line granularity a human (or agent) actually reads.
func ChunkCode(text string, windowLines, overlapLines int) []Chunk {
	if windowLines <= 0 {
		windowLines = 120
	}
	if overlapLines < 0 || overlapLines >= windowLines {
		overlapLines = windowLines / 6
	}
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil
	}
	var chunks []Chunk
	step := windowLines - overlapLines
	if step <= 0 {
		step = windowLines
	}
	for start := 0; start < len(lines); start += step {
		end := start + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if body != "" {
			chunks = append(chunks, Chunk{
				Text: body,
				Metadata: map[string]interface{}{
					"start_line": start + 1,
					"end_line":   end,
				},
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// ChunkPlain is the fallback splitter for context/task/file-metadata
// sources: fixed-size rune windows, no overlap, no structural awareness.
func ChunkPlain(text string, maxRunes int) []Chunk {
	if maxRunes <= 0 {
		maxRunes = 1200
	}
	var chunks []Chunk
	for _, piece := range splitByRunes(strings.TrimSpace(text), maxRunes) {
		if piece != "" {
			chunks = append(chunks, Chunk{Text: piece})
		}
	}
	return chunks
}

func splitByRunes(s string, maxRunes int) []string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(runes); start += maxRunes {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
