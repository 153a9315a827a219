package rag

import "testing"

func TestChunkMarkdownSplitsOnHeadings(t *testing.T) {
	text := "# Intro\nhello there\n## Details\nmore text here\n"
	chunks := ChunkMarkdown(text, 1000)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Metadata["heading"] != "Intro" {
		t.Errorf("chunk 0 heading = %v, want Intro", chunks[0].Metadata["heading"])
	}
	if chunks[1].Metadata["heading"] != "Details" {
		t.Errorf("chunk 1 heading = %v, want Details", chunks[1].Metadata["heading"])
	}
}

func TestChunkMarkdownWrapsLongSection(t *testing.T) {
	body := ""
	for i := 0; i < 50; i++ {
		body += "0123456789"
	}
	chunks := ChunkMarkdown("# Big\n"+body, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected a long section to split into multiple chunks, got %d", len(chunks))
	}
}

func TestChunkCodeOverlapsWindows(t *testing.T) {
	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, "line")
	}
	text := ""
	for _, l := range lines {
		text += l + "\n"
	}
	chunks := ChunkCode(text, 10, 3)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple overlapping windows, got %d", len(chunks))
	}
	first := chunks[0].Metadata["end_line"].(int)
	second := chunks[1].Metadata["start_line"].(int)
	if second > first {
		t.Errorf("window 2 should overlap window 1: window1 ends at %d, window2 starts at %d", first, second)
	}
}

func TestChunkCodeHandlesEmptyInput(t *testing.T) {
	if chunks := ChunkCode("", 10, 2); len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input, want 0", len(chunks))
	}
}

func TestChunkPlainSplitsByRuneCount(t *testing.T) {
	text := "abcdefghij"
	chunks := ChunkPlain(text, 4)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	joined := chunks[0].Text + chunks[1].Text + chunks[2].Text
	if joined != text {
		t.Errorf("roundtrip mismatch: got %q, want %q", joined, text)
	}
}

func TestChunkPlainEmptyTextProducesNoChunks(t *testing.T) {
	if chunks := ChunkPlain("   ", 100); len(chunks) != 0 {
		t.Errorf("got %d chunks for blank input, want 0", len(chunks))
	}
}
