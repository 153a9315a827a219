package rag

import (
	"context"
	"testing"
)

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a[0]) != 16 {
		t.Fatalf("got dimension %d, want 16", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("embedding not deterministic at index %d: %v != %v", i, a[0][i], b[0][i])
		}
	}
}

func TestHashEmbedderDiffersAcrossInputs(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()

	out, err := e.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d vectors, want 2", len(out))
	}
	identical := true
	for i := range out[0] {
		if out[0][i] != out[1][i] {
			identical = false
			break
		}
	}
	if identical {
		t.Error("distinct inputs produced identical embeddings")
	}
}

func TestHTTPEmbedderRejectsEmptyEndpoint(t *testing.T) {
	e := NewHTTPEmbedder("", 16)
	_, err := e.Embed(context.Background(), []string{"hi"})
	if err == nil {
		t.Fatal("expected an error for an unconfigured embedding endpoint")
	}
}
