package rag

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
)

// Embedder is the RAG engine's out-of-scope collaborator (spec §4.I
// step 3): takes a list of strings, returns a list of float arrays of
// the configured dimension, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HTTPEmbedder calls a configured embedding endpoint, the shape most
// self-hosted and cloud embedding servers expose: POST a JSON object whose
// "input" field holds the strings, get back an object whose "embeddings"
// field holds one float array per input.
type HTTPEmbedder struct {
	endpoint  string
	dimension int
	client    *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder.
func NewHTTPEmbedder(endpoint string, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint:  endpoint,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimension returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed posts texts to the configured endpoint and validates the
// response shape, surfacing a clear error naming the likely cause if
// the dimension doesn't match (spec §4.I "Error mode").
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.endpoint == "" {
		return nil, apierr.External(nil, "embedding provider misconfigured: no endpoint set")
	}
	body, err := json.Marshal(embedRequest{Input: texts})
	if err != nil {
		return nil, apierr.Internal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apierr.External(err, "embedding provider unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.External(fmt.Errorf("status %d", resp.StatusCode), "embedding provider returned an error status")
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apierr.External(err, "embedding provider returned malformed response")
	}
	if len(out.Embeddings) != len(texts) {
		return nil, apierr.External(nil, "embedding provider returned %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	for _, v := range out.Embeddings {
		if len(v) != e.dimension {
			return nil, apierr.External(nil, "embedding provider returned dimension %d, expected %d", len(v), e.dimension)
		}
	}
	return out.Embeddings, nil
}

// HashEmbedder is a deterministic, dependency-free embedder used when no
// provider is configured (spec §4.I "Error mode": a misconfigured
// provider must be a clear error, not a crash — this lets the indexer
// run end to end in development and in tests without network access).
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder builds a HashEmbedder at the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

// Dimension returns the configured embedding dimension.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Embed derives a fixed-size pseudo-embedding from each text's SHA-256
// digest, repeated and truncated to fill the configured dimension. Not
// semantically meaningful; only useful for exercising the pipeline and
// the vec0/brute-force query paths without a real model.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		vec := make([]float32, e.dimension)
		for j := range vec {
			vec[j] = float32(sum[j%len(sum)]) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}
