// Package embedding provides the embedding provider contract consumed by
// ingestion, retrieval and memory components.
package embedding

import "context"

type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Cache stores embedding vectors keyed by content hash. A nil vector with a
// nil error is a miss.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, error)
	SetEmbedding(ctx context.Context, key string, vector []float32) error
}
