// Package vector defines the vector index contract: idempotent chunk upserts
// keyed by chunk id, filtered similarity queries, collection inventory and
// liveness probing.
package vector

import (
	"context"

	"github.com/wargame-agent/backend/internal/storage/models"
)

// Row is one chunk to index: its vector, text and denormalized metadata.
type Row struct {
	ChunkID  string
	Text     string
	Vector   []float32
	Metadata models.ResultMetadata
}

// Hit is one scored query result. Score is a 0-1 similarity, higher closer.
type Hit struct {
	ChunkID  string
	Score    float64
	Text     string
	Metadata models.ResultMetadata
}

// Filter restricts a query. An empty Collections slice matches everything.
type Filter struct {
	Collections []string
}

func (f Filter) MatchesCollection(name string) bool {
	if len(f.Collections) == 0 {
		return true
	}
	for _, c := range f.Collections {
		if c == name {
			return true
		}
	}
	return false
}

// CollectionCount is one collection present in the index with its distinct
// document count.
type CollectionCount struct {
	Name          string
	DocumentCount int
}

type Index interface {
	Upsert(ctx context.Context, rows []Row) error
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
	ListCollections(ctx context.Context) ([]CollectionCount, error)
	CountChunks(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
