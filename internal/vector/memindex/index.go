// Package memindex provides a process-local vector.Index backed by a map and
// brute-force cosine scan. It backs tests and single-node deployments that do
// not run Milvus.
package memindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/wargame-agent/backend/internal/vector"
)

type Index struct {
	mu      sync.RWMutex
	rows    map[string]vector.Row
	pingErr error
}

func New() *Index {
	return &Index{rows: make(map[string]vector.Row)}
}

// SetPingError forces Ping to return err until cleared with nil.
func (ix *Index) SetPingError(err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pingErr = err
}

func (ix *Index) Upsert(_ context.Context, rows []vector.Row) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, row := range rows {
		ix.rows[row.ChunkID] = row
	}
	return nil
}

func (ix *Index) Query(_ context.Context, queryVector []float32, filter vector.Filter, topK int) ([]vector.Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]vector.Hit, 0)
	for _, row := range ix.rows {
		if !filter.MatchesCollection(row.Metadata.Collection) {
			continue
		}
		hits = append(hits, vector.Hit{
			ChunkID:  row.ChunkID,
			Score:    cosine(queryVector, row.Vector),
			Text:     row.Text,
			Metadata: row.Metadata,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (ix *Index) DeleteDocument(_ context.Context, documentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, row := range ix.rows {
		if row.Metadata.DocumentID == documentID {
			delete(ix.rows, id)
		}
	}
	return nil
}

func (ix *Index) ListCollections(_ context.Context) ([]vector.CollectionCount, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docs := make(map[string]map[string]bool)
	for _, row := range ix.rows {
		name := row.Metadata.Collection
		if docs[name] == nil {
			docs[name] = make(map[string]bool)
		}
		docs[name][row.Metadata.DocumentID] = true
	}

	counts := make([]vector.CollectionCount, 0, len(docs))
	for name, ids := range docs {
		counts = append(counts, vector.CollectionCount{Name: name, DocumentCount: len(ids)})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Name < counts[j].Name })
	return counts, nil
}

func (ix *Index) CountChunks(_ context.Context) (int64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return int64(len(ix.rows)), nil
}

func (ix *Index) Ping(_ context.Context) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.pingErr
}

func (ix *Index) Close() error {
	return nil
}

// cosine similarity clamped to the 0-1 score scale used by the retriever.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
