// Package retrieval answers knowledge queries over the ingested corpus:
// similarity search, neighborhood spans, collection inventory and health.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/pkg/logger"
)

const (
	DefaultTopK = 8
	DefaultSpan = 2
	MaxTopK     = 50
)

type SearchParams struct {
	Query       string
	TopK        int
	MinScore    float64
	Collections []string
}

type Retriever struct {
	embedder embedding.Provider
	index    vector.Index
	catalog  *sqlite.Client
}

func NewRetriever(embedder embedding.Provider, index vector.Index, catalog *sqlite.Client) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		catalog:  catalog,
	}
}

// Search embeds the query and returns the best-scoring chunks. Results are
// ordered by descending score; equal scores order by ascending chunk index,
// then document id, so reruns of the same query return the same list.
func (r *Retriever) Search(ctx context.Context, params SearchParams) ([]models.SearchResult, error) {
	start := time.Now()

	if params.Query == "" {
		return nil, &errs.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if params.MinScore < 0 || params.MinScore > 1 {
		return nil, &errs.ValidationError{Field: "min_score", Reason: "must be in [0, 1]"}
	}
	for _, c := range params.Collections {
		if !models.ValidCollection(c) {
			return nil, &errs.ValidationError{Field: "collections", Reason: fmt.Sprintf("unknown collection %q", c)}
		}
	}

	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{params.Query})
	if err != nil {
		metrics.SearchTotal.WithLabelValues("knowledge", "error").Inc()
		return nil, &errs.EmbeddingError{Err: err}
	}

	hits, err := r.index.Query(ctx, vectors[0], vector.Filter{Collections: params.Collections}, topK)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("knowledge", "error").Inc()
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < params.MinScore {
			continue
		}
		results = append(results, models.SearchResult{
			ChunkID:  hit.ChunkID,
			Score:    hit.Score,
			Text:     hit.Text,
			Metadata: hit.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Metadata.ChunkIndex != results[j].Metadata.ChunkIndex {
			return results[i].Metadata.ChunkIndex < results[j].Metadata.ChunkIndex
		}
		return results[i].Metadata.DocumentID < results[j].Metadata.DocumentID
	})

	metrics.SearchTotal.WithLabelValues("knowledge", "success").Inc()
	metrics.SearchDuration.WithLabelValues("knowledge").Observe(time.Since(start).Seconds())
	metrics.SearchResultsCount.Observe(float64(len(results)))

	logger.Debug("Knowledge search completed",
		zap.String("query", params.Query),
		zap.Int("top_k", topK),
		zap.Float64("min_score", params.MinScore),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	return results, nil
}

// GetSpan returns the chunks of a document around a center index. The window
// is clipped to the document's bounds; a center outside them yields an empty
// span, not an error.
func (r *Retriever) GetSpan(ctx context.Context, documentID string, centerChunkIndex, span int) ([]models.Chunk, *models.Document, error) {
	if documentID == "" {
		return nil, nil, &errs.ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	if span < 0 {
		return nil, nil, &errs.ValidationError{Field: "span", Reason: "must not be negative"}
	}

	doc, err := r.catalog.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up document: %w", err)
	}
	if doc == nil {
		return nil, nil, &errs.ValidationError{Field: "document_id", Reason: fmt.Sprintf("unknown document %q", documentID)}
	}

	lo := centerChunkIndex - span
	if lo < 0 {
		lo = 0
	}
	hi := centerChunkIndex + span
	if hi > doc.ChunkCount-1 {
		hi = doc.ChunkCount - 1
	}
	if lo > hi {
		return []models.Chunk{}, doc, nil
	}

	chunks, err := r.catalog.GetSpan(ctx, documentID, lo, hi)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get span: %w", err)
	}

	return chunks, doc, nil
}

func (r *Retriever) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	return r.catalog.ListCollections(ctx)
}

// HealthCheck never returns an error; failures degrade the reported status.
func (r *Retriever) HealthCheck(ctx context.Context) models.HealthStatus {
	if err := r.index.Ping(ctx); err != nil {
		return models.HealthStatus{
			Status:  models.HealthError,
			Details: fmt.Sprintf("index unreachable: %v", err),
		}
	}

	docCount, err := r.catalog.CountDocuments(ctx)
	if err != nil {
		return models.HealthStatus{
			Status:  models.HealthDegraded,
			Details: fmt.Sprintf("catalog unavailable: %v", err),
		}
	}
	if docCount == 0 {
		return models.HealthStatus{
			Status:  models.HealthDegraded,
			Details: "no documents indexed",
		}
	}

	chunkCount, err := r.index.CountChunks(ctx)
	if err != nil {
		return models.HealthStatus{
			Status:  models.HealthDegraded,
			Details: fmt.Sprintf("index statistics unavailable: %v", err),
		}
	}

	return models.HealthStatus{
		Status:  models.HealthOK,
		Details: fmt.Sprintf("%d chunks indexed", chunkCount),
	}
}
