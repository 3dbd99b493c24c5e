package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/internal/vector/memindex"
)

const testDim = 256

func newTestRetriever(t *testing.T) (*Retriever, *memindex.Index, *sqlite.Client, *embedding.Fake) {
	t.Helper()

	catalog, err := sqlite.NewClient(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, catalog.InitSchema())
	t.Cleanup(func() { catalog.Close() })

	fake := embedding.NewFake(testDim)
	index := memindex.New()
	return NewRetriever(fake, index, catalog), index, catalog, fake
}

func seedChunk(t *testing.T, index *memindex.Index, fake *embedding.Fake, documentID string, chunkIndex int, collection, text string) {
	t.Helper()

	vectors, err := fake.Embed(context.Background(), []string{text})
	require.NoError(t, err)

	err = index.Upsert(context.Background(), []vector.Row{{
		ChunkID: fmt.Sprintf("%s:%d", documentID, chunkIndex),
		Text:    text,
		Vector:  vectors[0],
		Metadata: models.ResultMetadata{
			DocumentID: documentID,
			Collection: collection,
			ChunkIndex: chunkIndex,
		},
	}})
	require.NoError(t, err)
}

func TestSearchExactMatchRanksFirst(t *testing.T) {
	retriever, index, _, fake := newTestRetriever(t)
	ctx := context.Background()

	seedChunk(t, index, fake, "doc1", 0, models.CollectionDoctrine, "urban operations in dense terrain")
	seedChunk(t, index, fake, "doc1", 1, models.CollectionDoctrine, "logistics over extended supply lines")

	results, err := retriever.Search(ctx, SearchParams{Query: "urban operations in dense terrain"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc1:0", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTieBreaksByChunkIndexThenDocumentID(t *testing.T) {
	retriever, index, _, fake := newTestRetriever(t)
	ctx := context.Background()

	text := "identical chunk text for tie breaking"
	seedChunk(t, index, fake, "docB", 2, models.CollectionAAR, text)
	seedChunk(t, index, fake, "docB", 1, models.CollectionAAR, text)
	seedChunk(t, index, fake, "docA", 1, models.CollectionAAR, text)

	results, err := retriever.Search(ctx, SearchParams{Query: text})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "docA:1", results[0].ChunkID)
	assert.Equal(t, "docB:1", results[1].ChunkID)
	assert.Equal(t, "docB:2", results[2].ChunkID)
}

func TestSearchMinScoreFilters(t *testing.T) {
	retriever, index, _, fake := newTestRetriever(t)
	ctx := context.Background()

	seedChunk(t, index, fake, "doc1", 0, models.CollectionIntel, "enemy armor massing near the border")
	seedChunk(t, index, fake, "doc2", 0, models.CollectionIntel, "completely unrelated maintenance schedule")

	results, err := retriever.Search(ctx, SearchParams{
		Query:    "enemy armor massing near the border",
		MinScore: 0.999,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1:0", results[0].ChunkID)
}

func TestSearchCollectionFilter(t *testing.T) {
	retriever, index, _, fake := newTestRetriever(t)
	ctx := context.Background()

	seedChunk(t, index, fake, "doc1", 0, models.CollectionDoctrine, "river crossing operations")
	seedChunk(t, index, fake, "doc2", 0, models.CollectionAAR, "river crossing operations")

	results, err := retriever.Search(ctx, SearchParams{
		Query:       "river crossing operations",
		Collections: []string{models.CollectionAAR},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.CollectionAAR, results[0].Metadata.Collection)
}

func TestSearchValidation(t *testing.T) {
	retriever, _, _, _ := newTestRetriever(t)
	ctx := context.Background()

	var validationErr *errs.ValidationError

	_, err := retriever.Search(ctx, SearchParams{Query: ""})
	require.Error(t, err)
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "query", validationErr.Field)

	_, err = retriever.Search(ctx, SearchParams{Query: "x", MinScore: 1.5})
	require.Error(t, err)
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "min_score", validationErr.Field)

	_, err = retriever.Search(ctx, SearchParams{Query: "x", Collections: []string{"archive"}})
	require.Error(t, err)
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "collections", validationErr.Field)
}

func seedDocument(t *testing.T, catalog *sqlite.Client, documentID string, chunkCount int) {
	t.Helper()

	chunks := make([]models.Chunk, chunkCount)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ChunkID:    fmt.Sprintf("%s:%d", documentID, i),
			DocumentID: documentID,
			ChunkIndex: i,
			ChunkCount: chunkCount,
			Text:       fmt.Sprintf("chunk %d", i),
		}
	}

	_, err := catalog.ReplaceDocument(context.Background(), &models.Document{
		DocumentID:  documentID,
		SourcePath:  "/corpus/" + documentID + ".txt",
		Collection:  models.CollectionScenario,
		Title:       "Span Test",
		Fingerprint: "fp-" + documentID,
	}, chunks)
	require.NoError(t, err)
}

func TestGetSpanClipsToDocumentBounds(t *testing.T) {
	retriever, _, catalog, _ := newTestRetriever(t)
	ctx := context.Background()
	seedDocument(t, catalog, "spandoc", 6)

	chunks, doc, err := retriever.GetSpan(ctx, "spandoc", 5, 2)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Len(t, chunks, 3)
	assert.Equal(t, 3, chunks[0].ChunkIndex)
	assert.Equal(t, 4, chunks[1].ChunkIndex)
	assert.Equal(t, 5, chunks[2].ChunkIndex)

	chunks, _, err = retriever.GetSpan(ctx, "spandoc", 0, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].ChunkIndex)

	chunks, _, err = retriever.GetSpan(ctx, "spandoc", 20, 1)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestGetSpanUnknownDocument(t *testing.T) {
	retriever, _, _, _ := newTestRetriever(t)

	var validationErr *errs.ValidationError
	_, _, err := retriever.GetSpan(context.Background(), "missing", 0, 2)
	require.Error(t, err)
	assert.True(t, errors.As(err, &validationErr))
}

func TestHealthCheckTransitions(t *testing.T) {
	retriever, index, catalog, fake := newTestRetriever(t)
	ctx := context.Background()

	status := retriever.HealthCheck(ctx)
	assert.Equal(t, models.HealthDegraded, status.Status)
	assert.Equal(t, "no documents indexed", status.Details)

	seedDocument(t, catalog, "healthdoc", 2)
	seedChunk(t, index, fake, "healthdoc", 0, models.CollectionScenario, "chunk 0")
	seedChunk(t, index, fake, "healthdoc", 1, models.CollectionScenario, "chunk 1")

	status = retriever.HealthCheck(ctx)
	assert.Equal(t, models.HealthOK, status.Status)
	assert.Equal(t, "2 chunks indexed", status.Details)

	index.SetPingError(errors.New("connection refused"))
	status = retriever.HealthCheck(ctx)
	assert.Equal(t, models.HealthError, status.Status)
	assert.Contains(t, status.Details, "index unreachable")
}
