package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/memory"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/internal/vector/memindex"
)

// stubMemoryBackend is an in-process memory.Backend. Scores are 0.95 when one
// text contains the other, 0.3 otherwise, so dedup and search paths both see
// realistic values.
type stubMemoryBackend struct {
	mu      sync.Mutex
	nextID  int
	records []models.MemoryRecord
}

func (s *stubMemoryBackend) Search(_ context.Context, query, userID string, limit int, scopes []string) ([]models.MemoryHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []models.MemoryHit
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if len(scopes) > 0 && !containsString(scopes, rec.Scope) {
			continue
		}
		score := 0.3
		a, b := strings.ToLower(rec.Memory), strings.ToLower(query)
		if strings.Contains(a, b) || strings.Contains(b, a) {
			score = 0.95
		}
		hits = append(hits, models.MemoryHit{MemoryRecord: rec, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *stubMemoryBackend) Add(_ context.Context, record models.MemoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.MemoryID = fmt.Sprintf("mem-%d", s.nextID)
	s.records = append(s.records, record)
	return record.MemoryID, nil
}

func (s *stubMemoryBackend) Delete(_ context.Context, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.MemoryID == memoryID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *stubMemoryBackend) List(_ context.Context, userID string, limit int, scope string, tags []string) ([]models.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MemoryRecord
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if scope != "" && rec.Scope != scope {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// testEnv wires a registry over a real retriever and gateway, backed by the
// in-memory index, a throwaway catalog and the deterministic embedder.
type testEnv struct {
	registry  *Registry
	retriever *retrieval.Retriever
	gateway   *memory.Gateway
	backend   *stubMemoryBackend
	catalog   *sqlite.Client
	index     *memindex.Index
	embedder  *embedding.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := sqlite.NewClient(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, catalog.InitSchema())
	t.Cleanup(func() { catalog.Close() })

	index := memindex.New()
	embedder := embedding.NewFake(256)
	retriever := retrieval.NewRetriever(embedder, index, catalog)

	backend := &stubMemoryBackend{}
	gateway := memory.NewGateway(backend, memory.NewLocalLedger(), memory.DefaultPolicy())

	return &testEnv{
		registry:  NewRegistry(retriever, gateway),
		retriever: retriever,
		gateway:   gateway,
		backend:   backend,
		catalog:   catalog,
		index:     index,
		embedder:  embedder,
	}
}

func (e *testEnv) seedDocument(t *testing.T, docID, collection, title string, texts []string) {
	t.Helper()
	ctx := context.Background()

	vectors, err := e.embedder.Embed(ctx, texts)
	require.NoError(t, err)

	doc := &models.Document{
		DocumentID: docID,
		SourcePath: "/corpus/" + docID + ".txt",
		Collection: collection,
		Title:      title,
		ChunkCount: len(texts),
	}
	chunks := make([]models.Chunk, len(texts))
	rows := make([]vector.Row, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			ChunkID:    fmt.Sprintf("%s:%d", docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			ChunkCount: len(texts),
			Text:       text,
		}
		rows[i] = vector.Row{
			ChunkID: chunks[i].ChunkID,
			Text:    text,
			Vector:  vectors[i],
			Metadata: models.ResultMetadata{
				DocumentID: docID,
				Collection: collection,
				Title:      title,
				ChunkIndex: i,
				ChunkCount: len(texts),
			},
		}
	}

	require.NoError(t, e.index.Upsert(ctx, rows))
	_, err = e.catalog.ReplaceDocument(ctx, doc, chunks)
	require.NoError(t, err)
}

func TestRegistryHasFixedToolSurface(t *testing.T) {
	env := newTestEnv(t)

	var names []string
	for _, tool := range env.registry.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		ToolSearchDocs,
		ToolGetDocSpan,
		ToolListCollections,
		ToolHealthCheck,
		ToolMemorySearch,
		ToolMemoryAdd,
		ToolMemoryDelete,
		ToolMemoryList,
	}, names)

	searchDocs, ok := env.registry.Get(ToolSearchDocs)
	require.True(t, ok)
	assert.Equal(t, SourceKnowledge, searchDocs.Source)
	assert.Equal(t, ToolMemorySearch, searchDocs.Fallback)

	memorySearch, ok := env.registry.Get(ToolMemorySearch)
	require.True(t, ok)
	assert.Equal(t, SourceMemory, memorySearch.Source)
	assert.Equal(t, ToolSearchDocs, memorySearch.Fallback)

	for _, name := range []string{ToolGetDocSpan, ToolListCollections, ToolHealthCheck, ToolMemoryAdd, ToolMemoryDelete, ToolMemoryList} {
		tool, ok := env.registry.Get(name)
		require.True(t, ok, name)
		assert.Empty(t, tool.Fallback, name)
	}

	_, ok = env.registry.Get("launch_missiles")
	assert.False(t, ok)
}

func TestSearchDocsHandler(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-armor", models.CollectionDoctrine, "Armor Employment", []string{
		"Massed armor thrusts require suppression of anti-tank positions.",
		"Reconnaissance screens precede the main armored body.",
	})

	tool, _ := env.registry.Get(ToolSearchDocs)
	output, err := tool.Handler(context.Background(), map[string]any{
		"query": "Massed armor thrusts require suppression of anti-tank positions.",
		"top_k": float64(5),
	})
	require.NoError(t, err)

	result, ok := output.(SearchDocsResult)
	require.True(t, ok)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, result.Count, len(result.Results))
	assert.Equal(t, "doc-armor", result.Results[0].Metadata.DocumentID)
	assert.Equal(t, 0, result.Results[0].Metadata.ChunkIndex)
}

func TestSearchDocsHandlerRejectsMissingQuery(t *testing.T) {
	env := newTestEnv(t)

	tool, _ := env.registry.Get(ToolSearchDocs)
	_, err := tool.Handler(context.Background(), map[string]any{"top_k": float64(5)})

	var invalid *errs.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "query", invalid.Field)
}

func TestGetDocSpanHandler(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-span", models.CollectionScenario, "Scenario Orders", []string{
		"Phase one establishes the bridgehead.",
		"Phase two expands the lodgement.",
		"Phase three commits the reserve.",
		"Phase four consolidates gains.",
	})

	tool, _ := env.registry.Get(ToolGetDocSpan)
	output, err := tool.Handler(context.Background(), map[string]any{
		"document_id":        "doc-span",
		"center_chunk_index": float64(1),
		"span":               float64(1),
	})
	require.NoError(t, err)

	result, ok := output.(DocSpanResult)
	require.True(t, ok)
	assert.Equal(t, "doc-span", result.DocumentID)
	assert.Equal(t, "Scenario Orders", result.Title)
	assert.Equal(t, 4, result.ChunkCount)
	require.Len(t, result.Chunks, 3)
	assert.Equal(t, 0, result.Chunks[0].ChunkIndex)
	assert.Equal(t, 2, result.Chunks[2].ChunkIndex)
}

func TestGetDocSpanHandlerRequiresCenter(t *testing.T) {
	env := newTestEnv(t)

	tool, _ := env.registry.Get(ToolGetDocSpan)
	_, err := tool.Handler(context.Background(), map[string]any{"document_id": "doc-span"})

	var invalid *errs.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "center_chunk_index", invalid.Field)
}

func TestListCollectionsAndHealthHandlers(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "doc-a", models.CollectionAAR, "Exercise AAR", []string{"Night river crossing drew heavy indirect fire."})

	listTool, _ := env.registry.Get(ToolListCollections)
	output, err := listTool.Handler(context.Background(), nil)
	require.NoError(t, err)

	collections, ok := output.(CollectionsResult)
	require.True(t, ok)
	require.Len(t, collections.Collections, 1)
	assert.Equal(t, models.CollectionAAR, collections.Collections[0].Name)
	assert.Equal(t, 1, collections.Collections[0].DocumentCount)

	healthTool, _ := env.registry.Get(ToolHealthCheck)
	output, err = healthTool.Handler(context.Background(), nil)
	require.NoError(t, err)

	health, ok := output.(models.HealthStatus)
	require.True(t, ok)
	assert.Equal(t, models.HealthOK, health.Status)
}

func TestMemoryHandlersRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	addTool, _ := env.registry.Get(ToolMemoryAdd)
	output, err := addTool.Handler(ctx, map[string]any{
		"user_id": "analyst-1",
		"memory":  "Blue force prefers night operations.",
		"tags":    []any{"blue", "pattern"},
	})
	require.NoError(t, err)

	added, ok := output.(models.MemoryAddResult)
	require.True(t, ok)
	assert.Equal(t, models.MemoryCreated, added.Status)
	require.NotEmpty(t, added.MemoryID)

	searchTool, _ := env.registry.Get(ToolMemorySearch)
	output, err = searchTool.Handler(ctx, map[string]any{
		"query":   "night operations",
		"user_id": "analyst-1",
	})
	require.NoError(t, err)

	found, ok := output.(MemorySearchResult)
	require.True(t, ok)
	require.Len(t, found.Results, 1)
	assert.Equal(t, added.MemoryID, found.Results[0].MemoryID)

	listTool, _ := env.registry.Get(ToolMemoryList)
	output, err = listTool.Handler(ctx, map[string]any{"user_id": "analyst-1"})
	require.NoError(t, err)

	listed, ok := output.(MemoryListResult)
	require.True(t, ok)
	require.Len(t, listed.Results, 1)

	deleteTool, _ := env.registry.Get(ToolMemoryDelete)
	output, err = deleteTool.Handler(ctx, map[string]any{"memory_id": added.MemoryID})
	require.NoError(t, err)

	deleted, ok := output.(MemoryDeleteResult)
	require.True(t, ok)
	assert.Equal(t, models.MemoryDeleted, deleted.Status)

	output, err = deleteTool.Handler(ctx, map[string]any{"memory_id": added.MemoryID})
	require.NoError(t, err)
	deleted = output.(MemoryDeleteResult)
	assert.Equal(t, models.MemoryNotFound, deleted.Status)
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"float":   float64(7),
		"int":     3,
		"text":    "hello",
		"mixed":   []any{"a", "b", 4},
		"strings": []string{"x", "y"},
	}

	assert.Equal(t, 7, intArg(args, "float", 0))
	assert.Equal(t, 3, intArg(args, "int", 0))
	assert.Equal(t, 9, intArg(args, "missing", 9))
	assert.Equal(t, 7.0, floatArg(args, "float", 0))
	assert.Equal(t, 0.5, floatArg(args, "missing", 0.5))
	assert.Equal(t, "hello", stringArg(args, "text", ""))
	assert.Equal(t, []string{"a", "b"}, stringSliceArg(args, "mixed"))
	assert.Equal(t, []string{"x", "y"}, stringSliceArg(args, "strings"))
	assert.Nil(t, stringSliceArg(args, "missing"))

	_, err := requireString(args, "absent")
	var invalid *errs.ValidationError
	require.True(t, errors.As(err, &invalid))

	_, err = requireInt(args, "text")
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Reason, "must be a number")
}
