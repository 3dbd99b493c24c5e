package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/chunking"
	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/extract"
	"github.com/wargame-agent/backend/internal/metadata"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector/memindex"
)

func newTestIngestor(t *testing.T) (*Ingestor, *memindex.Index, *sqlite.Client) {
	t.Helper()

	catalog, err := sqlite.NewClient(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, catalog.InitSchema())
	t.Cleanup(func() { catalog.Close() })

	index := memindex.New()
	ingestor := NewIngestor(
		extract.NewRegistry(),
		metadata.NewResolver(),
		chunking.NewSegmenter(50, 10, nil),
		embedding.NewFake(8),
		index,
		catalog,
		2,
	)
	return ingestor, index, catalog
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func TestIngestBatchIsolatesCorruptDocument(t *testing.T) {
	ingestor, _, _ := newTestIngestor(t)
	dir := t.TempDir()

	good1 := writeDoc(t, dir, "doctrine_alpha.txt", words(120))
	good2 := writeDoc(t, dir, "aar_bravo.md", words(80))
	corrupt := filepath.Join(dir, "broken.txt")
	require.NoError(t, os.WriteFile(corrupt, []byte{0x00, 0x01, 0x02, 0xFF, 0x00, 0x7F}, 0o644))

	report, err := ingestor.Ingest(context.Background(), []string{good1, good2, corrupt})
	require.NoError(t, err)

	assert.Len(t, report.Succeeded, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, corrupt, report.Failed[0].Path)
	assert.NotEmpty(t, report.Failed[0].Reason)
}

func TestIngestIsIdempotent(t *testing.T) {
	ingestor, index, catalog := newTestIngestor(t)
	ctx := context.Background()
	path := writeDoc(t, t.TempDir(), "intel_report.txt", words(150))

	first, err := ingestor.Ingest(ctx, []string{path})
	require.NoError(t, err)
	require.Len(t, first.Succeeded, 1)

	second, err := ingestor.Ingest(ctx, []string{path})
	require.NoError(t, err)
	require.Len(t, second.Succeeded, 1)
	assert.Equal(t, first.Succeeded[0].DocumentID, second.Succeeded[0].DocumentID)
	assert.Equal(t, first.Succeeded[0].ChunkCount, second.Succeeded[0].ChunkCount)

	indexCount, err := index.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(first.Succeeded[0].ChunkCount), indexCount)

	catalogCount, err := catalog.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, indexCount, catalogCount)

	docCount, err := catalog.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), docCount)
}

func TestIngestReplacesChangedDocument(t *testing.T) {
	ingestor, index, catalog := newTestIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeDoc(t, dir, "scenario_delta.txt", words(200))

	first, err := ingestor.Ingest(ctx, []string{path})
	require.NoError(t, err)
	require.Len(t, first.Succeeded, 1)
	oldID := first.Succeeded[0].DocumentID

	require.NoError(t, os.WriteFile(path, []byte(words(60)), 0o644))

	second, err := ingestor.Ingest(ctx, []string{path})
	require.NoError(t, err)
	require.Len(t, second.Succeeded, 1)
	newID := second.Succeeded[0].DocumentID
	assert.NotEqual(t, oldID, newID)

	gone, err := catalog.GetDocument(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	indexCount, err := index.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(second.Succeeded[0].ChunkCount), indexCount)
}

func TestIngestUsesFilenameMetadata(t *testing.T) {
	ingestor, _, catalog := newTestIngestor(t)
	ctx := context.Background()
	path := writeDoc(t, t.TempDir(), "doctrine_urban_ops_2019.txt", words(40))

	report, err := ingestor.Ingest(ctx, []string{path})
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	assert.Equal(t, models.CollectionDoctrine, report.Succeeded[0].Collection)

	doc, err := catalog.GetDocument(ctx, report.Succeeded[0].DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.NotNil(t, doc.Year)
	assert.Equal(t, 2019, *doc.Year)
}

func TestIngestEmptyDocumentFails(t *testing.T) {
	ingestor, _, _ := newTestIngestor(t)
	path := writeDoc(t, t.TempDir(), "empty.txt", "   \n\n  ")

	report, err := ingestor.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Reason, "no text content")
}

func TestExpandPathsWalksDirectories(t *testing.T) {
	ingestor, _, _ := newTestIngestor(t)
	dir := t.TempDir()

	writeDoc(t, dir, "a.txt", "alpha")
	writeDoc(t, dir, "b.md", "bravo")
	writeDoc(t, dir, "a.txt"+metadata.SidecarSuffix, "collection: doctrine")
	writeDoc(t, dir, "ignored.bin", "binary")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeDoc(t, sub, "c.pdf", "%PDF- fake")

	paths, err := ingestor.ExpandPaths([]string{dir})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.False(t, strings.HasSuffix(p, metadata.SidecarSuffix))
		assert.False(t, strings.HasSuffix(p, ".bin"))
	}
}
