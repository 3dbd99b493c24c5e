// Package ingestion turns source files into catalog rows and index vectors.
// Each document runs the same pipeline: extract, resolve metadata, segment,
// embed, replace. One bad file never fails the batch.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wargame-agent/backend/internal/chunking"
	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/extract"
	"github.com/wargame-agent/backend/internal/metadata"
	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/pkg/logger"
	"github.com/wargame-agent/backend/pkg/utils"
)

type Ingestor struct {
	extractors *extract.Registry
	resolver   *metadata.Resolver
	segmenter  *chunking.Segmenter
	embedder   embedding.Provider
	index      vector.Index
	catalog    *sqlite.Client
	workers    int
}

func NewIngestor(
	extractors *extract.Registry,
	resolver *metadata.Resolver,
	segmenter *chunking.Segmenter,
	embedder embedding.Provider,
	index vector.Index,
	catalog *sqlite.Client,
	workers int,
) *Ingestor {
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{
		extractors: extractors,
		resolver:   resolver,
		segmenter:  segmenter,
		embedder:   embedder,
		index:      index,
		catalog:    catalog,
		workers:    workers,
	}
}

// Ingest processes the given files with bounded parallelism and reports
// per-document outcomes. The returned error covers batch-level problems only;
// individual document failures land in the report.
func (ing *Ingestor) Ingest(ctx context.Context, paths []string) (*models.BatchReport, error) {
	start := time.Now()
	paths = dedupe(paths)

	report := &models.BatchReport{
		Succeeded: []models.IngestSuccess{},
		Failed:    []models.IngestFailure{},
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(ing.workers)

	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				report.Failed = append(report.Failed, models.IngestFailure{Path: path, Reason: err.Error()})
				mu.Unlock()
				return nil
			}

			success, err := ing.ingestOne(ctx, path)
			mu.Lock()
			if err != nil {
				report.Failed = append(report.Failed, models.IngestFailure{Path: path, Reason: err.Error()})
			} else {
				report.Succeeded = append(report.Succeeded, success)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(report.Succeeded, func(i, j int) bool { return report.Succeeded[i].Path < report.Succeeded[j].Path })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Path < report.Failed[j].Path })

	logger.Info("Ingest batch complete",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("chunks", report.TotalChunks()),
		zap.Duration("duration", time.Since(start)),
	)

	return report, nil
}

func (ing *Ingestor) ingestOne(ctx context.Context, path string) (models.IngestSuccess, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return ing.fail(ctx, path, &errs.ExtractionError{Path: path, Err: err})
	}

	text, err := ing.extractors.Extract(path)
	if err != nil {
		return ing.fail(ctx, path, &errs.ExtractionError{Path: path, Err: err})
	}

	resolution, body := ing.resolver.Resolve(path, text)

	chunks := ing.segmenter.Segment(body)
	if len(chunks) == 0 {
		return ing.fail(ctx, path, &errs.ExtractionError{Path: path, Err: errors.New("no text content")})
	}

	fingerprint := utils.Fingerprint(data)
	documentID := utils.DocumentID(path, fingerprint)

	embeddings, err := ing.embedder.Embed(ctx, chunks)
	if err != nil {
		return ing.fail(ctx, path, &errs.EmbeddingError{Err: err})
	}
	if len(embeddings) != len(chunks) {
		return ing.fail(ctx, path, &errs.EmbeddingError{
			Err: fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks)),
		})
	}

	doc := &models.Document{
		DocumentID:  documentID,
		SourcePath:  path,
		Collection:  resolution.Collection,
		Title:       resolution.Title,
		Year:        resolution.Year,
		Doctrine:    resolution.Doctrine,
		Tags:        resolution.Tags,
		Fingerprint: fingerprint,
		ChunkCount:  len(chunks),
	}

	catalogChunks := make([]models.Chunk, len(chunks))
	rows := make([]vector.Row, len(chunks))
	for i, chunkText := range chunks {
		chunkID := fmt.Sprintf("%s:%d", documentID, i)
		catalogChunks[i] = models.Chunk{
			ChunkID:    chunkID,
			DocumentID: documentID,
			ChunkIndex: i,
			ChunkCount: len(chunks),
			Text:       chunkText,
		}
		rows[i] = vector.Row{
			ChunkID: chunkID,
			Text:    chunkText,
			Vector:  embeddings[i],
			Metadata: models.ResultMetadata{
				DocumentID: documentID,
				SourcePath: path,
				Collection: resolution.Collection,
				Title:      resolution.Title,
				Year:       resolution.Year,
				Doctrine:   resolution.Doctrine,
				Tags:       resolution.Tags,
				ChunkIndex: i,
				ChunkCount: len(chunks),
			},
		}
	}

	// Prune the superseded document's vectors before inserting the new ones.
	// Every failure from here leaves a state the next ingest attempt repairs.
	existing, err := ing.catalog.GetDocumentBySourcePath(ctx, path)
	if err != nil {
		return ing.fail(ctx, path, fmt.Errorf("failed to check catalog: %w", err))
	}
	if existing != nil && existing.DocumentID != documentID {
		if err := ing.index.DeleteDocument(ctx, existing.DocumentID); err != nil {
			return ing.fail(ctx, path, &errs.IndexUpsertError{DocumentID: existing.DocumentID, Err: err})
		}
	}

	if err := ing.index.Upsert(ctx, rows); err != nil {
		return ing.fail(ctx, path, &errs.IndexUpsertError{DocumentID: documentID, Err: err})
	}

	if _, err := ing.catalog.ReplaceDocument(ctx, doc, catalogChunks); err != nil {
		return ing.fail(ctx, path, fmt.Errorf("failed to update catalog: %w", err))
	}

	ing.catalog.LogIngest(ctx, path, documentID, "success", "", len(chunks))
	metrics.IngestDocumentsTotal.WithLabelValues("success").Inc()
	metrics.IngestChunksTotal.Add(float64(len(chunks)))
	metrics.IngestDocumentDuration.Observe(time.Since(start).Seconds())

	logger.Info("Document ingested",
		zap.String("path", path),
		zap.String("document_id", documentID),
		zap.String("collection", resolution.Collection),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)

	return models.IngestSuccess{
		Path:       path,
		DocumentID: documentID,
		Collection: resolution.Collection,
		ChunkCount: len(chunks),
	}, nil
}

func (ing *Ingestor) fail(ctx context.Context, path string, cause error) (models.IngestSuccess, error) {
	ing.catalog.LogIngest(ctx, path, "", "failure", cause.Error(), 0)
	metrics.IngestDocumentsTotal.WithLabelValues("failure").Inc()

	logger.Warn("Document ingest failed",
		zap.String("path", path),
		zap.Error(cause),
	)
	return models.IngestSuccess{}, cause
}

// ExpandPaths resolves directories to the supported files beneath them.
// Explicit file arguments pass through untouched so unsupported files surface
// as failures instead of disappearing. Metadata sidecars are never ingested
// as documents.
func (ing *Ingestor) ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			out = append(out, path)
			continue
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if strings.HasSuffix(p, metadata.SidecarSuffix) {
				return nil
			}
			if ing.extractors.Supported(p) {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	return dedupe(out), nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
