package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	metric         entity.MetricType
}

func NewClient(endpoint, collectionName string, vectorDim int, metric string) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.String("metric", metric),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		metric:         metricType(metric),
	}, nil
}

func metricType(name string) entity.MetricType {
	switch strings.ToLower(name) {
	case "ip":
		return entity.IP
	case "l2":
		return entity.L2
	default:
		return entity.COSINE
	}
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the chunk collection when it does not
// exist yet.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Wargame corpus chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "96",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "collection",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(m.metric, 1024)
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Upsert deletes any rows sharing the incoming chunk ids, then inserts, so
// re-indexing the same chunk id is idempotent.
func (m *Client) Upsert(ctx context.Context, rows []vector.Row) error {
	if len(rows) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(rows))
	embeddings := make([][]float32, len(rows))
	texts := make([]string, len(rows))
	documentIDs := make([]string, len(rows))
	chunkIndexes := make([]int64, len(rows))
	collections := make([]string, len(rows))
	metadatas := make([]string, len(rows))

	for i, row := range rows {
		chunkIDs[i] = row.ChunkID
		embeddings[i] = row.Vector
		texts[i] = row.Text
		documentIDs[i] = row.Metadata.DocumentID
		chunkIndexes[i] = int64(row.Metadata.ChunkIndex)
		collections[i] = row.Metadata.Collection

		encoded, err := json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		metadatas[i] = string(encoded)
	}

	if err := m.client.DeleteByPks(ctx, m.collectionName, "", entity.NewColumnVarChar("chunk_id", chunkIDs)); err != nil {
		return fmt.Errorf("failed to delete superseded chunks: %w", err)
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("collection", collections),
		entity.NewColumnVarChar("metadata", metadatas),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks indexed", zap.Int("count", len(rows)))

	return nil
}

func (m *Client) Query(ctx context.Context, queryVector []float32, filter vector.Filter, topK int) ([]vector.Hit, error) {
	expr := ""
	if len(filter.Collections) > 0 {
		quoted := make([]string, len(filter.Collections))
		for i, c := range filter.Collections {
			quoted[i] = strconv.Quote(c)
		}
		expr = fmt.Sprintf("collection in [%s]", strings.Join(quoted, ", "))
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "metadata"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"embedding",
		m.metric,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		textCol := sr.Fields.GetColumn("text")
		metadataCol := sr.Fields.GetColumn("metadata")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			text, _ := textCol.Get(i)
			rawMeta, _ := metadataCol.Get(i)

			var meta models.ResultMetadata
			if s, ok := rawMeta.(string); ok {
				if err := json.Unmarshal([]byte(s), &meta); err != nil {
					logger.Warn("Failed to decode chunk metadata", zap.Error(err))
				}
			}

			hits = append(hits, vector.Hit{
				ChunkID:  chunkID.(string),
				Score:    m.normalizeScore(sr.Scores[i]),
				Text:     text.(string),
				Metadata: meta,
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
		zap.String("filter", expr),
	)

	return hits, nil
}

// normalizeScore maps engine-reported scores onto the 0-1 similarity scale,
// higher = closer.
func (m *Client) normalizeScore(score float32) float64 {
	var s float64
	switch m.metric {
	case entity.L2:
		s = 1.0 / (1.0 + float64(score))
	default:
		s = float64(score)
	}

	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (m *Client) DeleteDocument(ctx context.Context, documentID string) error {
	rs, err := m.client.Query(
		ctx,
		m.collectionName,
		nil,
		fmt.Sprintf("document_id == %s", strconv.Quote(documentID)),
		[]string{"chunk_id"},
	)
	if err != nil {
		return fmt.Errorf("failed to query document chunks: %w", err)
	}

	idCol := rs.GetColumn("chunk_id")
	if idCol == nil || idCol.Len() == 0 {
		return nil
	}

	ids := make([]string, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		v, err := idCol.Get(i)
		if err != nil {
			continue
		}
		ids = append(ids, v.(string))
	}

	if err := m.client.DeleteByPks(ctx, m.collectionName, "", entity.NewColumnVarChar("chunk_id", ids)); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Document chunks removed from index",
		zap.String("document_id", documentID),
		zap.Int("count", len(ids)),
	)

	return nil
}

// ListCollections aggregates distinct documents per logical collection by
// scanning the chunk_index==0 row each document is guaranteed to have.
func (m *Client) ListCollections(ctx context.Context) ([]vector.CollectionCount, error) {
	rs, err := m.client.Query(
		ctx,
		m.collectionName,
		nil,
		"chunk_index == 0",
		[]string{"collection", "document_id"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}

	collectionCol := rs.GetColumn("collection")
	documentCol := rs.GetColumn("document_id")
	if collectionCol == nil || documentCol == nil {
		return nil, nil
	}

	docs := make(map[string]map[string]bool)
	for i := 0; i < collectionCol.Len(); i++ {
		cv, err := collectionCol.Get(i)
		if err != nil {
			continue
		}
		dv, err := documentCol.Get(i)
		if err != nil {
			continue
		}

		name := cv.(string)
		if docs[name] == nil {
			docs[name] = make(map[string]bool)
		}
		docs[name][dv.(string)] = true
	}

	counts := make([]vector.CollectionCount, 0, len(docs))
	for name, ids := range docs {
		counts = append(counts, vector.CollectionCount{Name: name, DocumentCount: len(ids)})
	}

	return counts, nil
}

func (m *Client) CountChunks(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}

	count, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row count: %w", err)
	}

	return count, nil
}

func (m *Client) Ping(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to reach index: %w", err)
	}
	if !has {
		return fmt.Errorf("collection %s not found", m.collectionName)
	}
	return nil
}
