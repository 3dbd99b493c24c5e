package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

// Client is the catalog of record for ingested documents and their chunks.
// The vector index answers similarity queries; this answers everything else
// (spans, inventory, supersession).
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		source_path TEXT UNIQUE NOT NULL,
		collection TEXT NOT NULL,
		title TEXT NOT NULL,
		year INTEGER,
		doctrine TEXT,
		tags TEXT,
		fingerprint TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		ocr INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(document_id) ON DELETE CASCADE,
		UNIQUE (document_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS ingest_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_path TEXT NOT NULL,
		document_id TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		chunk_count INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ingest_log_created ON ingest_log(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// ReplaceDocument swaps a document and its chunks in one transaction. The
// catalog is keyed by source path, so re-ingesting a changed file replaces
// the previous version even though the content hash gives it a new document
// id. Returns the superseded document id when one was replaced, or "" on
// first ingest.
func (c *Client) ReplaceDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk) (string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previousID string
	var previousCreated int64
	err = tx.QueryRowContext(ctx, `SELECT document_id, created_at FROM documents WHERE source_path = ?`, doc.SourcePath).Scan(&previousID, &previousCreated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up existing document: %w", err)
	}

	if previousID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, previousID); err != nil {
			return "", fmt.Errorf("failed to delete superseded document: %w", err)
		}
	}

	tagsJSON, _ := json.Marshal(doc.Tags)

	var year sql.NullInt64
	if doc.Year != nil {
		year = sql.NullInt64{Int64: int64(*doc.Year), Valid: true}
	}

	now := time.Now()
	createdAt := now.Unix()
	if previousID != "" {
		createdAt = previousCreated
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (document_id, source_path, collection, title, year, doctrine, tags, fingerprint, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.DocumentID,
		doc.SourcePath,
		doc.Collection,
		doc.Title,
		year,
		doc.Doctrine,
		string(tagsJSON),
		doc.Fingerprint,
		len(chunks),
		createdAt,
		now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, chunk_index, text, ocr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		ocr := 0
		if chunk.OCR {
			ocr = 1
		}
		if _, err := stmt.ExecContext(ctx, chunk.ChunkID, doc.DocumentID, chunk.ChunkIndex, chunk.Text, ocr, now.Unix()); err != nil {
			return "", fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit document replace: %w", err)
	}

	logger.Debug("Document replaced in catalog",
		zap.String("document_id", doc.DocumentID),
		zap.String("source_path", doc.SourcePath),
		zap.Int("chunks", len(chunks)),
		zap.String("superseded", previousID),
	)

	if previousID == doc.DocumentID {
		return "", nil
	}
	return previousID, nil
}

// GetDocument returns nil when the id is unknown.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	query := `
		SELECT document_id, source_path, collection, title, year, doctrine, tags, fingerprint, chunk_count, created_at, updated_at
		FROM documents WHERE document_id = ?
	`
	return c.scanDocument(c.db.QueryRowContext(ctx, query, documentID))
}

// GetDocumentBySourcePath returns nil when the path has never been ingested.
func (c *Client) GetDocumentBySourcePath(ctx context.Context, sourcePath string) (*models.Document, error) {
	query := `
		SELECT document_id, source_path, collection, title, year, doctrine, tags, fingerprint, chunk_count, created_at, updated_at
		FROM documents WHERE source_path = ?
	`
	return c.scanDocument(c.db.QueryRowContext(ctx, query, sourcePath))
}

func (c *Client) scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var year sql.NullInt64
	var tagsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&doc.DocumentID,
		&doc.SourcePath,
		&doc.Collection,
		&doc.Title,
		&year,
		&doc.Doctrine,
		&tagsJSON,
		&doc.Fingerprint,
		&doc.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if year.Valid {
		y := int(year.Int64)
		doc.Year = &y
	}
	json.Unmarshal([]byte(tagsJSON), &doc.Tags)
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

// GetSpan returns the chunks of a document with chunk_index in [lo, hi],
// ordered by chunk_index.
func (c *Client) GetSpan(ctx context.Context, documentID string, lo, hi int) ([]models.Chunk, error) {
	query := `
		SELECT chunk_id, document_id, chunk_index, text, ocr
		FROM chunks
		WHERE document_id = ? AND chunk_index BETWEEN ? AND ?
		ORDER BY chunk_index ASC
	`

	rows, err := c.db.QueryContext(ctx, query, documentID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to get span: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var ocr int
		if err := rows.Scan(&chunk.ChunkID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &ocr); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.OCR = ocr != 0
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

func (c *Client) ListDocuments(ctx context.Context, collection string, limit int) ([]models.Document, error) {
	query := `
		SELECT document_id, source_path, collection, title, year, doctrine, tags, fingerprint, chunk_count, created_at, updated_at
		FROM documents
	`
	args := []any{}
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var year sql.NullInt64
		var tagsJSON string
		var createdAt, updatedAt int64

		err := rows.Scan(
			&doc.DocumentID,
			&doc.SourcePath,
			&doc.Collection,
			&doc.Title,
			&year,
			&doc.Doctrine,
			&tagsJSON,
			&doc.Fingerprint,
			&doc.ChunkCount,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		if year.Valid {
			y := int(year.Int64)
			doc.Year = &y
		}
		json.Unmarshal([]byte(tagsJSON), &doc.Tags)
		doc.CreatedAt = time.Unix(createdAt, 0)
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListCollections reports every known collection with its document count.
// Collections with no documents yet are omitted.
func (c *Client) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	query := `SELECT collection, COUNT(*) FROM documents GROUP BY collection ORDER BY collection ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var infos []models.CollectionInfo
	for rows.Next() {
		var info models.CollectionInfo
		if err := rows.Scan(&info.Name, &info.DocumentCount); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		info.Description = models.CollectionDescriptions[info.Name]
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (c *Client) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (c *Client) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// LogIngest records one ingest attempt for auditing. Failures to write the
// audit row are logged, not returned; the ingest outcome stands either way.
func (c *Client) LogIngest(ctx context.Context, sourcePath, documentID, status, reason string, chunkCount int) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ingest_log (source_path, document_id, status, reason, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sourcePath, documentID, status, reason, chunkCount, time.Now().Unix())
	if err != nil {
		logger.Warn("Failed to record ingest audit row",
			zap.String("source_path", sourcePath),
			zap.Error(err),
		)
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
