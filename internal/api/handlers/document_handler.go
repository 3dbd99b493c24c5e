package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/ingestion"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/pkg/logger"
)

type DocumentHandler struct {
	ingestor  *ingestion.Ingestor
	catalog   *sqlite.Client
	retriever *retrieval.Retriever
}

func NewDocumentHandler(ingestor *ingestion.Ingestor, catalog *sqlite.Client, retriever *retrieval.Retriever) *DocumentHandler {
	return &DocumentHandler{
		ingestor:  ingestor,
		catalog:   catalog,
		retriever: retriever,
	}
}

// IngestDocuments runs a batch ingest over the given paths. Directories are
// walked for supported files. The response always reports every input path,
// succeeded or failed.
func (h *DocumentHandler) IngestDocuments(c *fiber.Ctx) error {
	var req struct {
		Paths []string `json:"paths"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Paths) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one path is required",
		})
	}

	paths, err := h.ingestor.ExpandPaths(req.Paths)
	if err != nil {
		logger.Error("Failed to expand ingest paths", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to expand paths: " + err.Error(),
		})
	}

	report, err := h.ingestor.Ingest(c.UserContext(), paths)
	if err != nil {
		logger.Error("Failed to run ingest batch", zap.Error(err))
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"succeeded":    report.Succeeded,
		"failed":       report.Failed,
		"total_chunks": report.TotalChunks(),
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	collection := c.Query("collection")
	if collection != "" && !models.ValidCollection(collection) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown collection: " + collection,
		})
	}

	limit := c.QueryInt("limit", 50)

	docs, err := h.catalog.ListDocuments(c.UserContext(), collection, limit)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	documentID := c.Params("id")

	doc, err := h.catalog.GetDocument(c.UserContext(), documentID)
	if err != nil {
		logger.Error("Failed to get document", zap.Error(err))
		return respondError(c, err)
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	return c.JSON(doc)
}

// GetDocumentSpan returns a window of consecutive chunks centered on one
// chunk, clipped to the document bounds.
func (h *DocumentHandler) GetDocumentSpan(c *fiber.Ctx) error {
	documentID := c.Params("id")
	center := c.QueryInt("center", 0)
	span := c.QueryInt("span", retrieval.DefaultSpan)

	chunks, doc, err := h.retriever.GetSpan(c.UserContext(), documentID, center, span)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"document_id": doc.DocumentID,
		"title":       doc.Title,
		"collection":  doc.Collection,
		"chunk_count": doc.ChunkCount,
		"chunks":      chunks,
	})
}
