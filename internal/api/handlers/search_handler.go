package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

type SearchHandler struct {
	retriever *retrieval.Retriever
}

func NewSearchHandler(retriever *retrieval.Retriever) *SearchHandler {
	return &SearchHandler{retriever: retriever}
}

func (h *SearchHandler) Search(c *fiber.Ctx) error {
	var req struct {
		Query       string   `json:"query"`
		TopK        int      `json:"top_k"`
		MinScore    float64  `json:"min_score"`
		Collections []string `json:"collections"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	results, err := h.retriever.Search(c.UserContext(), retrieval.SearchParams{
		Query:       req.Query,
		TopK:        req.TopK,
		MinScore:    req.MinScore,
		Collections: req.Collections,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}

func (h *SearchHandler) ListCollections(c *fiber.Ctx) error {
	collections, err := h.retriever.ListCollections(c.UserContext())
	if err != nil {
		logger.Error("Failed to list collections", zap.Error(err))
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"collections": collections,
	})
}

// Health reports the retrieval subsystem state. An unreachable index answers
// 503 so load balancers stop routing to this instance.
func (h *SearchHandler) Health(c *fiber.Ctx) error {
	status := h.retriever.HealthCheck(c.UserContext())

	code := fiber.StatusOK
	if status.Status == models.HealthError {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}
