package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/memory"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

type MemoryHandler struct {
	gateway *memory.Gateway
}

func NewMemoryHandler(gateway *memory.Gateway) *MemoryHandler {
	return &MemoryHandler{gateway: gateway}
}

// AddMemory stores a memory. Near-duplicates answer 200 with the existing
// record's id; quota rejections answer 429. Only new records answer 201.
func (h *MemoryHandler) AddMemory(c *fiber.Ctx) error {
	var req struct {
		UserID string   `json:"user_id"`
		Memory string   `json:"memory"`
		Scope  string   `json:"scope"`
		Tags   []string `json:"tags"`
		Source string   `json:"source"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.gateway.Add(c.UserContext(), memory.AddParams{
		UserID: req.UserID,
		Memory: req.Memory,
		Scope:  req.Scope,
		Tags:   req.Tags,
		Source: req.Source,
	})
	if err != nil {
		return respondError(c, err)
	}

	code := fiber.StatusOK
	switch result.Status {
	case models.MemoryCreated:
		code = fiber.StatusCreated
	case models.MemoryRejectedQuota:
		code = fiber.StatusTooManyRequests
	}

	return c.Status(code).JSON(result)
}

func (h *MemoryHandler) SearchMemories(c *fiber.Ctx) error {
	var req struct {
		Query  string   `json:"query"`
		UserID string   `json:"user_id"`
		Limit  int      `json:"limit"`
		Scopes []string `json:"scopes"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	hits, err := h.gateway.Search(c.UserContext(), memory.SearchParams{
		Query:  req.Query,
		UserID: req.UserID,
		Limit:  req.Limit,
		Scopes: req.Scopes,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"results": hits,
		"count":   len(hits),
	})
}

func (h *MemoryHandler) ListMemories(c *fiber.Ctx) error {
	var tags []string
	if raw := c.Query("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	records, err := h.gateway.List(c.UserContext(), memory.ListParams{
		UserID: c.Query("user_id"),
		Limit:  c.QueryInt("limit", 0),
		Scope:  c.Query("scope"),
		Tags:   tags,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"results": records,
		"count":   len(records),
	})
}

func (h *MemoryHandler) DeleteMemory(c *fiber.Ctx) error {
	memoryID := c.Params("id")

	status, err := h.gateway.Delete(c.UserContext(), memoryID)
	if err != nil {
		return respondError(c, err)
	}

	code := fiber.StatusOK
	if status == models.MemoryNotFound {
		code = fiber.StatusNotFound
	}

	return c.Status(code).JSON(fiber.Map{
		"memory_id": memoryID,
		"status":    status,
	})
}
