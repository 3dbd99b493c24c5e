package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/agent"
	"github.com/wargame-agent/backend/pkg/logger"
)

type AgentHandler struct {
	orchestrator *agent.Orchestrator
}

func NewAgentHandler(orchestrator *agent.Orchestrator) *AgentHandler {
	return &AgentHandler{orchestrator: orchestrator}
}

// RunSession executes one orchestration session to completion and returns it.
// Session-level failures (timeout, exhausted sources) are statuses on the
// session body, not HTTP errors.
func (h *AgentHandler) RunSession(c *fiber.Ctx) error {
	var req struct {
		Query  string `json:"query"`
		UserID string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	session := h.orchestrator.Run(c.UserContext(), agent.Goal{
		Query:  req.Query,
		UserID: req.UserID,
	})

	return c.JSON(session)
}

// BreakerStates exposes the tool circuit breaker states for operators.
func (h *AgentHandler) BreakerStates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"breakers": h.orchestrator.BreakerStates(),
	})
}
