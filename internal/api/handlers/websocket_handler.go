package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/agent"
	"github.com/wargame-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *agent.Orchestrator
}

func NewWebSocketHandler(orchestrator *agent.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{orchestrator: orchestrator}
}

// HandleConnection runs orchestration sessions over one socket, streaming
// progress events as the session advances and the full session at the end.
// Sessions run on the read loop, so writes never interleave.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type   string `json:"type"`
			Query  string `json:"query"`
			UserID string `json:"user_id"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "session" {
			continue
		}

		if msg.Query == "" {
			h.sendError(c, "Query is required")
			continue
		}

		logger.Info("Processing WebSocket session",
			zap.String("query", msg.Query),
			zap.String("user_id", msg.UserID),
		)

		err = h.streamSession(c, msg.Query, msg.UserID)
		if err != nil {
			logger.Error("Failed to stream session", zap.Error(err))
			h.sendError(c, "Failed to run session")
		}
	}
}

func (h *WebSocketHandler) streamSession(c *websocket.Conn, query, userID string) error {
	var writeErr error

	session := h.orchestrator.RunWithProgress(context.Background(), agent.Goal{
		Query:  query,
		UserID: userID,
	}, func(event agent.ProgressEvent) {
		if writeErr != nil {
			return
		}
		writeErr = c.WriteJSON(map[string]any{
			"type":  "progress",
			"event": event,
		})
	})

	if writeErr != nil {
		return writeErr
	}

	return c.WriteJSON(map[string]any{
		"type":    "session",
		"session": session,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]any{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
