package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	controlBytePattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	traversalPattern   = regexp.MustCompile(`(^|[/\\])\.\.([/\\]|$)`)
)

type Config struct {
	MaxQueryLength      int
	MaxBatchPaths       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware screens request payloads before they reach the handlers. Queries
// are checked for length and control bytes, ingest paths for traversal
// segments. Semantic validation stays with the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxBatchPaths == 0 {
		cfg.MaxBatchPaths = 100
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	queryPaths := map[string]bool{
		"/api/v1/search":          true,
		"/api/v1/memories/search": true,
		"/api/v1/agent/sessions":  true,
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == fiber.MethodPost && queryPaths[c.Path()] {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			query, ok := req["query"].(string)
			if !ok || strings.TrimSpace(query) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query is required and must be a string",
				})
			}

			if len(query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if containsControlBytes(query) {
				cfg.Logger.Warn("Query carries control bytes",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid query content",
				})
			}
		}

		if c.Method() == fiber.MethodPost && c.Path() == "/api/v1/documents" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			raw, ok := req["paths"].([]interface{})
			if !ok || len(raw) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "At least one path is required",
				})
			}

			if len(raw) > cfg.MaxBatchPaths {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Too many paths in one batch",
				})
			}

			for _, entry := range raw {
				p, ok := entry.(string)
				if !ok || p == "" {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Paths must be non-empty strings",
					})
				}
				if containsTraversal(p) || containsControlBytes(p) {
					cfg.Logger.Warn("Rejected ingest path",
						zap.String("ip", c.IP()),
						zap.String("entry", p),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid document path",
					})
				}
			}
		}

		return c.Next()
	}
}

func containsControlBytes(input string) bool {
	return controlBytePattern.MatchString(input)
}

func containsTraversal(path string) bool {
	return traversalPattern.MatchString(path)
}
