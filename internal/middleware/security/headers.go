package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets a locked-down header profile for a service that only
// speaks JSON and websocket frames, never HTML.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := buildPolicy(cfg.AllowedOrigins)

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		// Responses can carry user memories and session transcripts.
		c.Set("Cache-Control", "no-store")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildPolicy(origins []string) string {
	return "default-src 'none'; " +
		"connect-src 'self' " + buildConnectSrc(origins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'"
}

// buildConnectSrc lists each allowed origin as given plus its websocket
// scheme so browser clients can open /ws against the same hosts.
func buildConnectSrc(origins []string) string {
	parts := make([]string, 0, len(origins)*2)
	for _, origin := range origins {
		parts = append(parts, origin)
		if ws := websocketOrigin(origin); ws != "" {
			parts = append(parts, ws)
		}
	}
	return strings.Join(parts, " ")
}

func websocketOrigin(origin string) string {
	switch {
	case strings.HasPrefix(origin, "https://"):
		return "wss://" + strings.TrimPrefix(origin, "https://")
	case strings.HasPrefix(origin, "http://"):
		return "ws://" + strings.TrimPrefix(origin, "http://")
	default:
		return ""
	}
}
