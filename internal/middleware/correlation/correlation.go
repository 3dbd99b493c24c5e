// Package correlation attaches a correlation id to every request so one
// session can be traced through logs, tool calls and the memory backend.
package correlation

import (
	"github.com/gofiber/fiber/v2"

	corr "github.com/wargame-agent/backend/pkg/correlation"
)

// Middleware honors an incoming X-Correlation-ID header, generates an id when
// absent, threads it through the request's user context and echoes it in the
// response.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := corr.WithID(c.UserContext(), c.Get(corr.Header))
		ctx, id := corr.Ensure(ctx)

		c.SetUserContext(ctx)
		c.Set(corr.Header, id)

		return c.Next()
	}
}
