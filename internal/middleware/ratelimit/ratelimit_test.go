package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newApp(t *testing.T, cfg Config) *fiber.App {
	t.Helper()
	cfg.Logger = zap.NewNop()

	rl := New(cfg)
	t.Cleanup(rl.Stop)

	app := fiber.New()
	app.Use(rl.Middleware())

	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Get("/api/v1/collections", ok)
	app.Post("/api/v1/documents", ok)
	app.Post("/api/v1/agent/sessions", ok)
	return app
}

func request(t *testing.T, app *fiber.App, method, path, user string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestBurstExhaustion(t *testing.T) {
	app := newApp(t, Config{RequestsPerMinute: 60, Burst: 2})

	assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
	assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
}

func TestHeavyRoutesCostMore(t *testing.T) {
	app := newApp(t, Config{RequestsPerMinute: 60, Burst: 6})

	// One ingest batch drains five tokens, a session two, reads one.
	assert.Equal(t, fiber.StatusOK, request(t, app, "POST", "/api/v1/documents", "analyst-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "POST", "/api/v1/agent/sessions", "analyst-1"))
	assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
}

func TestBucketsAreIndependentPerUser(t *testing.T) {
	app := newApp(t, Config{RequestsPerMinute: 60, Burst: 1})

	assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, request(t, app, "GET", "/api/v1/collections", "analyst-1"))
	assert.Equal(t, fiber.StatusOK, request(t, app, "GET", "/api/v1/collections", "analyst-2"))
}

func TestCostTable(t *testing.T) {
	assert.Equal(t, 5, costFor(fiber.MethodPost, "/api/v1/documents"))
	assert.Equal(t, 2, costFor(fiber.MethodPost, "/api/v1/agent/sessions"))
	assert.Equal(t, 1, costFor(fiber.MethodGet, "/api/v1/documents"), "reads stay cheap")
	assert.Equal(t, 1, costFor(fiber.MethodGet, "/api/v1/collections"))
}
