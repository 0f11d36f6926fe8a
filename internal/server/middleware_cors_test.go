package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"devpress/internal/config"
	"devpress/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editorOrigin = "http://localhost:5173"

// corsApp builds an app with only the global middleware chain and a single
// write route standing in for the API.
func corsApp(t *testing.T) *fiber.App {
	t.Helper()
	srv := &Server{config: &config.Config{AllowedOrigins: "http://localhost:8080," + editorOrigin}}

	app := fiber.New()
	srv.SetupMiddleware(app)
	app.Post("/api/posts", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func postFrom(t *testing.T, app *fiber.App, origin string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestCORS_Origins(t *testing.T) {
	app := corsApp(t)

	tests := []struct {
		name        string
		origin      string
		allowOrigin string
	}{
		{"default site", "http://localhost:8080", "http://localhost:8080"},
		{"editor", editorOrigin, editorOrigin},
		{"foreign", "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postFrom(t, app, tt.origin)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
			assert.Equal(t, tt.allowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
			if tt.allowOrigin != "" {
				assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestGlobalLimiter_KeepsCORSAndLetsPreflightThrough(t *testing.T) {
	app := corsApp(t)

	for i := 0; i < globalRequestsPerMinute; i++ {
		resp := postFrom(t, app, editorOrigin)
		require.Equal(t, fiber.StatusCreated, resp.StatusCode, "request %d", i)
		_ = resp.Body.Close()
	}

	limited := postFrom(t, app, editorOrigin)
	defer func() { _ = limited.Body.Close() }()
	assert.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, editorOrigin, limited.Header.Get("Access-Control-Allow-Origin"))
	body := decodeJSON[models.ErrorResponse](t, limited)
	assert.NotEmpty(t, body.Error)

	preflight := httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
	preflight.Header.Set("Origin", editorOrigin)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := app.Test(preflight, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, editorOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
