package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"devpress/internal/config"
	"devpress/internal/models"
	"devpress/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	models.PasswordCost = bcrypt.MinCost
	os.Exit(m.Run())
}

// testEnv is a fully wired server backed by sqlite and miniredis.
type testEnv struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                 "0",
		Env:                  "test",
		AllowedOrigins:       "http://localhost:5173",
		SessionTTL:           time.Hour,
		SessionCookie:        "devpress_sid",
		JWTSecret:            "test_secret",
		JWTIssuer:            "devpress",
		JWTAudience:          "devpress-api",
		JWTTTL:               time.Hour,
		UploadDir:            t.TempDir(),
		ImageMaxUploadSizeMB: 2,
	}
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	db := testutil.SQLiteDB(t)
	rdb, mr := testutil.Redis(t)

	cfg := testConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}

	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	return &testEnv{srv: srv, app: srv.NewApp(), db: db, mr: mr}
}

// do runs req against the app and closes the body when the test ends.
func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// register creates a local account and returns a session cookie for it.
func (e *testEnv) register(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	resp := e.do(t, jsonRequest(http.MethodPost, "/register", map[string]string{
		"username": username,
		"password": password,
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, jsonRequest(http.MethodPost, "/authenticate", map[string]string{
		"username": username,
		"password": password,
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie, "authenticate must set the session cookie")
	return cookie
}

func jsonRequest(method, path string, body any) *http.Request {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func withCookie(req *http.Request, cookie *http.Cookie) *http.Request {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "devpress_sid" {
			return c
		}
	}
	return nil
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewServerWithDeps_RequiresRedis(t *testing.T) {
	db := testutil.SQLiteDB(t)
	_, err := NewServerWithDeps(testConfig(t), db, nil)
	assert.Error(t, err)

	_, err = NewServerWithDeps(testConfig(t), nil, nil)
	assert.Error(t, err)
}

func TestReadinessCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])

	env.mr.Close()
	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body = decodeJSON[map[string]any](t, resp)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unhealthy", checks["redis"])
	assert.Equal(t, "healthy", checks["database"])
}

func TestLivenessCheck(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestFeatureFlagsEndpoint(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.FeatureFlags = "facebook_login=on,webp_covers=off" })

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/features", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}](t, resp)
	assert.Equal(t, "on", body.Raw["facebook_login"])
	assert.True(t, body.Evaluated["facebook_login"])
	assert.False(t, body.Evaluated["webp_covers"])
}
