package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devpress/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func newTestTokenAuth() *TokenAuth {
	return NewTokenAuth(&config.Config{
		JWTSecret:   testSecret,
		JWTIssuer:   "devpress-api",
		JWTAudience: "devpress-client",
		JWTTTL:      time.Hour,
	})
}

func signClaims(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestTokenAuth_IssueVerifyRoundTrip(t *testing.T) {
	auth := newTestTokenAuth()

	token, exp, err := auth.Issue(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	userID, claims, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestOptionalBearer(t *testing.T) {
	auth := newTestTokenAuth()
	app := fiber.New()
	app.Get("/test", auth.OptionalBearer(), func(c *fiber.Ctx) error {
		userID, ok := UserID(c)
		return c.JSON(fiber.Map{"userID": userID, "authenticated": ok})
	})

	valid, _, err := auth.Issue(123, "alice")
	require.NoError(t, err)

	claimsWith := func(iss, aud string, exp time.Duration) jwt.RegisteredClaims {
		now := time.Now()
		return jwt.RegisteredClaims{
			Subject:   "123",
			Issuer:    iss,
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
			IssuedAt:  jwt.NewNumericDate(now),
		}
	}

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID uint
		expectAuth     bool
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + valid,
			expectedStatus: http.StatusOK,
			expectedUserID: 123,
			expectAuth:     true,
		},
		{
			name:           "No Header Passes Through",
			authHeader:     "",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + signClaims(t, claimsWith("devpress-api", "devpress-client", -time.Hour), jwt.SigningMethodHS256, []byte(testSecret)),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Issuer",
			authHeader:     "Bearer " + signClaims(t, claimsWith("someone-else", "devpress-client", time.Hour), jwt.SigningMethodHS256, []byte(testSecret)),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Audience",
			authHeader:     "Bearer " + signClaims(t, claimsWith("devpress-api", "other-client", time.Hour), jwt.SigningMethodHS256, []byte(testSecret)),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + signClaims(t, claimsWith("devpress-api", "devpress-client", time.Hour), jwt.SigningMethodHS256, []byte("another-secret")),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unsigned Token",
			authHeader:     "Bearer " + signClaims(t, claimsWith("devpress-api", "devpress-client", time.Hour), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body struct {
					UserID        uint `json:"userID"`
					Authenticated bool `json:"authenticated"`
				}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUserID, body.UserID)
				assert.Equal(t, tt.expectAuth, body.Authenticated)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	app := fiber.New()
	app.Get("/anon", RequireUser(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	app.Get("/authed", func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, uint(7))
		return c.Next()
	}, RequireUser(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/anon", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/authed", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
