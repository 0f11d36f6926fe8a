package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"devpress/internal/config"
	"devpress/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Locals keys set by the identity middleware.
const (
	LocalUserID     = "userID"
	LocalAuthMethod = "authMethod"
)

// Auth methods recorded in LocalAuthMethod.
const (
	AuthMethodSession = "session"
	AuthMethodBearer  = "bearer"
)

// ErrInvalidToken covers every bearer token rejection.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenClaims are the claims carried by devpress bearer tokens.
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenAuth issues and verifies HMAC-signed bearer tokens bound to one
// issuer and audience.
type TokenAuth struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenAuth builds a TokenAuth from the JWT settings in cfg.
func NewTokenAuth(cfg *config.Config) *TokenAuth {
	ttl := cfg.JWTTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuth{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a token for userID and returns it with its expiry.
func (a *TokenAuth) Issue(userID uint, username string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw and checks signature, expiry, issuer and audience. It
// returns the user id from the subject claim.
func (a *TokenAuth) Verify(raw string) (uint, *TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return 0, nil, ErrInvalidToken
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || userID == 0 {
		return 0, nil, ErrInvalidToken
	}
	return uint(userID), claims, nil
}

// OptionalBearer decorates the request with the token's user when an
// Authorization header is present. Requests without one pass through
// untouched; a malformed or invalid token is rejected with 401.
func (a *TokenAuth) OptionalBearer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Next()
		}

		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid authorization header format"))
		}

		userID, _, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalAuthMethod, AuthMethodBearer)
		return c.Next()
	}
}

// RequireUser rejects requests that no identity middleware authenticated.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := UserID(c); !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authentication required"))
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id for the request, if any.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(LocalUserID).(uint)
	return id, ok && id != 0
}
