package session

import (
	"errors"
	"log/slog"
	"time"

	"devpress/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// LocalSession is the fiber Locals key holding the *Projection.
const LocalSession = "session"

// CookieOptions controls the session cookie attributes.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Middleware loads the session named by the cookie. Unknown ids clear the
// cookie; store failures are logged and the request continues anonymously.
func Middleware(store Store, opts CookieOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Cookies(opts.Name)
		if id == "" {
			return c.Next()
		}

		p, err := store.Get(c.UserContext(), id)
		switch {
		case errors.Is(err, ErrNotFound):
			ClearCookie(c, opts)
		case err != nil:
			middleware.Logger.WarnContext(c.UserContext(), "session lookup failed", slog.String("error", err.Error()))
		default:
			c.Locals(LocalSession, p)
			c.Locals(middleware.LocalUserID, p.ID)
			c.Locals(middleware.LocalAuthMethod, middleware.AuthMethodSession)
		}
		return c.Next()
	}
}

// Current returns the session projection for the request, if any.
func Current(c *fiber.Ctx) (*Projection, bool) {
	p, ok := c.Locals(LocalSession).(*Projection)
	return p, ok && p != nil
}

// ID returns the raw session id cookie.
func ID(c *fiber.Ctx, opts CookieOptions) string {
	return c.Cookies(opts.Name)
}

func SetCookie(c *fiber.Ctx, opts CookieOptions, id string) {
	c.Cookie(&fiber.Cookie{
		Name:     opts.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(opts.TTL.Seconds()),
		Expires:  time.Now().Add(opts.TTL),
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func ClearCookie(c *fiber.Ctx, opts CookieOptions) {
	c.Cookie(&fiber.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
