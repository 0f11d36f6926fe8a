package server

import (
	"log/slog"
	"net/url"
	"strings"

	"devpress/internal/featureflags"
	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/oauth"
	"devpress/internal/service"
	"devpress/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// credentialsRequest is the body of /register and /authenticate. Both JSON
// and form posts are accepted.
type credentialsRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Email    string `json:"email" form:"email"`
}

// Register handles POST /register
// @Summary Register a local account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{username=string,password=string,email=string} true "Registration"
// @Success 200 {object} object{message=string,user=models.PublicUser}
// @Failure 400 {object} models.ErrorResponse
// @Router /register [post]
func (s *Server) Register(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Usuario registrado",
		"user":    user.ToPublicJSON(),
	})
}

// Authenticate handles POST /authenticate
// @Summary Log in with username or email
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{username=string,password=string} true "Credentials"
// @Success 200 {object} session.Projection
// @Failure 401 {object} models.ErrorResponse
// @Router /authenticate [post]
func (s *Server) Authenticate(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	s.dropSession(c)

	login, err := s.authService.Authenticate(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	session.SetCookie(c, s.cookie, login.SessionID)
	return c.JSON(login.Session)
}

// Logout handles GET /logout
// @Summary Log out
// @Tags auth
// @Success 302
// @Failure 500 {object} models.ErrorResponse
// @Router /logout [get]
func (s *Server) Logout(c *fiber.Ctx) error {
	id := session.ID(c, s.cookie)
	session.ClearCookie(c, s.cookie)
	if err := s.authService.Logout(c.UserContext(), id); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "logout failed", slog.String("error", err.Error()))
		return models.RespondWithAppError(c, err)
	}
	return c.Redirect("/", fiber.StatusFound)
}

// CurrentUser handles GET /api/user
// @Summary Current session user
// @Tags auth
// @Produce json
// @Success 200 {object} object{user=session.Projection}
// @Router /api/user [get]
func (s *Server) CurrentUser(c *fiber.Ctx) error {
	if p, ok := session.Current(c); ok {
		return c.JSON(fiber.Map{"user": p})
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(fiber.Map{"user": nil})
	}

	user, err := s.authService.CurrentUser(c.UserContext(), userID)
	if err != nil {
		if models.StatusFor(err) == fiber.StatusNotFound {
			return c.JSON(fiber.Map{"user": nil})
		}
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"user": session.Projection{
		ID:             user.ID,
		Username:       user.Username,
		ProfilePicture: user.Picture(),
	}})
}

// IssueToken handles POST /api/token
// @Summary Issue a bearer token for the current user
// @Tags auth
// @Produce json
// @Success 200 {object} object{token=string,expiresAt=string}
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/token [post]
func (s *Server) IssueToken(c *fiber.Ctx) error {
	userID, _ := middleware.UserID(c)

	username := ""
	if p, ok := session.Current(c); ok {
		username = p.Username
	} else {
		user, err := s.authService.CurrentUser(c.UserContext(), userID)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		username = user.Username
	}

	token, expiresAt, err := s.tokens.Issue(userID, username)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// OAuthStart handles GET /auth/:provider
// @Summary Start federated login
// @Tags auth
// @Param provider path string true "google or facebook"
// @Success 302
// @Failure 404 {object} models.ErrorResponse
// @Router /auth/{provider} [get]
func (s *Server) OAuthStart(c *fiber.Ctx) error {
	p, ok := s.provider(c)
	if !ok {
		return nil
	}

	state := uuid.NewString()
	if err := s.sessions.SaveState(c.UserContext(), state); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.Redirect(p.AuthCodeURL(state), fiber.StatusFound)
}

// OAuthCallback handles GET /auth/:provider/callback
// @Summary Finish federated login
// @Tags auth
// @Param provider path string true "google or facebook"
// @Param code query string true "Authorization code"
// @Param state query string true "Anti-forgery state"
// @Success 302
// @Router /auth/{provider}/callback [get]
func (s *Server) OAuthCallback(c *fiber.Ctx) error {
	p, ok := s.provider(c)
	if !ok {
		return nil
	}
	ctx := c.UserContext()

	if reason := c.Query("error"); reason != "" {
		return loginFailed(c, reason)
	}

	valid, err := s.sessions.ConsumeState(ctx, c.Query("state"))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	if !valid {
		return loginFailed(c, "invalid_state")
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		return loginFailed(c, "missing_code")
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "oauth exchange failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		return loginFailed(c, "exchange_failed")
	}

	s.dropSession(c)

	login, err := s.authService.LoginWithProvider(ctx, profile)
	if err != nil {
		if models.StatusFor(err) == fiber.StatusUnauthorized {
			return loginFailed(c, "rejected")
		}
		return models.RespondWithAppError(c, err)
	}

	session.SetCookie(c, s.cookie, login.SessionID)
	return c.Redirect("/index", fiber.StatusFound)
}

// provider resolves the :provider route param. Unknown or disabled
// providers get a 404 and ok=false.
func (s *Server) provider(c *fiber.Ctx) (oauth.Provider, bool) {
	name := strings.ToLower(c.Params("provider"))
	p, ok := s.enabledProvider(name, viewerID(c))
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Login provider", name))
		return nil, false
	}
	return p, true
}

// enabledProvider returns the named provider when it is configured and, for
// Facebook, switched on by the facebook_login flag.
func (s *Server) enabledProvider(name string, userID uint) (oauth.Provider, bool) {
	p, ok := s.providers[name]
	if !ok {
		return nil, false
	}
	if name == oauth.Facebook && !s.featureFlags.Enabled(featureflags.FacebookLogin, userID) {
		return nil, false
	}
	return p, true
}

// dropSession destroys any session the request already carries so a new
// login never reuses an old id.
func (s *Server) dropSession(c *fiber.Ctx) {
	id := session.ID(c, s.cookie)
	if id == "" {
		return
	}
	if err := s.authService.Logout(c.UserContext(), id); err != nil {
		middleware.Logger.WarnContext(c.UserContext(), "failed to drop previous session", slog.String("error", err.Error()))
	}
}

func loginFailed(c *fiber.Ctx, reason string) error {
	return c.Redirect("/?login_error="+url.QueryEscape(reason), fiber.StatusFound)
}
