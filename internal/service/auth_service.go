package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/oauth"
	"devpress/internal/observability"
	"devpress/internal/repository"
	"devpress/internal/session"
	"devpress/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Login failure messages shown to the client.
const (
	MsgMissingCredentials = "Faltan credenciales"
	MsgInvalidCredentials = "Credenciales inválidas"
)

// maxUsernameAttempts bounds the numeric suffixes tried before falling back
// to a random one when deriving a username for a federated account.
const maxUsernameAttempts = 20

// AuthService owns registration, credential checks and session creation.
type AuthService struct {
	users    repository.UserRepository
	sessions session.Store
	now      func() time.Time
}

type RegisterInput struct {
	Username string
	Password string
	Email    string
}

// Login is the result of a successful authentication.
type Login struct {
	User      *models.User
	SessionID string
	Session   session.Projection
}

func NewAuthService(users repository.UserRepository, sessions session.Store) *AuthService {
	return &AuthService{users: users, sessions: sessions, now: time.Now}
}

// Register creates a local account. Usernames are unique; a taken name
// yields the user-exists error.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (user *models.User, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "auth.register")
	defer observability.EndSpan(span, &err)

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, models.NewValidationError(MsgMissingCredentials)
	}
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	exists, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if exists {
		return nil, models.NewUserExistsError()
	}

	user = &models.User{Username: username, DisplayName: username, IsActive: true}
	if email := strings.TrimSpace(in.Email); email != "" {
		if err := validation.ValidateEmail(email); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		user.Email = &email
	}
	if err := user.SetPassword(in.Password); err != nil {
		if errors.Is(err, models.ErrPasswordTooShort) {
			return nil, models.NewValidationError(err.Error())
		}
		return nil, models.NewInternalError(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, models.NewUserExistsError()
		}
		return nil, models.NewInternalError(err)
	}

	middleware.Logger.InfoContext(ctx, "user registered",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("username", user.Username))
	return user, nil
}

// Authenticate verifies a username (or email) and password and opens a
// session. An unknown user and a wrong password fail the same way.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password string) (login *Login, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "auth.authenticate")
	defer observability.EndSpan(span, &err)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		observability.AuthAttempts.WithLabelValues("local", "missing").Inc()
		return nil, models.NewUnauthorizedError(MsgMissingCredentials)
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			observability.AuthAttempts.WithLabelValues("local", "unknown_user").Inc()
			return nil, models.NewUnauthorizedError(MsgInvalidCredentials)
		}
		observability.AuthAttempts.WithLabelValues("local", "error").Inc()
		return nil, models.NewInternalError(err)
	}
	if !user.IsCorrectPassword(password) {
		observability.AuthAttempts.WithLabelValues("local", "bad_password").Inc()
		return nil, models.NewUnauthorizedError(MsgInvalidCredentials)
	}

	login, err = s.startSession(ctx, user)
	if err != nil {
		observability.AuthAttempts.WithLabelValues("local", "error").Inc()
		return nil, err
	}
	observability.AuthAttempts.WithLabelValues("local", "success").Inc()
	return login, nil
}

// LoginWithProvider finds the account linked to a federated profile, or
// creates one, and opens a session for it.
func (s *AuthService) LoginWithProvider(ctx context.Context, profile *oauth.Profile) (login *Login, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "auth.login_with_provider",
		attribute.String("provider", profileProvider(profile)))
	defer observability.EndSpan(span, &err)

	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return nil, models.NewUnauthorizedError(MsgInvalidCredentials)
	}
	provider := repository.Provider(profile.Provider)

	user, err := s.users.GetByProviderID(ctx, provider, profile.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		user, err = s.createFederatedUser(ctx, provider, profile)
		if err != nil {
			observability.AuthAttempts.WithLabelValues(profile.Provider, "error").Inc()
			return nil, err
		}
	default:
		observability.AuthAttempts.WithLabelValues(profile.Provider, "error").Inc()
		return nil, models.NewInternalError(err)
	}

	login, err = s.startSession(ctx, user)
	if err != nil {
		observability.AuthAttempts.WithLabelValues(profile.Provider, "error").Inc()
		return nil, err
	}
	observability.AuthAttempts.WithLabelValues(profile.Provider, "success").Inc()
	return login, nil
}

// Logout destroys the session. A missing session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return models.NewInternalError(err)
	}
	return nil
}

// CurrentUser loads the full account behind a session projection.
func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("User", userID)
		}
		return nil, models.NewInternalError(err)
	}
	return user, nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User) (*Login, error) {
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, models.NewInternalError(err)
	}
	user.LastLogin = &now

	projection := session.Projection{
		ID:             user.ID,
		Username:       user.Username,
		ProfilePicture: user.Picture(),
	}
	id, err := s.sessions.Create(ctx, projection)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	observability.SessionsCreated.Inc()
	return &Login{User: user, SessionID: id, Session: projection}, nil
}

func (s *AuthService) createFederatedUser(ctx context.Context, provider repository.Provider, profile *oauth.Profile) (*models.User, error) {
	username, err := s.uniqueUsername(ctx, usernameBase(profile))
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	id := profile.ID
	user := &models.User{
		Username:       username,
		DisplayName:    strings.TrimSpace(profile.DisplayName),
		ProfilePicture: profile.Picture,
		IsActive:       true,
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}
	switch provider {
	case repository.ProviderGoogle:
		user.GoogleID = &id
	case repository.ProviderFacebook:
		user.FacebookID = &id
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unsupported provider %q", profile.Provider))
	}
	if email := strings.TrimSpace(profile.Email); email != "" && validation.ValidateEmail(email) == nil {
		user.Email = &email
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && user.Email != nil {
			// The email already belongs to another account; keep the login without it.
			user.Email = nil
			err = s.users.Create(ctx, user)
		}
		if err != nil {
			return nil, models.NewInternalError(err)
		}
	}

	middleware.Logger.InfoContext(ctx, "federated user created",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("provider", profile.Provider))
	return user, nil
}

// uniqueUsername returns base, or base with the first free numeric suffix.
func (s *AuthService) uniqueUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= maxUsernameAttempts; i++ {
		if validation.ValidateUsername(candidate) == nil {
			exists, err := s.users.UsernameExists(ctx, candidate)
			if err != nil {
				return "", err
			}
			if !exists {
				return candidate, nil
			}
		}
		candidate = withSuffix(base, fmt.Sprintf("%d", i+1))
	}
	return withSuffix(base, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]), nil
}

// usernameBase turns the profile's display name (or email local part) into
// a string that satisfies the username rules.
func usernameBase(profile *oauth.Profile) string {
	source := profile.DisplayName
	if strings.TrimSpace(source) == "" {
		source, _, _ = strings.Cut(profile.Email, "@")
	}

	var b strings.Builder
	for _, r := range strings.ToLower(source) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '_' || r == '-':
			b.WriteRune('_')
		}
	}
	base := strings.Trim(b.String(), "_-")
	for strings.Contains(base, "__") {
		base = strings.ReplaceAll(base, "__", "_")
	}
	if len(base) > validation.MaxUsernameLength {
		base = strings.TrimRight(base[:validation.MaxUsernameLength], "_-")
	}
	if len(base) < validation.MinUsernameLength {
		base = profile.Provider + "_user"
	}
	return base
}

func withSuffix(base, suffix string) string {
	limit := validation.MaxUsernameLength - len(suffix) - 1
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], "_-")
	}
	return base + "_" + suffix
}

func profileProvider(p *oauth.Profile) string {
	if p == nil {
		return ""
	}
	return p.Provider
}
