// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "devpress/docs" // swagger docs
	"devpress/internal/bootstrap"
	"devpress/internal/config"
	"devpress/internal/featureflags"
	"devpress/internal/media"
	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/notifications"
	"devpress/internal/oauth"
	"devpress/internal/repository"
	"devpress/internal/service"
	"devpress/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// globalRequestsPerMinute caps each client IP across all routes.
const globalRequestsPerMinute = 300

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	userRepo    repository.UserRepository
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository

	sessions     session.Store
	cookie       session.CookieOptions
	tokens       *middleware.TokenAuth
	rateLimiter  *middleware.RateLimiter
	providers    map[string]oauth.Provider
	covers       *media.CoverStore
	notifier     *notifications.Notifier
	hub          *notifications.Hub
	featureFlags *featureflags.Manager

	authService *service.AuthService
	postService *service.PostService
}

// NewServer connects to the database and Redis and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{Migrate: cfg.AutoMigrate})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if redisClient == nil {
		return nil, errors.New("redis is required for the session store")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("devpress-api"),
		userRepo:       repository.NewUserRepository(db),
		postRepo:       repository.NewPostRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		sessions:       session.NewRedisStore(redisClient, cfg.SessionTTL),
		cookie: session.CookieOptions{
			Name:   cfg.SessionCookie,
			Secure: cfg.CookieSecure,
			TTL:    cfg.SessionTTL,
		},
		tokens:       middleware.NewTokenAuth(cfg),
		rateLimiter:  middleware.NewRateLimiter(redisClient, true),
		providers:    oauth.FromConfig(cfg),
		covers:       media.NewCoverStore(cfg),
		notifier:     notifications.NewNotifier(redisClient),
		hub:          notifications.NewHub(),
		featureFlags: featureflags.NewManager(cfg.FeatureFlags),
	}
	s.authService = service.NewAuthService(s.userRepo, s.sessions)
	s.postService = service.NewPostService(s.postRepo, s.commentRepo, s.covers, s.notifier, s.featureFlags).
		WithPostTTL(cfg.PostCacheTTL)
	return s, nil
}

// NewApp builds the fiber application with middleware and routes.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "devpress",
		BodyLimit: (s.maxUploadMB() + 1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{
		CrossOriginEmbedderPolicy: "unsafe-none",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	// CORS runs before anything that can short-circuit so error responses
	// still carry the headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:8080"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        globalRequestsPerMinute,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
			})
		},
	}))

	// Identity: the session cookie first, then an optional bearer token.
	if s.sessions != nil {
		app.Use(session.Middleware(s.sessions, s.cookie))
	}
	if s.tokens != nil {
		app.Use(s.tokens.OptionalBearer())
	}

	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	authLimit := s.limit(s.config.RateLimitAuthPerMinute, middleware.FailOpen, "auth")
	writeLimit := s.limit(s.config.RateLimitWritePerMinute, middleware.FailOpen, "write")
	requireUser := middleware.RequireUser()

	// Ops
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Pages
	app.Get("/", s.Home)
	app.Get("/index", s.Index)
	app.Static(media.URLPrefix, s.uploadDir(), fiber.Static{MaxAge: 86400})

	// Local auth
	app.Post("/register", authLimit, s.Register)
	app.Post("/authenticate", authLimit, s.Authenticate)
	app.Get("/logout", s.Logout)

	// Federated auth
	app.Get("/auth/:provider", s.OAuthStart)
	app.Get("/auth/:provider/callback", s.OAuthCallback)

	api := app.Group("/api")
	api.Get("/user", s.CurrentUser)
	api.Post("/token", requireUser, s.IssueToken)
	api.Get("/features", s.GetFeatureFlags)

	// Public reads
	api.Get("/posts", s.GetPosts)
	api.Get("/posts/:id/reactions", s.GetReactions)
	api.Get("/posts/:id", s.GetPost)

	// Writes
	api.Post("/posts", requireUser, writeLimit, s.CreatePost)
	api.Post("/posts/:id/reactions", requireUser, writeLimit, s.React)
	api.Post("/posts/:id/favorite", requireUser, writeLimit, s.ToggleFavorite)
	api.Post("/posts/:id/comments", requireUser, writeLimit, s.CreateComment)
	api.Patch("/posts/:id", requireUser, writeLimit, s.UpdatePost)
	api.Delete("/posts/:id", requireUser, writeLimit, s.DeletePost)
	api.Post("/comments/:id/like", requireUser, writeLimit, s.ToggleCommentLike)

	// Live post activity
	app.Get("/ws/posts/:id", s.WebSocketUpgrade, s.WatchPostHandler())
}

// limit returns a per-minute redis rate limit, or a pass-through handler
// when perMinute is not positive.
func (s *Server) limit(perMinute int, policy middleware.FailPolicy, resource string) fiber.Handler {
	if perMinute <= 0 || s.rateLimiter == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return s.rateLimiter.Handler(perMinute, time.Minute, policy, resource)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
// @Summary Readiness probe
// @Tags ops
// @Produce json
// @Success 200 {object} object{status=string,checks=object}
// @Failure 503 {object} object{status=string,checks=object}
// @Router /health [get]
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start wires live activity to Redis and listens on the configured port.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
		middleware.Logger.Error("failed to start post activity wiring", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			middleware.Logger.Error("error shutting down activity hub", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}

func (s *Server) maxUploadMB() int {
	if s.config != nil && s.config.ImageMaxUploadSizeMB > 0 {
		return s.config.ImageMaxUploadSizeMB
	}
	return media.DefaultMaxUploadSizeMB
}

func (s *Server) uploadDir() string {
	if s.covers != nil {
		return s.covers.Dir()
	}
	return media.DefaultUploadDir
}

func (s *Server) String() string {
	return fmt.Sprintf("devpress server on :%s", s.config.Port)
}
