package server

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"sort"

	"devpress/internal/feed"
	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/service"
	"devpress/internal/session"

	"github.com/gofiber/fiber/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	landingTmpl = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/landing.html"))
	feedTmpl    = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/feed.html"))
)

type pageData struct {
	Title      string
	User       *session.Projection
	Providers  []string
	LoginError string
	Query      string
	Posts      []models.PostView
}

// Home handles GET /: the landing page for anonymous visitors, the feed otherwise.
func (s *Server) Home(c *fiber.Ctx) error {
	if _, ok := session.Current(c); ok {
		return s.Index(c)
	}

	providers := make([]string, 0, len(s.providers))
	for name := range s.providers {
		if _, ok := s.enabledProvider(name, 0); ok {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)

	return s.render(c, landingTmpl, pageData{
		Title:      "Bienvenido",
		Providers:  providers,
		LoginError: c.Query("login_error"),
	})
}

// Index handles GET /index and renders the first page of the feed.
func (s *Server) Index(c *fiber.Ctx) error {
	user, _ := session.Current(c)

	posts, err := s.postService.ListPosts(c.UserContext(), service.ListPostsInput{
		ViewerID: viewerID(c),
		Query:    c.Query("q"),
		Sort:     feed.ParseSort(c.Query("sort")),
		Tag:      c.Query("tag"),
		Limit:    service.DefaultPageSize,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	return s.render(c, feedTmpl, pageData{
		Title: "Artículos",
		User:  user,
		Query: c.Query("q"),
		Posts: posts,
	})
}

func (s *Server) render(c *fiber.Ctx, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "page render failed", slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}
