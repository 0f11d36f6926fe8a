package server

import (
	"errors"
	"io"
	"mime/multipart"

	"devpress/internal/feed"
	"devpress/internal/media"
	"devpress/internal/models"
	"devpress/internal/service"
	"devpress/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type createPostRequest struct {
	Title     string    `json:"title" form:"title"`
	Content   string    `json:"content" form:"content"`
	Tags      string    `json:"tags" form:"tags"`
	Published boolField `json:"published" form:"published"`
}

type reactionRequest struct {
	Type string `json:"type" form:"type" validate:"required,reaction"`
}

// CreatePost handles POST /api/posts
// @Summary Create a post
// @Tags posts
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Title"
// @Param content formData string false "Markdown body"
// @Param tags formData string false "Comma-joined tags"
// @Param published formData bool false "Publish immediately"
// @Param coverImage formData file false "Cover image"
// @Success 201 {object} models.PostView
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	userID := viewerID(c)

	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	published, err := parseBoolField(string(req.Published))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("published must be a boolean"))
	}

	cover, err := s.coverUpload(c, userID)
	if err != nil {
		return nil
	}

	view, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		AuthorID:  userID,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      validation.SplitTags(req.Tags),
		Published: published,
		Cover:     cover,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// GetPosts handles GET /api/posts
// @Summary List posts
// @Description Recent or popular feed with optional search, tag and author filters
// @Tags posts
// @Produce json
// @Param q query string false "Search text; #tag matches tags"
// @Param sort query string false "recent or popular"
// @Param tag query string false "Tag filter"
// @Param author query int false "Author id"
// @Param page query int false "1-based page"
// @Param limit query int false "Page size"
// @Success 200 {array} models.PostView
// @Router /api/posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	page := parsePagination(c, service.DefaultPageSize)

	authorID := c.QueryInt("author", 0)
	if authorID < 0 {
		authorID = 0
	}

	views, err := s.postService.ListPosts(c.UserContext(), service.ListPostsInput{
		ViewerID: viewerID(c),
		Query:    c.Query("q"),
		Sort:     feed.ParseSort(c.Query("sort")),
		Tag:      c.Query("tag"),
		AuthorID: uint(authorID),
		Page:     page.Page,
		Limit:    page.Limit,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(views)
}

// GetPost handles GET /api/posts/:id
// @Summary Read a post
// @Tags posts
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} models.PostView
// @Failure 404 {object} models.ErrorResponse
// @Router /api/posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := s.postService.GetPost(c.UserContext(), id, viewerID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

// UpdatePost handles PATCH /api/posts/:id
// @Summary Update a post
// @Description Only title, content, tags, coverImage and published are accepted
// @Tags posts
// @Accept json
// @Produce json
// @Param id path int true "Post ID"
// @Param request body models.PostUpdate true "Fields to change"
// @Success 200 {object} models.PostView
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/posts/{id} [patch]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var update models.PostUpdate
	if err := c.BodyParser(&update); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	view, err := s.postService.UpdatePost(c.UserContext(), service.UpdatePostInput{
		UserID: viewerID(c),
		PostID: id,
		Update: update,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete a post
// @Tags posts
// @Param id path int true "Post ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.postService.DeletePost(c.UserContext(), id, viewerID(c)); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Post deleted"})
}

// React handles POST /api/posts/:id/reactions
// @Summary React to a post
// @Tags reactions
// @Accept json
// @Produce json
// @Param id path int true "Post ID"
// @Param request body object{type=string} true "like, unicorn, exploding_head, fire, heart or rocket"
// @Success 200 {object} service.ReactionSummary
// @Security BearerAuth
// @Router /api/posts/{id}/reactions [post]
func (s *Server) React(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req reactionRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	summary, err := s.postService.React(c.UserContext(), id, viewerID(c), req.Type)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(summary)
}

// GetReactions handles GET /api/posts/:id/reactions
// @Summary Reaction counts of a post
// @Tags reactions
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} service.ReactionSummary
// @Router /api/posts/{id}/reactions [get]
func (s *Server) GetReactions(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	summary, err := s.postService.Reactions(c.UserContext(), id, viewerID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(summary)
}

// ToggleFavorite handles POST /api/posts/:id/favorite
// @Summary Toggle a favorite
// @Tags reactions
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} service.FavoriteResult
// @Security BearerAuth
// @Router /api/posts/{id}/favorite [post]
func (s *Server) ToggleFavorite(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	result, err := s.postService.ToggleFavorite(c.UserContext(), id, viewerID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(result)
}

// coverUpload reads the optional coverImage part. A missing part yields nil.
// On failure it writes a 400 response and returns errResponseWritten.
func (s *Server) coverUpload(c *fiber.Ctx, userID uint) (*media.CoverUpload, error) {
	fh, err := c.FormFile("coverImage")
	if err != nil {
		if errors.Is(err, fasthttp.ErrMissingFile) || errors.Is(err, fasthttp.ErrNoMultipartForm) {
			return nil, nil
		}
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid cover image upload"))
		return nil, errResponseWritten
	}

	content, err := readPart(fh, int64(s.maxUploadMB())*1024*1024)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(err.Error()))
		return nil, errResponseWritten
	}

	return &media.CoverUpload{
		UserID:      userID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}

var errCoverTooLarge = errors.New("cover image is too large")

func readPart(fh *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	if fh.Size > maxBytes {
		return nil, errCoverTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > maxBytes {
		return nil, errCoverTooLarge
	}
	return content, nil
}
