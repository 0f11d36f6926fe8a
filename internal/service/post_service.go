package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"devpress/internal/cache"
	"devpress/internal/featureflags"
	"devpress/internal/feed"
	"devpress/internal/media"
	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/notifications"
	"devpress/internal/observability"
	"devpress/internal/repository"
	"devpress/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// feedWindow is how many of the newest posts a search or popularity
	// sort looks at.
	feedWindow = 500
)

// CoverSaver stores uploaded cover images.
type CoverSaver interface {
	Save(ctx context.Context, in media.CoverUpload, withWebP bool) (*media.Cover, error)
}

// EventPublisher fans post activity out to live watchers.
type EventPublisher interface {
	PublishPostEvent(ctx context.Context, ev notifications.Event) error
}

// FlagChecker evaluates feature flags for a user.
type FlagChecker interface {
	Enabled(name string, userID uint) bool
}

type PostService struct {
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository
	covers      CoverSaver
	events      EventPublisher
	flags       FlagChecker
	postTTL     time.Duration
	now         func() time.Time
}

type CreatePostInput struct {
	AuthorID  uint
	Title     string
	Content   string
	Tags      []string
	Published bool
	Cover     *media.CoverUpload
}

type ListPostsInput struct {
	ViewerID uint
	Query    string
	Sort     feed.SortMode
	Tag      string
	AuthorID uint
	Page     int
	Limit    int
}

type UpdatePostInput struct {
	UserID uint
	PostID uint
	Update models.PostUpdate
}

// ReactionSummary is the reaction state of a post for one viewer.
type ReactionSummary struct {
	PostID     uint                  `json:"postId"`
	Counts     models.ReactionCounts `json:"reactionCounts"`
	Total      int                   `json:"total"`
	Reacted    bool                  `json:"reacted"`
	MyReaction models.ReactionType   `json:"myReaction,omitempty"`
}

// FavoriteResult is the outcome of a favorite toggle.
type FavoriteResult struct {
	Favorited      bool  `json:"favorited"`
	FavoritesCount int64 `json:"favoritesCount"`
}

// CommentLikeResult is the outcome of a comment like toggle.
type CommentLikeResult struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likesCount"`
}

func NewPostService(
	postRepo repository.PostRepository,
	commentRepo repository.CommentRepository,
	covers CoverSaver,
	events EventPublisher,
	flags FlagChecker,
) *PostService {
	return &PostService{
		postRepo:    postRepo,
		commentRepo: commentRepo,
		covers:      covers,
		events:      events,
		flags:       flags,
		postTTL:     cache.DefaultPostTTL,
		now:         time.Now,
	}
}

// WithPostTTL sets how long anonymous post reads stay cached. Non-positive
// values keep the default.
func (s *PostService) WithPostTTL(ttl time.Duration) *PostService {
	if ttl > 0 {
		s.postTTL = ttl
	}
	return s
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (view *models.PostView, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.create")
	defer observability.EndSpan(span, &err)

	if err := validation.ValidateTitle(in.Title); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	tags := validation.NormalizeTags(in.Tags)
	if err := validation.ValidateTags(tags); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	post := &models.Post{
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		AuthorID: in.AuthorID,
	}
	post.SetTags(tags)
	if in.Published {
		post.Publish(s.now().UTC())
	}

	if in.Cover != nil && len(in.Cover.Content) > 0 {
		if s.covers == nil {
			return nil, models.NewValidationError("Cover uploads are disabled")
		}
		upload := *in.Cover
		upload.UserID = in.AuthorID
		cover, err := s.covers.Save(ctx, upload, s.flagEnabled(featureflags.WebPCovers, in.AuthorID))
		if err != nil {
			return nil, err
		}
		post.CoverImage = cover.URL
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, models.NewInternalError(err)
	}
	observability.PostEvents.WithLabelValues("created").Inc()

	created, err := s.postRepo.GetByID(ctx, post.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	v := created.ToView(in.AuthorID, true)
	return &v, nil
}

// ListPosts returns one page of the feed. Without a query or popularity
// sort the page comes straight from the database; otherwise the newest
// posts are searched and ordered in memory.
func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) (views []models.PostView, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.list",
		attribute.String("sort", string(in.Sort)))
	defer observability.EndSpan(span, &err)

	limit := in.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := in.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	filter := repository.ListFilter{
		Tag:           validation.NormalizeTag(in.Tag),
		AuthorID:      in.AuthorID,
		PublishedOnly: in.AuthorID == 0 || in.AuthorID != in.ViewerID,
	}
	inMemory := strings.TrimSpace(in.Query) != "" || in.Sort == feed.SortPopular
	if inMemory {
		filter.Limit = feedWindow
	} else {
		filter.Limit = limit
		filter.Offset = offset
	}

	posts, err := s.postRepo.List(ctx, filter)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	views = make([]models.PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, p.ToView(in.ViewerID, false))
	}
	if !inMemory {
		return views, nil
	}

	items := feed.Sort(feed.Search(ToFeedItems(views), in.Query), in.Sort)
	byID := make(map[uint]models.PostView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}

	out := make([]models.PostView, 0, limit)
	for i := offset; i < len(items) && len(out) < limit; i++ {
		out = append(out, byID[items[i].ID])
	}
	return out, nil
}

// GetPost returns a post with its comments and counts a read. Anonymous
// views are served from the cache. Drafts are visible only to their author.
func (s *PostService) GetPost(ctx context.Context, postID, viewerID uint) (view *models.PostView, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.get",
		attribute.Int64("post_id", int64(postID)))
	defer observability.EndSpan(span, &err)

	var v models.PostView
	fetch := func() error {
		post, err := s.postRepo.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		v = post.ToView(viewerID, true)
		return nil
	}

	if viewerID == 0 {
		err = cache.Aside(ctx, cache.PostKey(postID), &v, s.postTTL, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("Post", postID)
		}
		return nil, models.NewInternalError(err)
	}

	if !v.Published && (v.Author == nil || v.Author.ID != viewerID) {
		return nil, models.NewNotFoundError("Post", postID)
	}

	if err := s.postRepo.IncrementReadCount(ctx, postID); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to count post read",
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()))
	} else {
		v.ReadCount++
	}
	return &v, nil
}

func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (view *models.PostView, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.update",
		attribute.Int64("post_id", int64(in.PostID)))
	defer observability.EndSpan(span, &err)

	post, err := s.ownedPost(ctx, in.PostID, in.UserID, "You can only edit your own posts")
	if err != nil {
		return nil, err
	}

	u := in.Update
	if u.Title != nil {
		if err := validation.ValidateTitle(*u.Title); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		title := strings.TrimSpace(*u.Title)
		u.Title = &title
	}
	if u.Tags != nil {
		tags := validation.NormalizeTags(*u.Tags)
		if err := validation.ValidateTags(tags); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		u.Tags = &tags
	}

	post.ApplyUpdate(u, s.now().UTC())
	if err := s.postRepo.Update(ctx, post); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("Post", in.PostID)
		}
		return nil, models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, post.ID)
	observability.PostEvents.WithLabelValues("updated").Inc()
	s.publish(ctx, notifications.Event{Type: notifications.EventPostUpdated, PostID: post.ID, UserID: in.UserID})

	v := post.ToView(in.UserID, true)
	return &v, nil
}

func (s *PostService) DeletePost(ctx context.Context, postID, userID uint) (err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.delete",
		attribute.Int64("post_id", int64(postID)))
	defer observability.EndSpan(span, &err)

	if _, err := s.ownedPost(ctx, postID, userID, "You can only delete your own posts"); err != nil {
		return err
	}
	if err := s.postRepo.Delete(ctx, postID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.NewNotFoundError("Post", postID)
		}
		return models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, postID)
	observability.PostEvents.WithLabelValues("deleted").Inc()
	s.publish(ctx, notifications.Event{Type: notifications.EventPostDeleted, PostID: postID, UserID: userID})
	return nil
}

// React records or replaces the user's reaction and returns the new counts.
func (s *PostService) React(ctx context.Context, postID, userID uint, rawType string) (summary *ReactionSummary, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.react",
		attribute.Int64("post_id", int64(postID)))
	defer observability.EndSpan(span, &err)

	reaction, err := models.ParseReactionType(rawType)
	if err != nil {
		return nil, models.NewValidationError("Invalid reaction type")
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}
	if err := s.postRepo.UpsertReaction(ctx, postID, userID, reaction); err != nil {
		return nil, models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, postID)
	observability.PostEvents.WithLabelValues("reaction").Inc()
	observability.ReactionsByType.WithLabelValues(string(reaction)).Inc()

	summary, err = s.Reactions(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.Event{
		Type:    notifications.EventReaction,
		PostID:  postID,
		UserID:  userID,
		Payload: map[string]interface{}{"type": reaction, "reactionCounts": summary.Counts},
	})
	return summary, nil
}

// Reactions returns the counts for a post and, for a logged-in viewer,
// whether and how they reacted.
func (s *PostService) Reactions(ctx context.Context, postID, viewerID uint) (*ReactionSummary, error) {
	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}
	counts, err := s.postRepo.ReactionCounts(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	summary := &ReactionSummary{PostID: postID, Counts: counts, Total: counts.Total()}
	if viewerID != 0 {
		mine, err := s.postRepo.UserReaction(ctx, postID, viewerID)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		summary.MyReaction = mine
		summary.Reacted = mine != ""
	}
	return summary, nil
}

func (s *PostService) ToggleFavorite(ctx context.Context, postID, userID uint) (result *FavoriteResult, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.toggle_favorite",
		attribute.Int64("post_id", int64(postID)))
	defer observability.EndSpan(span, &err)

	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}
	favorited, err := s.postRepo.ToggleFavorite(ctx, postID, userID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	count, err := s.postRepo.FavoritesCount(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, postID)
	observability.PostEvents.WithLabelValues("favorite").Inc()
	return &FavoriteResult{Favorited: favorited, FavoritesCount: count}, nil
}

func (s *PostService) AddComment(ctx context.Context, postID, userID uint, content string) (view *models.CommentView, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "post.add_comment",
		attribute.Int64("post_id", int64(postID)))
	defer observability.EndSpan(span, &err)

	if err := validation.ValidateCommentContent(content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}

	comment := &models.Comment{PostID: postID, UserID: userID, Content: strings.TrimSpace(content)}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, models.NewInternalError(err)
	}
	created, err := s.commentRepo.GetByID(ctx, comment.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, postID)
	observability.PostEvents.WithLabelValues("comment").Inc()

	v := created.ToView(userID)
	s.publish(ctx, notifications.Event{Type: notifications.EventComment, PostID: postID, UserID: userID, Payload: v})
	return &v, nil
}

func (s *PostService) ToggleCommentLike(ctx context.Context, commentID, userID uint) (result *CommentLikeResult, err error) {
	ctx, span := observability.StartSpan(ctx, "service", "comment.toggle_like",
		attribute.Int64("comment_id", int64(commentID)))
	defer observability.EndSpan(span, &err)

	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("Comment", commentID)
		}
		return nil, models.NewInternalError(err)
	}
	liked, count, err := s.commentRepo.ToggleLike(ctx, commentID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("Comment", commentID)
		}
		return nil, models.NewInternalError(err)
	}

	cache.InvalidatePost(ctx, comment.PostID)
	result = &CommentLikeResult{Liked: liked, LikesCount: count}
	s.publish(ctx, notifications.Event{
		Type:    notifications.EventCommentLike,
		PostID:  comment.PostID,
		UserID:  userID,
		Payload: map[string]interface{}{"commentId": commentID, "likesCount": count},
	})
	return result, nil
}

// ToFeedItems projects post views onto the fields the feed searches and
// orders by. Popularity is the total reaction count.
func ToFeedItems(views []models.PostView) []feed.Item {
	items := make([]feed.Item, 0, len(views))
	for _, v := range views {
		items = append(items, feed.Item{
			ID:      v.ID,
			Title:   v.Title,
			Content: v.Content,
			Tags:    v.Tags,
			Likes:   v.Reactions,
		})
	}
	return items
}

func (s *PostService) ownedPost(ctx context.Context, postID, userID uint, forbidden string) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("Post", postID)
		}
		return nil, models.NewInternalError(err)
	}
	if post.AuthorID != userID {
		return nil, models.NewForbiddenError(forbidden)
	}
	return post, nil
}

func (s *PostService) requirePost(ctx context.Context, postID uint) error {
	exists, err := s.postRepo.Exists(ctx, postID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if !exists {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func (s *PostService) publish(ctx context.Context, ev notifications.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPostEvent(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish post event",
			slog.String("type", ev.Type),
			slog.Uint64("post_id", uint64(ev.PostID)),
			slog.String("error", err.Error()))
	}
}

func (s *PostService) flagEnabled(name string, userID uint) bool {
	return s.flags != nil && s.flags.Enabled(name, userID)
}
