package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devpress/internal/cache"
	"devpress/internal/featureflags"
	"devpress/internal/feed"
	"devpress/internal/media"
	"devpress/internal/models"
	"devpress/internal/notifications"
	"devpress/internal/repository"
	"devpress/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// coverStub records uploads instead of touching disk.
type coverStub struct {
	saved    []media.CoverUpload
	withWebP []bool
	err      error
}

func (s *coverStub) Save(_ context.Context, in media.CoverUpload, withWebP bool) (*media.Cover, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, in)
	s.withWebP = append(s.withWebP, withWebP)
	return &media.Cover{Hash: "abc", URL: "/uploads/covers/abc/cover.jpg"}, nil
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *eventRecorder) PublishPostEvent(_ context.Context, ev notifications.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type postFixture struct {
	svc    *PostService
	db     *gorm.DB
	covers *coverStub
	events *eventRecorder
	alice  *models.User
	bob    *models.User
}

func newPostFixture(t *testing.T) *postFixture {
	t.Helper()
	db := testutil.SQLiteDB(t)
	f := &postFixture{
		db:     db,
		covers: &coverStub{},
		events: &eventRecorder{},
		alice:  seedUser(t, db, "alice"),
		bob:    seedUser(t, db, "bob"),
	}
	f.svc = NewPostService(
		repository.NewPostRepository(db),
		repository.NewCommentRepository(db),
		f.covers,
		f.events,
		featureflags.NewManager(featureflags.WebPCovers+"=true"),
	)
	return f
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username}
	require.NoError(t, user.SetPassword("secret1"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func (f *postFixture) create(t *testing.T, author *models.User, title string, published bool, tags ...string) *models.PostView {
	t.Helper()
	view, err := f.svc.CreatePost(context.Background(), CreatePostInput{
		AuthorID:  author.ID,
		Title:     title,
		Content:   "body of " + title,
		Tags:      tags,
		Published: published,
	})
	require.NoError(t, err)
	return view
}

func TestPostService_CreatePost(t *testing.T) {
	f := newPostFixture(t)

	view, err := f.svc.CreatePost(context.Background(), CreatePostInput{
		AuthorID:  f.alice.ID,
		Title:     "  Hello Go  ",
		Content:   "first post",
		Tags:      []string{"#Go", "go", " web "},
		Published: true,
		Cover:     &media.CoverUpload{Filename: "c.png", ContentType: "image/png", Content: []byte("png")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello Go", view.Title)
	assert.Equal(t, []string{"go", "web"}, view.Tags)
	assert.True(t, view.Published)
	assert.NotNil(t, view.PublishedAt)
	assert.Equal(t, "/uploads/covers/abc/cover.jpg", view.CoverImage)
	require.NotNil(t, view.Author)
	assert.Equal(t, "alice", view.Author.Username)
	assert.Len(t, view.ReactionCounts, len(models.ReactionTypes))

	require.Len(t, f.covers.saved, 1)
	assert.Equal(t, f.alice.ID, f.covers.saved[0].UserID)
	assert.Equal(t, []bool{true}, f.covers.withWebP)
}

func TestPostService_CreatePostValidation(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePost(ctx, CreatePostInput{AuthorID: f.alice.ID, Title: "   "})
	assertAppError(t, err, models.CodeValidation)

	f.covers.err = models.NewValidationError("Invalid image type")
	_, err = f.svc.CreatePost(ctx, CreatePostInput{
		AuthorID: f.alice.ID,
		Title:    "With bad cover",
		Cover:    &media.CoverUpload{Content: []byte("nope")},
	})
	assertAppError(t, err, models.CodeValidation)
}

func TestPostService_GetPostCountsReadsAndHidesDrafts(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()

	published := f.create(t, f.alice, "Public", true)
	draft := f.create(t, f.alice, "Draft", false)

	got, err := f.svc.GetPost(ctx, published.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ReadCount)
	got, err = f.svc.GetPost(ctx, published.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ReadCount)

	_, err = f.svc.GetPost(ctx, draft.ID, f.bob.ID)
	assertAppError(t, err, models.CodeNotFound)
	_, err = f.svc.GetPost(ctx, draft.ID, 0)
	assertAppError(t, err, models.CodeNotFound)
	got, err = f.svc.GetPost(ctx, draft.ID, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, got.Published)

	_, err = f.svc.GetPost(ctx, 9999, 0)
	assertAppError(t, err, models.CodeNotFound)
}

func TestPostService_GetPostAnonymousIsCached(t *testing.T) {
	rdb, _ := testutil.Redis(t)
	cache.SetClient(rdb)
	t.Cleanup(func() { cache.SetClient(nil) })

	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, f.alice, "Cached", true)

	_, err := f.svc.GetPost(ctx, post.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rdb.Exists(ctx, cache.PostKey(post.ID)).Val())

	_, err = f.svc.React(ctx, post.ID, f.bob.ID, "fire")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rdb.Exists(ctx, cache.PostKey(post.ID)).Val(), "mutation invalidates the cached post")

	got, err := f.svc.GetPost(ctx, post.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReactionCounts[models.ReactionFire])
}

func TestPostService_WithPostTTL(t *testing.T) {
	rdb, mr := testutil.Redis(t)
	cache.SetClient(rdb)
	t.Cleanup(func() { cache.SetClient(nil) })

	f := newPostFixture(t)
	ctx := context.Background()
	first := f.create(t, f.alice, "Default TTL", true)
	_, err := f.svc.GetPost(ctx, first.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, cache.DefaultPostTTL, mr.TTL(cache.PostKey(first.ID)))

	f.svc.WithPostTTL(0)
	assert.Equal(t, cache.DefaultPostTTL, f.svc.postTTL, "non-positive keeps the default")

	f.svc.WithPostTTL(30 * time.Second)
	second := f.create(t, f.alice, "Short TTL", true)
	_, err = f.svc.GetPost(ctx, second.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL(cache.PostKey(second.ID)))
}

func TestPostService_UpdatePost(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	draft := f.create(t, f.alice, "Draft", false, "old")

	title := "Edited"
	tags := []string{"New", "#fresh"}
	publish := true
	_, err := f.svc.UpdatePost(ctx, UpdatePostInput{
		UserID: f.bob.ID,
		PostID: draft.ID,
		Update: models.PostUpdate{Title: &title},
	})
	assertAppError(t, err, models.CodeForbidden)

	updated, err := f.svc.UpdatePost(ctx, UpdatePostInput{
		UserID: f.alice.ID,
		PostID: draft.ID,
		Update: models.PostUpdate{Title: &title, Tags: &tags, Published: &publish},
	})
	require.NoError(t, err)
	assert.Equal(t, "Edited", updated.Title)
	assert.Equal(t, []string{"new", "fresh"}, updated.Tags)
	require.NotNil(t, updated.PublishedAt)
	firstPublished := *updated.PublishedAt

	unpublish, republish := false, true
	_, err = f.svc.UpdatePost(ctx, UpdatePostInput{UserID: f.alice.ID, PostID: draft.ID, Update: models.PostUpdate{Published: &unpublish}})
	require.NoError(t, err)
	again, err := f.svc.UpdatePost(ctx, UpdatePostInput{UserID: f.alice.ID, PostID: draft.ID, Update: models.PostUpdate{Published: &republish}})
	require.NoError(t, err)
	require.NotNil(t, again.PublishedAt)
	assert.True(t, firstPublished.Equal(*again.PublishedAt), "publishedAt is set only once")

	empty := " "
	_, err = f.svc.UpdatePost(ctx, UpdatePostInput{UserID: f.alice.ID, PostID: draft.ID, Update: models.PostUpdate{Title: &empty}})
	assertAppError(t, err, models.CodeValidation)

	_, err = f.svc.UpdatePost(ctx, UpdatePostInput{UserID: f.alice.ID, PostID: 9999, Update: models.PostUpdate{Title: &title}})
	assertAppError(t, err, models.CodeNotFound)

	assert.Contains(t, f.events.types(), notifications.EventPostUpdated)
}

func TestPostService_DeletePost(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, f.alice, "Doomed", true)

	assertAppError(t, f.svc.DeletePost(ctx, post.ID, f.bob.ID), models.CodeForbidden)
	require.NoError(t, f.svc.DeletePost(ctx, post.ID, f.alice.ID))
	assertAppError(t, f.svc.DeletePost(ctx, post.ID, f.alice.ID), models.CodeNotFound)
	assert.Contains(t, f.events.types(), notifications.EventPostDeleted)
}

func TestPostService_ReactReplacesAndCounts(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, f.alice, "Reactable", true)

	_, err := f.svc.React(ctx, post.ID, f.bob.ID, "like")
	require.NoError(t, err)
	summary, err := f.svc.React(ctx, post.ID, f.bob.ID, "unicorn")
	require.NoError(t, err)

	assert.Len(t, summary.Counts, 6)
	assert.Equal(t, 0, summary.Counts[models.ReactionLike])
	assert.Equal(t, 1, summary.Counts[models.ReactionUnicorn])
	assert.Equal(t, 1, summary.Total)
	assert.True(t, summary.Reacted)
	assert.Equal(t, models.ReactionUnicorn, summary.MyReaction)

	anon, err := f.svc.Reactions(ctx, post.ID, 0)
	require.NoError(t, err)
	assert.False(t, anon.Reacted)
	assert.Equal(t, 1, anon.Total)

	_, err = f.svc.React(ctx, post.ID, f.bob.ID, "thumbs_down")
	assertAppError(t, err, models.CodeValidation)
	_, err = f.svc.React(ctx, 9999, f.bob.ID, "like")
	assertAppError(t, err, models.CodeNotFound)

	assert.Equal(t, []string{notifications.EventReaction, notifications.EventReaction}, f.events.types())
}

func TestPostService_ToggleFavorite(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, f.alice, "Bookmark me", true)

	res, err := f.svc.ToggleFavorite(ctx, post.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, res.Favorited)
	assert.Equal(t, int64(1), res.FavoritesCount)

	res, err = f.svc.ToggleFavorite(ctx, post.ID, f.bob.ID)
	require.NoError(t, err)
	assert.False(t, res.Favorited)
	assert.Equal(t, int64(0), res.FavoritesCount)

	_, err = f.svc.ToggleFavorite(ctx, 9999, f.bob.ID)
	assertAppError(t, err, models.CodeNotFound)
}

func TestPostService_CommentsAndLikes(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, f.alice, "Discuss", true)

	comment, err := f.svc.AddComment(ctx, post.ID, f.bob.ID, "  nice post  ")
	require.NoError(t, err)
	assert.Equal(t, "nice post", comment.Content)
	require.NotNil(t, comment.Author)
	assert.Equal(t, "bob", comment.Author.Username)

	_, err = f.svc.AddComment(ctx, post.ID, f.bob.ID, "")
	assertAppError(t, err, models.CodeValidation)
	_, err = f.svc.AddComment(ctx, 9999, f.bob.ID, "hello")
	assertAppError(t, err, models.CodeNotFound)

	liked, err := f.svc.ToggleCommentLike(ctx, comment.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, CommentLikeResult{Liked: true, LikesCount: 1}, *liked)
	liked, err = f.svc.ToggleCommentLike(ctx, comment.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, CommentLikeResult{Liked: false, LikesCount: 0}, *liked)

	_, err = f.svc.ToggleCommentLike(ctx, 9999, f.alice.ID)
	assertAppError(t, err, models.CodeNotFound)

	view, err := f.svc.GetPost(ctx, post.ID, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, view.Comments, 1)
	assert.Equal(t, 1, view.CommentsCount)

	assert.Equal(t, []string{
		notifications.EventComment,
		notifications.EventCommentLike,
		notifications.EventCommentLike,
	}, f.events.types())
}

func TestPostService_ListPosts(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()

	goPost := f.create(t, f.alice, "Go generics", true, "go")
	rustPost := f.create(t, f.bob, "Rust traits", true, "rust")
	webPost := f.create(t, f.alice, "HTML forms", true, "web")
	draft := f.create(t, f.alice, "Unfinished go draft", false, "go")

	for _, u := range []*models.User{f.alice, f.bob} {
		_, err := f.svc.React(ctx, rustPost.ID, u.ID, "fire")
		require.NoError(t, err)
	}
	_, err := f.svc.React(ctx, goPost.ID, f.bob.ID, "like")
	require.NoError(t, err)

	ids := func(views []models.PostView) []uint {
		out := make([]uint, 0, len(views))
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	tests := []struct {
		name string
		in   ListPostsInput
		want []uint
	}{
		{"recent", ListPostsInput{}, []uint{webPost.ID, rustPost.ID, goPost.ID}},
		{"popular", ListPostsInput{Sort: feed.SortPopular}, []uint{rustPost.ID, goPost.ID, webPost.ID}},
		{"search", ListPostsInput{Query: "#go"}, []uint{goPost.ID}},
		{"tag", ListPostsInput{Tag: "#Rust"}, []uint{rustPost.ID}},
		{"paged", ListPostsInput{Page: 2, Limit: 2}, []uint{goPost.ID}},
		{"popular paged", ListPostsInput{Sort: feed.SortPopular, Page: 2, Limit: 1}, []uint{goPost.ID}},
		{"own drafts", ListPostsInput{ViewerID: f.alice.ID, AuthorID: f.alice.ID}, []uint{draft.ID, webPost.ID, goPost.ID}},
		{"others drafts hidden", ListPostsInput{ViewerID: f.bob.ID, AuthorID: f.alice.ID}, []uint{webPost.ID, goPost.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := f.svc.ListPosts(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(views))
		})
	}
}

func TestPostService_PublishFailureDoesNotFailMutation(t *testing.T) {
	f := newPostFixture(t)
	f.svc.events = failingPublisher{}
	post := f.create(t, f.alice, "Quiet", true)

	_, err := f.svc.React(context.Background(), post.ID, f.bob.ID, "heart")
	assert.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) PublishPostEvent(context.Context, notifications.Event) error {
	return errors.New("redis down")
}
