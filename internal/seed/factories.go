package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"devpress/internal/middleware"
	"devpress/internal/models"
	"devpress/internal/repository"
	"devpress/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

var tagPool = []string{
	"go", "web", "devops", "linux", "databases", "redis", "postgres", "testing",
	"career", "opensource", "security", "cloud", "frontend", "backend", "tutorial",
}

// Factory builds domain rows with fake content and persists them through the
// repositories, so seeded data goes through the same write paths as the API.
type Factory struct {
	users    repository.UserRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	opts     Options
	faker    *gofakeit.Faker
	now      func() time.Time
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a Factory bound to db. db may be nil in DryRun mode.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	opts = opts.withDefaults()
	f := &Factory{
		opts:   opts,
		faker:  gofakeit.New(opts.RandSeed),
		now:    time.Now,
		nextID: 1000,
	}
	if db != nil {
		f.users = repository.NewUserRepository(db)
		f.posts = repository.NewPostRepository(db)
		f.comments = repository.NewCommentRepository(db)
	}
	return f
}

// Username returns a fake lowercase username with a numeric suffix. It
// always passes ValidateUsername.
func (f *Factory) Username() string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, f.faker.FirstName()+f.faker.LastName())
	if len(base) < validation.MinUsernameLength {
		base = "dev" + base
	}

	suffix := fmt.Sprintf("%d", f.faker.Number(100, 9999))
	if room := validation.MaxUsernameLength - len(suffix); len(base) > room {
		base = base[:room]
	}
	return base + suffix
}

// CreateUser builds and persists a local account with the configured
// password. Overrides run before the row is written.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	username := f.Username()
	email := fmt.Sprintf("%s@%s", username, f.faker.DomainName())
	user := &models.User{
		Username:       username,
		Email:          &email,
		DisplayName:    f.faker.Name(),
		ProfilePicture: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		IsActive:       true,
	}
	if err := user.SetPassword(f.opts.Password); err != nil {
		return nil, err
	}

	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		middleware.Logger.Debug("[dry-run] CreateUser", slog.String("username", user.Username))
		return user, nil
	}

	if err := f.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return user, nil
}

// BuildPost constructs a post for author without persisting it. CreatedAt is
// spread over the last MaxDays days and most posts come out published.
func (f *Factory) BuildPost(author *models.User, overrides ...func(*models.Post)) *models.Post {
	title := strings.TrimSuffix(f.faker.Sentence(f.faker.Number(3, 8)), ".")
	if len(title) > validation.MaxTitleLength {
		title = title[:validation.MaxTitleLength]
	}

	back := time.Duration(f.faker.Number(0, f.opts.MaxDays*24*60)) * time.Minute
	created := f.now().Add(-back)

	post := &models.Post{
		Title:      title,
		Content:    f.markdown(),
		AuthorID:   author.ID,
		Published:  f.faker.Float64Range(0, 1) >= f.opts.DraftRatio,
		CoverImage: fmt.Sprintf("https://picsum.photos/seed/%s/1000/420", f.faker.UUID()),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if post.Published {
		post.PublishedAt = &created
	}
	post.SetTags(f.tags())

	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePost builds and persists a post for author.
func (f *Factory) CreatePost(ctx context.Context, author *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := f.BuildPost(author, overrides...)

	if f.opts.DryRun {
		f.nextID++
		post.ID = f.nextID
		middleware.Logger.Debug("[dry-run] CreatePost",
			slog.Uint64("author_id", uint64(post.AuthorID)),
			slog.String("title", post.Title),
		)
		return post, nil
	}

	if err := f.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post %q: %w", post.Title, err)
	}
	return post, nil
}

// React records user's reaction on post. An empty t picks one at random.
func (f *Factory) React(ctx context.Context, user *models.User, post *models.Post, t models.ReactionType) error {
	if t == "" {
		t = models.ReactionTypes[f.faker.Number(0, len(models.ReactionTypes)-1)]
	}
	if f.opts.DryRun {
		return nil
	}
	return f.posts.UpsertReaction(ctx, post.ID, user.ID, t)
}

// Favorite makes sure user has favorited post.
func (f *Factory) Favorite(ctx context.Context, user *models.User, post *models.Post) error {
	if f.opts.DryRun {
		return nil
	}
	favorited, err := f.posts.HasUserFavorited(ctx, post.ID, user.ID)
	if err != nil || favorited {
		return err
	}
	_, err = f.posts.ToggleFavorite(ctx, post.ID, user.ID)
	return err
}

// CreateComment builds and persists a comment by user on post.
func (f *Factory) CreateComment(ctx context.Context, user *models.User, post *models.Post, overrides ...func(*models.Comment)) (*models.Comment, error) {
	comment := &models.Comment{
		PostID:  post.ID,
		UserID:  user.ID,
		Content: f.faker.Sentence(f.faker.Number(4, 16)),
	}
	for _, override := range overrides {
		override(comment)
	}

	if f.opts.DryRun {
		f.nextID++
		comment.ID = f.nextID
		return comment, nil
	}

	if err := f.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment on post %d: %w", post.ID, err)
	}
	return comment, nil
}

// LikeComment toggles user's like on comment and returns whether it is now
// liked.
func (f *Factory) LikeComment(ctx context.Context, user *models.User, comment *models.Comment) (bool, error) {
	if f.opts.DryRun {
		return true, nil
	}
	liked, _, err := f.comments.ToggleLike(ctx, comment.ID, user.ID)
	return liked, err
}

// chance reports true with probability p.
func (f *Factory) chance(p float64) bool {
	return f.faker.Float64Range(0, 1) < p
}

func (f *Factory) tags() []string {
	n := f.faker.Number(0, 3)
	picked := make([]string, 0, n)
	for _, i := range f.faker.Rand.Perm(len(tagPool))[:n] {
		picked = append(picked, tagPool[i])
	}
	return picked
}

func (f *Factory) markdown() string {
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(strings.TrimSuffix(f.faker.Sentence(4), "."))
	sb.WriteString("\n\n")
	sb.WriteString(f.faker.Paragraph(f.faker.Number(1, 3), 4, 12, "\n\n"))
	if f.chance(0.3) {
		sb.WriteString("\n\n```go\nfmt.Println(\"")
		sb.WriteString(f.faker.HackerPhrase())
		sb.WriteString("\")\n```")
	}
	return sb.String()
}
