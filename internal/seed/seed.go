// Package seed fills a database with demo users, posts and activity for
// development and tests.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"devpress/internal/database"
	"devpress/internal/middleware"
	"devpress/internal/models"

	"gorm.io/gorm"
)

// DefaultPassword is the password every generated account gets unless
// Options.Password says otherwise.
const DefaultPassword = "password123"

// Options configures the seeder.
type Options struct {
	NumUsers     int
	PostsPerUser int
	// MaxDays bounds how far back post timestamps are spread.
	MaxDays int
	// DraftRatio is the share of generated posts left unpublished.
	DraftRatio float64
	Password   string
	Clean      bool
	DryRun     bool
	// RandSeed makes runs reproducible. Zero picks a random seed.
	RandSeed int64
}

func (o Options) withDefaults() Options {
	if o.MaxDays <= 0 {
		o.MaxDays = 90
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	if o.DraftRatio < 0 || o.DraftRatio >= 1 {
		o.DraftRatio = 0.1
	}
	return o
}

// Summary counts what a seed run wrote.
type Summary struct {
	Users        int `json:"users" yaml:"users"`
	Posts        int `json:"posts" yaml:"posts"`
	Reactions    int `json:"reactions" yaml:"reactions"`
	Favorites    int `json:"favorites" yaml:"favorites"`
	Comments     int `json:"comments" yaml:"comments"`
	CommentLikes int `json:"commentLikes" yaml:"commentLikes"`
}

// Seed creates NumUsers accounts with PostsPerUser posts each, then lets the
// other users react to, favorite and comment on the published posts.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	opts = opts.withDefaults()
	middleware.Logger.Info("Starting database seeding",
		slog.Int("users", opts.NumUsers),
		slog.Int("posts_per_user", opts.PostsPerUser),
		slog.Bool("dry_run", opts.DryRun),
	)

	if opts.Clean && !opts.DryRun {
		if err := Clean(db); err != nil {
			return nil, err
		}
	}

	f := NewFactory(db, opts)
	sum := &Summary{}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		user, err := f.CreateUser(ctx)
		if err != nil {
			return sum, fmt.Errorf("failed to create users: %w", err)
		}
		users = append(users, user)
	}
	sum.Users = len(users)

	posts := make([]*models.Post, 0, opts.NumUsers*opts.PostsPerUser)
	for _, author := range users {
		for i := 0; i < opts.PostsPerUser; i++ {
			post, err := f.CreatePost(ctx, author)
			if err != nil {
				return sum, fmt.Errorf("failed to create posts: %w", err)
			}
			posts = append(posts, post)
		}
	}
	sum.Posts = len(posts)

	for _, post := range posts {
		if !post.Published {
			continue
		}
		if err := f.activity(ctx, post, users, sum); err != nil {
			return sum, err
		}
	}

	middleware.Logger.Info("Database seeding completed",
		slog.Int("users", sum.Users),
		slog.Int("posts", sum.Posts),
		slog.Int("reactions", sum.Reactions),
		slog.Int("comments", sum.Comments),
	)
	return sum, nil
}

// activity has every user other than the author randomly react to, favorite
// and comment on post.
func (f *Factory) activity(ctx context.Context, post *models.Post, users []*models.User, sum *Summary) error {
	var comments []*models.Comment
	for _, user := range users {
		if user.ID == post.AuthorID {
			continue
		}
		if f.chance(0.4) {
			if err := f.React(ctx, user, post, ""); err != nil {
				return fmt.Errorf("failed to react: %w", err)
			}
			sum.Reactions++
		}
		if f.chance(0.15) {
			if err := f.Favorite(ctx, user, post); err != nil {
				return fmt.Errorf("failed to favorite: %w", err)
			}
			sum.Favorites++
		}
		if f.chance(0.2) {
			comment, err := f.CreateComment(ctx, user, post)
			if err != nil {
				return fmt.Errorf("failed to comment: %w", err)
			}
			comments = append(comments, comment)
			sum.Comments++
		}
	}

	for _, comment := range comments {
		for _, user := range users {
			if user.ID == comment.UserID || !f.chance(0.25) {
				continue
			}
			if _, err := f.LikeComment(ctx, user, comment); err != nil {
				return fmt.Errorf("failed to like comment: %w", err)
			}
			sum.CommentLikes++
		}
	}
	return nil
}

// Clean deletes every row of the schema-managed tables, children first.
func Clean(db *gorm.DB) error {
	middleware.Logger.Info("Clearing existing data")
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(tables[i]).Error; err != nil {
			return fmt.Errorf("failed to clear data: %w", err)
		}
	}
	return nil
}
