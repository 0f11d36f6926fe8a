package repository

import (
	"context"
	"time"

	"devpress/internal/models"
	"devpress/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFilter narrows a post listing. Zero values mean "no filter".
type ListFilter struct {
	Tag           string
	AuthorID      uint
	PublishedOnly bool
	Limit         int
	Offset        int
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	IncrementReadCount(ctx context.Context, id uint) error
	UpsertReaction(ctx context.Context, postID, userID uint, t models.ReactionType) error
	ReactionCounts(ctx context.Context, postID uint) (models.ReactionCounts, error)
	UserReaction(ctx context.Context, postID, userID uint) (models.ReactionType, error)
	ToggleFavorite(ctx context.Context, postID, userID uint) (bool, error)
	HasUserFavorited(ctx context.Context, postID, userID uint) (bool, error)
	FavoritesCount(ctx context.Context, postID uint) (int64, error)
	Exists(ctx context.Context, id uint) (bool, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("insert", "posts")()
	return translate(r.db.WithContext(ctx).Create(post).Error)
}

// GetByID loads the post with every child collection the detail view renders.
func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("select", "posts")()
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tag ASC") }).
		Preload("Reactions").
		Preload("Favorites").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Comments.User").
		Preload("Comments.Likes").
		First(&post, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &post, nil
}

// List returns posts newest first. Comments are loaded as bare ids so the
// feed can show counts without the bodies.
func (r *postRepository) List(ctx context.Context, filter ListFilter) ([]*models.Post, error) {
	defer observability.TrackQuery("select", "posts")()
	q := r.db.WithContext(ctx).Model(&models.Post{}).
		Preload("Author").
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tag ASC") }).
		Preload("Reactions").
		Preload("Favorites").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Select("id", "post_id") })

	if filter.Tag != "" {
		q = q.Where("posts.id IN (?)", r.db.Model(&models.PostTag{}).Select("post_id").Where("tag = ?", filter.Tag))
	}
	if filter.AuthorID != 0 {
		q = q.Where("posts.author_id = ?", filter.AuthorID)
	}
	if filter.PublishedOnly {
		q = q.Where("posts.published = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var posts []*models.Post
	if err := q.Order("posts.id DESC").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// Update writes the allow-listed columns and replaces the tag set in one
// transaction.
func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("update", "posts")()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{ID: post.ID}).
			Select("title", "content", "cover_image", "published", "published_at", "updated_at").
			Updates(map[string]interface{}{
				"title":        post.Title,
				"content":      post.Content,
				"cover_image":  post.CoverImage,
				"published":    post.Published,
				"published_at": post.PublishedAt,
				"updated_at":   post.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostTag{}).Error; err != nil {
			return err
		}
		if len(post.Tags) == 0 {
			return nil
		}
		for i := range post.Tags {
			post.Tags[i].PostID = post.ID
		}
		return tx.Create(&post.Tags).Error
	})
}

// Delete removes the post and its children. Children are deleted explicitly
// so the result does not depend on the driver enforcing cascades.
func (r *postRepository) Delete(ctx context.Context, id uint) error {
	defer observability.TrackQuery("delete", "posts")()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commentIDs := tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", id)
		if err := tx.Where("comment_id IN (?)", commentIDs).Delete(&models.CommentLike{}).Error; err != nil {
			return err
		}
		for _, child := range []interface{}{&models.Comment{}, &models.Reaction{}, &models.Favorite{}, &models.PostTag{}} {
			if err := tx.Where("post_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Post{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *postRepository) IncrementReadCount(ctx context.Context, id uint) error {
	defer observability.TrackQuery("update", "posts")()
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn("read_count", gorm.Expr("read_count + ?", 1)).Error
}

// UpsertReaction stores userID's reaction, replacing the type and timestamp
// of any earlier one. Concurrent calls converge on a single row.
func (r *postRepository) UpsertReaction(ctx context.Context, postID, userID uint, t models.ReactionType) error {
	defer observability.TrackQuery("upsert", "reactions")()
	reaction := models.Reaction{PostID: postID, UserID: userID, Type: t, CreatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "created_at"}),
	}).Create(&reaction).Error
}

type reactionCountRow struct {
	Type  models.ReactionType
	Count int
}

// ReactionCounts returns per-type totals with all six types present.
func (r *postRepository) ReactionCounts(ctx context.Context, postID uint) (models.ReactionCounts, error) {
	defer observability.TrackQuery("select", "reactions")()
	var rows []reactionCountRow
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Select("type, COUNT(*) AS count").
		Where("post_id = ?", postID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := models.NewReactionCounts()
	for _, row := range rows {
		if _, ok := counts[row.Type]; ok {
			counts[row.Type] = row.Count
		}
	}
	return counts, nil
}

// UserReaction returns userID's reaction type on the post, or "" if none.
func (r *postRepository) UserReaction(ctx context.Context, postID, userID uint) (models.ReactionType, error) {
	defer observability.TrackQuery("select", "reactions")()
	var reaction models.Reaction
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Limit(1).
		Find(&reaction).Error
	if err != nil {
		return "", err
	}
	return reaction.Type, nil
}

// ToggleFavorite deletes the favorite if present, otherwise inserts it. It
// reports whether the post is now favorited. Two concurrent toggles from the
// same user can both see "absent"; the loser's insert is a no-op on the
// primary key and is reported as favorited.
func (r *postRepository) ToggleFavorite(ctx context.Context, postID, userID uint) (bool, error) {
	defer observability.TrackQuery("toggle", "favorites")()
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		fav := models.Favorite{PostID: postID, UserID: userID, CreatedAt: time.Now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error; err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return added, nil
}

func (r *postRepository) HasUserFavorited(ctx context.Context, postID, userID uint) (bool, error) {
	defer observability.TrackQuery("count", "favorites")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Favorite{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *postRepository) FavoritesCount(ctx context.Context, postID uint) (int64, error) {
	defer observability.TrackQuery("count", "favorites")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Favorite{}).Where("post_id = ?", postID).Count(&count).Error
	return count, err
}

// Exists reports whether a post with id is stored.
func (r *postRepository) Exists(ctx context.Context, id uint) (bool, error) {
	defer observability.TrackQuery("count", "posts")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
