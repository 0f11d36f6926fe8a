package models

import (
	"time"

	"devpress/internal/validation"
)

// Post is an article with its tags, reactions, comments and favorites
// loaded as child rows.
type Post struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Content     string     `gorm:"type:text" json:"content"`
	AuthorID    uint       `gorm:"not null;index" json:"authorId"`
	Author      *User      `gorm:"foreignKey:AuthorID" json:"-"`
	CoverImage  string     `json:"coverImage"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"publishedAt"`
	ReadCount   int64      `gorm:"not null;default:0" json:"readCount"`
	Tags        []PostTag  `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Reactions   []Reaction `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Comments    []Comment  `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Favorites   []Favorite `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PostTag is a normalized tag attached to a post.
type PostTag struct {
	PostID uint   `gorm:"primaryKey"`
	Tag    string `gorm:"primaryKey;size:30;index"`
}

// PostUpdate is the allow-list of fields a post update may touch. A nil
// field is left as is.
type PostUpdate struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Tags       *[]string `json:"tags"`
	CoverImage *string   `json:"coverImage"`
	Published  *bool     `json:"published"`
}

// TagNames returns the tag strings in stored order.
func (p *Post) TagNames() []string {
	names := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		names = append(names, t.Tag)
	}
	return names
}

// SetTags normalizes tags and replaces the post's tag set.
func (p *Post) SetTags(tags []string) {
	normalized := validation.NormalizeTags(tags)
	p.Tags = make([]PostTag, 0, len(normalized))
	for _, tag := range normalized {
		p.Tags = append(p.Tags, PostTag{PostID: p.ID, Tag: tag})
	}
}

// Publish marks the post published. PublishedAt is only ever set once.
func (p *Post) Publish(now time.Time) {
	p.Published = true
	if p.PublishedAt == nil {
		at := now
		p.PublishedAt = &at
	}
}

// ApplyUpdate copies the allow-listed fields of u onto the post and always
// moves UpdatedAt to now.
func (p *Post) ApplyUpdate(u PostUpdate, now time.Time) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Tags != nil {
		p.SetTags(*u.Tags)
	}
	if u.CoverImage != nil {
		p.CoverImage = *u.CoverImage
	}
	if u.Published != nil {
		if *u.Published {
			p.Publish(now)
		} else {
			p.Published = false
		}
	}
	p.UpdatedAt = now
}

// AddReaction records userID's reaction. An existing reaction from the same
// user has its type and timestamp replaced in place.
func (p *Post) AddReaction(userID uint, t ReactionType, now time.Time) {
	for i := range p.Reactions {
		if p.Reactions[i].UserID == userID {
			p.Reactions[i].Type = t
			p.Reactions[i].CreatedAt = now
			return
		}
	}
	p.Reactions = append(p.Reactions, Reaction{PostID: p.ID, UserID: userID, Type: t, CreatedAt: now})
}

// ReactionCounts tallies reactions per type with every type present.
func (p *Post) ReactionCounts() ReactionCounts {
	counts := NewReactionCounts()
	for _, r := range p.Reactions {
		if _, ok := counts[r.Type]; ok {
			counts[r.Type]++
		}
	}
	return counts
}

// HasUserReacted reports whether userID has any reaction on the post.
func (p *Post) HasUserReacted(userID uint) bool {
	return p.ReactionOf(userID) != ""
}

// ReactionOf returns userID's reaction type, or "" if none.
func (p *Post) ReactionOf(userID uint) ReactionType {
	for _, r := range p.Reactions {
		if r.UserID == userID {
			return r.Type
		}
	}
	return ""
}

// ToggleFavorite removes userID from the favorites and returns false, or adds
// it and returns true.
func (p *Post) ToggleFavorite(userID uint) bool {
	for i, f := range p.Favorites {
		if f.UserID == userID {
			p.Favorites = append(p.Favorites[:i], p.Favorites[i+1:]...)
			return false
		}
	}
	p.Favorites = append(p.Favorites, Favorite{PostID: p.ID, UserID: userID, CreatedAt: time.Now()})
	return true
}

// HasUserFavorited reports whether userID bookmarked the post.
func (p *Post) HasUserFavorited(userID uint) bool {
	for _, f := range p.Favorites {
		if f.UserID == userID {
			return true
		}
	}
	return false
}

// PostView is the API shape of a post as seen by one viewer.
type PostView struct {
	ID             uint           `json:"id"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Author         *PublicUser    `json:"author,omitempty"`
	CoverImage     string         `json:"coverImage"`
	Tags           []string       `json:"tags"`
	Published      bool           `json:"published"`
	PublishedAt    *time.Time     `json:"publishedAt"`
	ReadCount      int64          `json:"readCount"`
	ReactionCounts ReactionCounts `json:"reactionCounts"`
	Reactions      int            `json:"reactionsCount"`
	MyReaction     ReactionType   `json:"myReaction,omitempty"`
	Favorited      bool           `json:"favorited"`
	FavoritesCount int            `json:"favoritesCount"`
	CommentsCount  int            `json:"commentsCount"`
	Comments       []CommentView  `json:"comments,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ToView renders the post for viewerID (0 for anonymous). Comments are
// included only when withComments is set.
func (p *Post) ToView(viewerID uint, withComments bool) PostView {
	counts := p.ReactionCounts()
	view := PostView{
		ID:             p.ID,
		Title:          p.Title,
		Content:        p.Content,
		CoverImage:     p.CoverImage,
		Tags:           p.TagNames(),
		Published:      p.Published,
		PublishedAt:    p.PublishedAt,
		ReadCount:      p.ReadCount,
		ReactionCounts: counts,
		Reactions:      counts.Total(),
		FavoritesCount: len(p.Favorites),
		CommentsCount:  len(p.Comments),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.Author != nil {
		author := p.Author.ToPublicJSON()
		view.Author = &author
	}
	if viewerID != 0 {
		view.MyReaction = p.ReactionOf(viewerID)
		view.Favorited = p.HasUserFavorited(viewerID)
	}
	if withComments {
		view.Comments = make([]CommentView, 0, len(p.Comments))
		for i := range p.Comments {
			view.Comments = append(view.Comments, p.Comments[i].ToView(viewerID))
		}
	}
	return view
}
