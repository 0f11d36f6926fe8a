package models

import "time"

// Comment is a reply attached to a post.
type Comment struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	PostID     uint          `gorm:"not null;index" json:"postId"`
	UserID     uint          `gorm:"not null;index" json:"userId"`
	User       *User         `gorm:"foreignKey:UserID" json:"-"`
	Content    string        `gorm:"size:1000;not null" json:"content"`
	LikesCount int           `gorm:"not null;default:0" json:"likesCount"`
	Likes      []CommentLike `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// CommentLike records one user's like on a comment.
type CommentLike struct {
	CommentID uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

// ToggleLike adds or removes userID from the likers and keeps LikesCount in
// step. It returns true when the like was added.
func (c *Comment) ToggleLike(userID uint) bool {
	for i, like := range c.Likes {
		if like.UserID == userID {
			c.Likes = append(c.Likes[:i], c.Likes[i+1:]...)
			c.LikesCount = len(c.Likes)
			return false
		}
	}
	c.Likes = append(c.Likes, CommentLike{CommentID: c.ID, UserID: userID, CreatedAt: time.Now()})
	c.LikesCount = len(c.Likes)
	return true
}

// LikedBy reports whether userID likes the comment.
func (c *Comment) LikedBy(userID uint) bool {
	for _, like := range c.Likes {
		if like.UserID == userID {
			return true
		}
	}
	return false
}

// CommentView is the API shape of a comment.
type CommentView struct {
	ID         uint        `json:"id"`
	Content    string      `json:"content"`
	Author     *PublicUser `json:"author,omitempty"`
	LikesCount int         `json:"likesCount"`
	Liked      bool        `json:"liked"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ToView renders the comment for viewerID (0 for anonymous).
func (c *Comment) ToView(viewerID uint) CommentView {
	view := CommentView{
		ID:         c.ID,
		Content:    c.Content,
		LikesCount: c.LikesCount,
		Liked:      viewerID != 0 && c.LikedBy(viewerID),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.User != nil {
		author := c.User.ToPublicJSON()
		view.Author = &author
	}
	return view
}
