package models

import (
	"strings"
	"time"
)

// ReactionType is one of the fixed emotional responses a post accepts.
type ReactionType string

const (
	ReactionLike          ReactionType = "like"
	ReactionUnicorn       ReactionType = "unicorn"
	ReactionExplodingHead ReactionType = "exploding_head"
	ReactionFire          ReactionType = "fire"
	ReactionHeart         ReactionType = "heart"
	ReactionRocket        ReactionType = "rocket"
)

// ReactionTypes lists every supported reaction in display order.
var ReactionTypes = []ReactionType{
	ReactionLike,
	ReactionUnicorn,
	ReactionExplodingHead,
	ReactionFire,
	ReactionHeart,
	ReactionRocket,
}

// ParseReactionType validates raw against the supported set.
func ParseReactionType(raw string) (ReactionType, error) {
	t := ReactionType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ReactionTypes {
		if t == known {
			return t, nil
		}
	}
	return "", ErrInvalidReaction
}

// ReactionCounts always carries every ReactionType key.
type ReactionCounts map[ReactionType]int

// NewReactionCounts returns counts with all six keys at zero.
func NewReactionCounts() ReactionCounts {
	counts := make(ReactionCounts, len(ReactionTypes))
	for _, t := range ReactionTypes {
		counts[t] = 0
	}
	return counts
}

// Total sums all reaction counts.
func (rc ReactionCounts) Total() int {
	total := 0
	for _, n := range rc {
		total += n
	}
	return total
}

// Reaction is a user's single reaction on a post. The unique index keeps
// one row per (post, user).
type Reaction struct {
	ID        uint         `gorm:"primaryKey" json:"-"`
	PostID    uint         `gorm:"not null;uniqueIndex:idx_reactions_post_user" json:"-"`
	UserID    uint         `gorm:"not null;uniqueIndex:idx_reactions_post_user;index" json:"userId"`
	Type      ReactionType `gorm:"size:20;not null" json:"type"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Favorite bookmarks a post for a user.
type Favorite struct {
	PostID    uint      `gorm:"primaryKey" json:"postId"`
	UserID    uint      `gorm:"primaryKey;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
