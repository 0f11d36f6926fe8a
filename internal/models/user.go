// Package models contains data structures for the application's domain models.
package models

import (
	"net/url"
	"time"

	"devpress/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PasswordCost is the bcrypt work factor. Tests lower it.
var PasswordCost = bcrypt.DefaultCost

// User represents an account that logs in with a local password, a
// federated identity, or both.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"size:30;uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"column:password_hash" json:"-"`
	// Federated ids are NULL when absent so the unique indexes stay sparse.
	GoogleID       *string    `gorm:"uniqueIndex" json:"-"`
	FacebookID     *string    `gorm:"uniqueIndex" json:"-"`
	Email          *string    `gorm:"uniqueIndex" json:"-"`
	DisplayName    string     `json:"displayName"`
	ProfilePicture string     `json:"profilePicture"`
	Avatar         string     `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"-"`
	LastLogin      *time.Time `json:"lastLogin"`
	IsActive       bool       `gorm:"not null;default:true" json:"isActive"`
}

// PublicUser is the externally visible projection of a User.
type PublicUser struct {
	ID             uint       `json:"id"`
	Username       string     `json:"username"`
	DisplayName    string     `json:"displayName"`
	ProfilePicture string     `json:"profilePicture"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLogin      *time.Time `json:"lastLogin"`
}

// SetPassword hashes plain with a fresh salt and stores the result.
func (u *User) SetPassword(plain string) error {
	if len(plain) < validation.MinPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), PasswordCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// IsCorrectPassword reports whether candidate matches the stored hash. A user
// without a password, or an empty candidate, never matches.
func (u *User) IsCorrectPassword(candidate string) bool {
	if u.PasswordHash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(candidate)) == nil
}

// HasPassword reports whether a local password is set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasFederatedID reports whether any external identity is linked.
func (u *User) HasFederatedID() bool {
	return (u.GoogleID != nil && *u.GoogleID != "") || (u.FacebookID != nil && *u.FacebookID != "")
}

// IsOAuthUser is true for any user with a linked federated identity.
func (u *User) IsOAuthUser() bool {
	return u.HasFederatedID()
}

// IsLocalUser is true for password-only accounts.
func (u *User) IsLocalUser() bool {
	return !u.HasFederatedID() && u.HasPassword()
}

// Picture returns the profile picture, falling back to the avatar field and
// then to a generated placeholder.
func (u *User) Picture() string {
	if u.ProfilePicture != "" {
		return u.ProfilePicture
	}
	if u.Avatar != "" {
		return u.Avatar
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(u.Username)
}

// ToPublicJSON strips credentials and federated ids.
func (u *User) ToPublicJSON() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		ProfilePicture: u.Picture(),
		CreatedAt:      u.CreatedAt,
		LastLogin:      u.LastLogin,
	}
}

// BeforeCreate rejects accounts that could never log in.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if !u.HasFederatedID() && !u.HasPassword() {
		return ErrPasswordRequired
	}
	return nil
}
