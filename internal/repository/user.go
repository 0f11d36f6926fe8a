package repository

import (
	"context"
	"strings"
	"time"

	"devpress/internal/models"
	"devpress/internal/observability"

	"gorm.io/gorm"
)

// Provider names a federated identity source.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// UserRepository defines user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error)
	GetByProviderID(ctx context.Context, provider Provider, providerID string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a GORM-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("insert", "users")()
	if user.Email != nil {
		lowered := strings.ToLower(strings.TrimSpace(*user.Email))
		user.Email = &lowered
	}
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	defer observability.TrackQuery("select", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	defer observability.TrackQuery("select", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByUsernameOrEmail resolves identifier as a username first and only
// then as an email, so a username always shadows another account's email.
func (r *userRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error) {
	user, err := r.GetByUsername(ctx, identifier)
	if err == nil || err != ErrNotFound {
		return user, err
	}

	defer observability.TrackQuery("select", "users")()
	var byEmail models.User
	email := strings.ToLower(strings.TrimSpace(identifier))
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&byEmail).Error; err != nil {
		return nil, translate(err)
	}
	return &byEmail, nil
}

func (r *userRepository) GetByProviderID(ctx context.Context, provider Provider, providerID string) (*models.User, error) {
	var column string
	switch provider {
	case ProviderGoogle:
		column = "google_id"
	case ProviderFacebook:
		column = "facebook_id"
	default:
		return nil, ErrNotFound
	}

	defer observability.TrackQuery("select", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).Where(column+" = ?", providerID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	defer observability.TrackQuery("count", "users")()
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	defer observability.TrackQuery("update", "users")()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("last_login", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
