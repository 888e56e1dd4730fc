package repository

import (
	"context"
	"time"

	"github.com/dlbhoang/shop-dunk/internal/domain"
)

// UserRepository exposes persistence for user records.
//
// Default lookups hide the password hash; the WithPassword variants and
// FindByEmailOrUsername load it explicitly for credential checks. All
// lookups skip deactivated accounts. Reset-token fields are written and
// cleared as one atomic field group.
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (domain.User, error)
	FindByIDWithPassword(ctx context.Context, userID int64) (domain.User, error)
	FindByEmailOrUsername(ctx context.Context, identifier string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByResetTokenHash(ctx context.Context, digest string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]domain.User, error)
}
