package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dlbhoang/shop-dunk/internal/config"
	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/password"
	"github.com/dlbhoang/shop-dunk/internal/repository"
)

// EnsureAdmin seeds an admin account from config when one is configured
// and missing. With no ADMIN_EMAIL set it is a no-op.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		return nil
	}
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}

	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	admin := domain.User{
		ID:           node.Generate().Int64(),
		FullName:     "Administrator",
		Email:        email,
		PhoneNumber:  "0900000000",
		Username:     "admin",
		Role:         domain.RoleAdmin,
		PasswordHash: hashed,
		Active:       true,
	}

	created, err := users.Create(ctx, admin)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
