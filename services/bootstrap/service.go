package bootstrap

import (
	"context"
	"fmt"

	"taskmarket/pkg/config"
	"taskmarket/services/completion"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/task"
	"taskmarket/services/user"
	"taskmarket/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the API owns, in dependency order.
func Models() []any {
	return []any{
		&user.User{},
		&ledger.Transaction{},
		&notification.Notification{},
		&task.Task{},
		&completion.Completion{},
		&wallet.Deposit{},
		&wallet.Withdrawal{},
	}
}

type Service struct {
	db     *gorm.DB
	users  *user.Service
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Users  *user.Service
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		users:  p.Users,
		config: p.Config,
	}
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	zap.L().Info("[bootstrap] Schema migrated")
	return nil
}

// SeedAdmin makes sure the configured admin account exists. Without AUTH.ADMIN_EMAIL
// nothing is seeded and admins have to be promoted by hand.
func (s *Service) SeedAdmin(ctx context.Context) error {
	auth := s.config.Auth
	if auth.AdminEmail == "" {
		zap.L().Warn("[bootstrap] AUTH.ADMIN_EMAIL is empty. Skipping admin seed.")
		return nil
	}
	if auth.AdminPass == "" {
		return fmt.Errorf("AUTH.ADMIN_PASSWORD is required when AUTH.ADMIN_EMAIL is set")
	}

	admin, err := s.users.EnsureAdmin(ctx, auth.AdminEmail, auth.AdminPass)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	zap.L().Info("[bootstrap] Admin account ready", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	return nil
}
