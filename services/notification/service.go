package notification

import (
	"context"
	"strings"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const feedLimit = 100

// AdminDirectory lists the users that receive operational notices.
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	notifications repository.Repository[Notification]
	admins        AdminDirectory
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Admins AdminDirectory `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		notifications: repository.ProvideStore[Notification](p.DB),
		admins:        p.Admins,
	}
}

// Notify appends a message to a user's feed inside tx, so the notice commits
// or rolls back with the change it describes. A nil tx writes directly.
func (s *Service) Notify(ctx context.Context, tx *gorm.DB, userID, message string) error {
	return s.NotifyAll(ctx, tx, []string{userID}, message)
}

func (s *Service) NotifyAll(ctx context.Context, tx *gorm.DB, userIDs []string, message string) error {
	message = strings.TrimSpace(message)
	if message == "" || len(userIDs) == 0 {
		return nil
	}

	rows := make([]*Notification, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, &Notification{
			ID:      s.node.Generate().String(),
			UserID:  id,
			Message: message,
		})
	}

	return s.notifications.WithTrx(tx).BatchCreate(ctx, rows)
}

// List returns the newest notifications of a user.
func (s *Service) List(ctx context.Context, userID string) ([]*Notification, error) {
	rows, err := s.notifications.Find(ctx, &Notification{UserID: userID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.WithLimit(feedLimit),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("failed to list notifications", err)
	}
	return rows, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.notifications.Count(ctx, &Notification{UserID: userID}, option.Where("is_read = ?", false))
	if err != nil {
		return 0, errutil.Internal("failed to count notifications", err)
	}
	return n, nil
}

// MarkAllRead flags every unread notification of the user and reports how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to mark notifications read", zap.String("user_id", userID), zap.Error(res.Error))
		return 0, errutil.Internal("failed to mark notifications read", res.Error)
	}
	return res.RowsAffected, nil
}

// NotifyAdmins writes message to every admin's feed.
func (s *Service) NotifyAdmins(ctx context.Context, message string) error {
	if s.admins == nil {
		return errutil.Internal("admin directory not configured", nil)
	}

	ids, err := s.admins.AdminIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		logger.FromContext(ctx).Warn("no admins to notify", zap.String("message", message))
		return nil
	}

	return s.NotifyAll(ctx, nil, ids, message)
}
