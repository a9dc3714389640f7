package user

import (
	"context"

	"taskmarket/services/notification"

	"gorm.io/gorm"
)

type directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) notification.AdminDirectory {
	return &directory{db: db}
}

func (d *directory) AdminIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&User{}).
		Where("role = ? AND is_banned = ?", RoleAdmin, false).
		Pluck("id", &ids).Error
	return ids, err
}
