package completion

import (
	"context"

	"taskmarket/services/task"

	"gorm.io/gorm"
)

type index struct {
	db *gorm.DB
}

// NewIndex answers which tasks a user has submitted to, for the task registry.
func NewIndex(db *gorm.DB) task.Submissions {
	return &index{db: db}
}

func (i *index) SubmittedTaskIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := i.db.WithContext(ctx).Model(&Completion{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Pluck("task_id", &ids).Error
	return ids, err
}
