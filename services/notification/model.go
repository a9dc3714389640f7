package notification

import "time"

type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID    string    `gorm:"column:user_id;size:32;not null;index:idx_notifications_user_created,priority:1" json:"userId"`
	Message   string    `gorm:"column:message;not null" json:"message"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false" json:"isRead"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_notifications_user_created,priority:2" json:"createdAt"`
}
