package task

import "time"

type Task struct {
	ID             string    `gorm:"column:id;primaryKey;size:32" json:"id"`
	OwnerID        string    `gorm:"column:owner_id;size:32;not null;index" json:"ownerId"`
	Name           string    `gorm:"column:name;size:255;not null" json:"name"`
	Description    string    `gorm:"column:description;type:text;not null" json:"description"`
	Link           string    `gorm:"column:link;size:2048;not null" json:"link"`
	Price          int64     `gorm:"column:price;not null;check:chk_tasks_price,price >= 100" json:"price"`
	TotalSlots     int       `gorm:"column:total_slots;not null;check:chk_tasks_total_slots,total_slots BETWEEN 1 AND 100" json:"totalSlots"`
	RemainingSlots int       `gorm:"column:remaining_slots;not null;check:chk_tasks_remaining_slots,remaining_slots BETWEEN 0 AND total_slots" json:"remainingSlots"`
	IsCompleted    bool      `gorm:"column:is_completed;not null;default:false;index" json:"isCompleted"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// Cost is what the owner pays up front to fund every slot.
func (t *Task) Cost() int64 {
	return t.Price * int64(t.TotalSlots)
}

type CreateInput struct {
	Name        string `validate:"min=3,max=255"`
	Description string `validate:"min=10"`
	Link        string `validate:"required,http_url,max=2048"`
	TotalSlots  int    `validate:"gte=1,lte=100"`
	Price       int64  `validate:"gte=100"`
}
