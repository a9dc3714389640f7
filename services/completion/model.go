package completion

import (
	"time"

	"taskmarket/pkg/minio"
	"taskmarket/services/user"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Decision() bool {
	return s == StatusApproved || s == StatusRejected
}

type Completion struct {
	ID         string        `gorm:"column:id;primaryKey;size:32" json:"id"`
	TaskID     string        `gorm:"column:task_id;size:32;not null;uniqueIndex:idx_completions_task_user,priority:1" json:"taskId"`
	UserID     string        `gorm:"column:user_id;size:32;not null;uniqueIndex:idx_completions_task_user,priority:2;index" json:"userId"`
	TextProof  *string       `gorm:"column:text_proof;type:text" json:"textProof,omitempty"`
	ImageProof *string       `gorm:"column:image_proof;size:512" json:"imageProof,omitempty"`
	Status     Status        `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`
	CreatedAt  time.Time     `gorm:"column:created_at" json:"createdAt"`
	ReviewedAt *time.Time    `gorm:"column:reviewed_at" json:"reviewedAt,omitempty"`
	User       *user.Summary `gorm:"-" json:"user,omitempty"`
}

func (Completion) TableName() string {
	return "task_completions"
}

type ProofInput struct {
	Text  string
	Image *minio.Upload
}
