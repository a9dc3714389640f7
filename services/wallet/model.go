package wallet

import (
	"time"

	"taskmarket/pkg/minio"
)

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

const MinDeposit = 100

type Deposit struct {
	ID             string        `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID         string        `gorm:"column:user_id;size:32;not null;index" json:"userId"`
	Amount         int64         `gorm:"column:amount;not null;check:chk_deposits_amount,amount > 0" json:"amount"`
	PaymentName    string        `gorm:"column:payment_name;size:255;not null" json:"paymentName"`
	PaymentReceipt *string       `gorm:"column:payment_receipt;size:512" json:"paymentReceipt,omitempty"`
	Status         DepositStatus `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"createdAt"`
	DecidedAt      *time.Time    `gorm:"column:decided_at" json:"decidedAt,omitempty"`
	User           *Requester    `gorm:"-" json:"user,omitempty"`
}

type Withdrawal struct {
	ID          string           `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID      string           `gorm:"column:user_id;size:32;not null;index" json:"userId"`
	Amount      int64            `gorm:"column:amount;not null;check:chk_withdrawals_amount,amount > 0" json:"amount"`
	Network     string           `gorm:"column:network;size:64;not null" json:"network"`
	PhoneNumber string           `gorm:"column:phone_number;size:11;not null" json:"phoneNumber"`
	Status      WithdrawalStatus `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`
	CreatedAt   time.Time        `gorm:"column:created_at" json:"createdAt"`
	CompletedAt *time.Time       `gorm:"column:completed_at" json:"completedAt,omitempty"`
	User        *Requester       `gorm:"-" json:"user,omitempty"`
}

// Requester identifies the user behind a request in the admin queues.
type Requester struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	ReferralCode string `json:"referralCode"`
}

type DepositInput struct {
	Amount      int64  `validate:"gte=100"`
	PaymentName string `validate:"required,max=255"`
	Receipt     *minio.Upload
}

type WithdrawalInput struct {
	Amount      int64  `validate:"gt=0"`
	Network     string `validate:"required,max=64"`
	PhoneNumber string `validate:"required,len=11,numeric"`
}
