package user

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                  string     `gorm:"column:id;primaryKey;size:32" json:"id"`
	Email               string     `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	Username            string     `gorm:"column:username;size:64;not null" json:"username"`
	PasswordHash        string     `gorm:"column:password_hash" json:"-"`
	ExternalUID         *string    `gorm:"column:external_uid;size:128;uniqueIndex" json:"-"`
	Role                string     `gorm:"column:role;size:16;not null;default:user" json:"role"`
	ReferralCode        string     `gorm:"column:referral_code;size:16;not null;uniqueIndex" json:"referralCode"`
	ReferredBy          *string    `gorm:"column:referred_by;size:32;index" json:"referredBy,omitempty"`
	DepositBalance      int64      `gorm:"column:deposit_balance;not null;default:0;check:chk_users_deposit_balance,deposit_balance >= 0" json:"depositBalance"`
	WithdrawableBalance int64      `gorm:"column:withdrawable_balance;not null;default:0;check:chk_users_withdrawable_balance,withdrawable_balance >= 0" json:"withdrawableBalance"`
	IsBanned            bool       `gorm:"column:is_banned;not null;default:false" json:"isBanned"`
	LastSeenAt          *time.Time `gorm:"column:last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt           time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"column:updated_at" json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Summary is the public face of a user shown next to their submissions.
type Summary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
