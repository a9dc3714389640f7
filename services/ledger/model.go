package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeDeposit       Type = "deposit"
	TypeWithdrawal    Type = "withdrawal"
	TypeTaskCredit    Type = "task_credit"
	TypeTaskDebit     Type = "task_debit"
	TypeReferralBonus Type = "referral_bonus"
)

// Balance names one of the two wallet balances a transaction moves.
type Balance string

const (
	BalanceDeposit      Balance = "deposit"
	BalanceWithdrawable Balance = "withdrawable"
)

func (b Balance) column() (string, bool) {
	switch b {
	case BalanceDeposit:
		return "deposit_balance", true
	case BalanceWithdrawable:
		return "withdrawable_balance", true
	default:
		return "", false
	}
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is one append-only row of a user's wallet history. Rows of a
// user are hash-chained in creation order.
type Transaction struct {
	ID             string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID         string         `gorm:"column:user_id;size:32;not null;index:idx_transactions_user_created,priority:1" json:"userId"`
	Type           Type           `gorm:"column:type;size:32;not null" json:"type"`
	Amount         int64          `gorm:"column:amount;not null;check:chk_transactions_amount,amount > 0" json:"amount"`
	Balance        Balance        `gorm:"column:balance;size:16;not null" json:"balance"`
	Direction      Direction      `gorm:"column:direction;size:8;not null" json:"direction"`
	ReferenceID    string         `gorm:"column:reference_id;size:32;index" json:"referenceId"`
	CounterpartyID *string        `gorm:"column:counterparty_id;size:32;index" json:"-"`
	Description    string         `gorm:"column:description" json:"description"`
	Metadata       datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash   string         `gorm:"column:previous_hash;size:64" json:"-"`
	Hash           string         `gorm:"column:hash;size:64" json:"-"`
	CreatedAt      time.Time      `gorm:"column:created_at;index:idx_transactions_user_created,priority:2" json:"createdAt"`
}

const genesisHash = "GENESIS"

func (m *Transaction) HashFields() map[string]string {
	counterparty := ""
	if m.CounterpartyID != nil {
		counterparty = *m.CounterpartyID
	}
	return map[string]string{
		"id":              m.ID,
		"user_id":         m.UserID,
		"type":            string(m.Type),
		"amount":          fmt.Sprintf("%d", m.Amount),
		"balance":         string(m.Balance),
		"direction":       string(m.Direction),
		"reference_id":    m.ReferenceID,
		"counterparty_id": counterparty,
		"description":     m.Description,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":   m.PreviousHash,
	}
}

func (m *Transaction) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Entry describes one balance movement to post.
type Entry struct {
	UserID         string
	Type           Type
	Balance        Balance
	Amount         int64
	ReferenceID    string
	CounterpartyID string
	Description    string
	Metadata       map[string]any
}

func TaskDebit(ownerID, taskID string, amount int64, taskName string) Entry {
	return Entry{
		UserID:      ownerID,
		Type:        TypeTaskDebit,
		Balance:     BalanceDeposit,
		Amount:      amount,
		ReferenceID: taskID,
		Description: fmt.Sprintf("Funded task %q", taskName),
	}
}

func TaskCredit(userID, completionID string, amount int64, taskName string) Entry {
	return Entry{
		UserID:      userID,
		Type:        TypeTaskCredit,
		Balance:     BalanceWithdrawable,
		Amount:      amount,
		ReferenceID: completionID,
		Description: fmt.Sprintf("Completed task %q", taskName),
	}
}

func Deposit(userID, depositID string, amount int64) Entry {
	return Entry{
		UserID:      userID,
		Type:        TypeDeposit,
		Balance:     BalanceDeposit,
		Amount:      amount,
		ReferenceID: depositID,
		Description: "Deposit approved",
	}
}

func Withdrawal(userID, withdrawalID string, amount int64) Entry {
	return Entry{
		UserID:      userID,
		Type:        TypeWithdrawal,
		Balance:     BalanceWithdrawable,
		Amount:      amount,
		ReferenceID: withdrawalID,
		Description: "Withdrawal requested",
	}
}

func ReferralBonus(referrerID, depositorID, depositID string, amount int64) Entry {
	return Entry{
		UserID:         referrerID,
		Type:           TypeReferralBonus,
		Balance:        BalanceWithdrawable,
		Amount:         amount,
		ReferenceID:    depositID,
		CounterpartyID: depositorID,
		Description:    "Referral bonus",
	}
}

// Adjustment is a manual admin credit. A deposit adjustment funds the deposit
// balance, a withdrawal adjustment the withdrawable one.
func Adjustment(userID, adminID string, amount int64, kind Type) (Entry, bool) {
	e := Entry{
		UserID:   userID,
		Type:     kind,
		Amount:   amount,
		Metadata: map[string]any{"adjusted_by": adminID},
	}
	switch kind {
	case TypeDeposit:
		e.Balance = BalanceDeposit
		e.Description = "Balance adjustment (deposit)"
	case TypeWithdrawal:
		e.Balance = BalanceWithdrawable
		e.Description = "Balance adjustment (withdrawable)"
	default:
		return Entry{}, false
	}
	return e, true
}

// Reconciliation compares the stored balances with what the log adds up to.
type Reconciliation struct {
	UserID              string `json:"userId"`
	DepositBalance      int64  `json:"depositBalance"`
	WithdrawableBalance int64  `json:"withdrawableBalance"`
	DepositFromLog      int64  `json:"depositFromLog"`
	WithdrawableFromLog int64  `json:"withdrawableFromLog"`
	Entries             int    `json:"entries"`
	ChainIntact         bool   `json:"chainIntact"`
}

func (r *Reconciliation) Balanced() bool {
	return r.DepositBalance == r.DepositFromLog && r.WithdrawableBalance == r.WithdrawableFromLog
}
