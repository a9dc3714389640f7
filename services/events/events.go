// Package events declares the typed topics services publish on after a
// state change has been committed.
package events

import (
	"time"

	"taskmarket/pkg/eventbus"

	"go.uber.org/fx"
)

var Module = fx.Module("events", fx.Provide(NewBus))

const (
	SessionAuthenticated = "authenticated"
	SessionAnonymous     = "anonymous"
)

type SessionChanged struct {
	UserID string
	State  string
	At     time.Time
}

type DepositRequested struct {
	DepositID string
	UserID    string
	Amount    int64
}

type DepositDecided struct {
	DepositID string
	UserID    string
	Amount    int64
	Status    string
}

type WithdrawalRequested struct {
	WithdrawalID string
	UserID       string
	Amount       int64
}

type CompletionReviewed struct {
	CompletionID string
	TaskID       string
	UserID       string
	Status       string
	Amount       int64
}

type Bus struct {
	Sessions           *eventbus.Topic[SessionChanged]
	DepositRequests    *eventbus.Topic[DepositRequested]
	DepositDecisions   *eventbus.Topic[DepositDecided]
	WithdrawalRequests *eventbus.Topic[WithdrawalRequested]
	CompletionReviews  *eventbus.Topic[CompletionReviewed]
}

func NewBus() *Bus {
	return &Bus{
		Sessions:           eventbus.NewTopic[SessionChanged]("identity.session_changed"),
		DepositRequests:    eventbus.NewTopic[DepositRequested]("wallet.deposit_requested"),
		DepositDecisions:   eventbus.NewTopic[DepositDecided]("wallet.deposit_decided"),
		WithdrawalRequests: eventbus.NewTopic[WithdrawalRequested]("wallet.withdrawal_requested"),
		CompletionReviews:  eventbus.NewTopic[CompletionReviewed]("task.completion_reviewed"),
	}
}
