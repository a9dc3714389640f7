package wallet

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/minio"
	"taskmarket/pkg/repository"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/referral"
	"taskmarket/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var receiptTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	deposits    repository.Repository[Deposit]
	withdrawals repository.Repository[Withdrawal]
	users       *user.Service
	ledger      *ledger.Service
	referral    *referral.Service
	notifier    *notification.Service
	store       minio.ObjectStore
	bus         *events.Bus
	now         func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Users    *user.Service
	Ledger   *ledger.Service
	Referral *referral.Service
	Notifier *notification.Service
	Store    minio.ObjectStore
	Bus      *events.Bus
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		deposits:    repository.ProvideStore[Deposit](p.DB),
		withdrawals: repository.ProvideStore[Withdrawal](p.DB),
		users:       p.Users,
		ledger:      p.Ledger,
		referral:    p.Referral,
		notifier:    p.Notifier,
		store:       p.Store,
		bus:         p.Bus,
		now:         time.Now,
	}
}

// RequestDeposit records a payment the user says they made. Nothing is
// credited until an admin approves it.
func (s *Service) RequestDeposit(ctx context.Context, userID string, in DepositInput) (*Deposit, error) {
	log := logger.FromContext(ctx).With(zap.String("user_id", userID))

	in.PaymentName = strings.TrimSpace(in.PaymentName)
	if err := validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.FromBinding(err)
	}
	if in.Receipt != nil && !receiptTypes[strings.ToLower(in.Receipt.ContentType)] {
		return nil, errutil.ValidationFailed("unsupported receipt type", nil, errutil.WithDetails(
			errutil.Detail{Field: "receipt", Message: "must be a JPEG, PNG, WebP image or a PDF"},
		))
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsBanned {
		return nil, errutil.Forbidden("account is banned", nil)
	}

	d := &Deposit{
		ID:          s.node.Generate().String(),
		UserID:      userID,
		Amount:      in.Amount,
		PaymentName: in.PaymentName,
		Status:      DepositPending,
	}

	if in.Receipt != nil {
		key := minio.ObjectKey(path.Join("receipts", userID), d.ID, in.Receipt.Filename)
		if err := s.store.Put(ctx, key, in.Receipt.Body, in.Receipt.Size, in.Receipt.ContentType); err != nil {
			log.Error("failed to store receipt", zap.Error(err))
			return nil, errutil.Internal("failed to store receipt", err)
		}
		d.PaymentReceipt = &key
	}

	if err := s.deposits.Create(ctx, d); err != nil {
		if d.PaymentReceipt != nil {
			minio.Discard(ctx, s.store, *d.PaymentReceipt)
		}
		log.Error("failed to create deposit", zap.Error(err))
		return nil, errutil.Internal("failed to create deposit", err)
	}

	s.bus.DepositRequests.Publish(ctx, events.DepositRequested{DepositID: d.ID, UserID: userID, Amount: d.Amount})
	log.Info("deposit requested", zap.String("deposit_id", d.ID), zap.Int64("amount", d.Amount))
	return d, nil
}

// RequestWithdrawal takes the amount out of the withdrawable balance right
// away and queues the payout.
func (s *Service) RequestWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (*Withdrawal, error) {
	log := logger.FromContext(ctx).With(zap.String("user_id", userID))

	in.Network = strings.TrimSpace(in.Network)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if err := validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.FromBinding(err)
	}

	w := &Withdrawal{
		ID:          s.node.Generate().String(),
		UserID:      userID,
		Amount:      in.Amount,
		Network:     in.Network,
		PhoneNumber: in.PhoneNumber,
		Status:      WithdrawalPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		u, err := s.users.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.IsBanned {
			return errutil.Forbidden("account is banned", nil)
		}
		if u.WithdrawableBalance < in.Amount {
			return errutil.InsufficientFunds("withdrawable balance is too low", nil)
		}

		if err := s.withdrawals.WithTrx(tx).Create(ctx, w); err != nil {
			return errutil.Internal("failed to create withdrawal", err)
		}
		_, err = s.ledger.Debit(ctx, tx, ledger.Withdrawal(userID, w.ID, w.Amount))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.bus.WithdrawalRequests.Publish(ctx, events.WithdrawalRequested{WithdrawalID: w.ID, UserID: userID, Amount: w.Amount})
	log.Info("withdrawal requested", zap.String("withdrawal_id", w.ID), zap.Int64("amount", w.Amount))
	return w, nil
}

// ApproveDeposit credits the deposit balance and pays any referral bonus, once.
func (s *Service) ApproveDeposit(ctx context.Context, id string) (*Deposit, error) {
	return s.decideDeposit(ctx, id, DepositApproved)
}

func (s *Service) RejectDeposit(ctx context.Context, id string) (*Deposit, error) {
	return s.decideDeposit(ctx, id, DepositRejected)
}

func (s *Service) decideDeposit(ctx context.Context, id string, decision DepositStatus) (*Deposit, error) {
	log := logger.FromContext(ctx).With(zap.String("deposit_id", id), zap.String("decision", string(decision)))

	var out *Deposit
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d, err := s.lockDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != DepositPending {
			return errutil.Conflict(fmt.Sprintf("deposit already %s", d.Status), nil)
		}

		decidedAt := s.now()
		res := tx.WithContext(ctx).Model(&Deposit{}).
			Where("id = ? AND status = ?", d.ID, DepositPending).
			Updates(map[string]any{"status": decision, "decided_at": decidedAt})
		if res.Error != nil {
			return errutil.Internal("failed to update deposit", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("deposit already decided", nil)
		}
		d.Status = decision
		d.DecidedAt = &decidedAt

		message := fmt.Sprintf("Your deposit of ₦%d was rejected.", d.Amount)
		if decision == DepositApproved {
			if _, err := s.ledger.Credit(ctx, tx, ledger.Deposit(d.UserID, d.ID, d.Amount)); err != nil {
				return err
			}
			depositor, err := s.users.Lock(ctx, tx, d.UserID)
			if err != nil {
				return err
			}
			if _, err := s.referral.ApplyDepositBonus(ctx, tx, depositor, d.Amount, d.ID); err != nil {
				return err
			}
			message = fmt.Sprintf("Your deposit of ₦%d was approved.", d.Amount)
		}

		if err := s.notifier.Notify(ctx, tx, d.UserID, message); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		log.Warn("deposit decision failed", zap.Error(err))
		return nil, err
	}

	s.bus.DepositDecisions.Publish(ctx, events.DepositDecided{
		DepositID: out.ID,
		UserID:    out.UserID,
		Amount:    out.Amount,
		Status:    string(out.Status),
	})
	log.Info("deposit decided")
	return out, nil
}

// CompleteWithdrawal marks a payout as sent. The balance was debited when the
// withdrawal was requested.
func (s *Service) CompleteWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	if id == "" {
		return nil, errutil.NotFound("withdrawal not found", nil)
	}

	var out *Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		w, err := s.withdrawals.WithTrx(tx).FindOne(ctx, &Withdrawal{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to lock withdrawal", err)
		}
		if w == nil {
			return errutil.NotFound("withdrawal not found", nil)
		}
		if w.Status != WithdrawalPending {
			return errutil.Conflict("withdrawal already completed", nil)
		}

		completedAt := s.now()
		res := tx.WithContext(ctx).Model(&Withdrawal{}).
			Where("id = ? AND status = ?", w.ID, WithdrawalPending).
			Updates(map[string]any{"status": WithdrawalCompleted, "completed_at": completedAt})
		if res.Error != nil {
			return errutil.Internal("failed to update withdrawal", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("withdrawal already completed", nil)
		}
		w.Status = WithdrawalCompleted
		w.CompletedAt = &completedAt

		if err := s.notifier.Notify(ctx, tx, w.UserID, fmt.Sprintf("Your withdrawal of ₦%d has been paid to %s.", w.Amount, w.PhoneNumber)); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("withdrawal completed", zap.String("withdrawal_id", id))
	return out, nil
}

func (s *Service) lockDeposit(ctx context.Context, tx *gorm.DB, id string) (*Deposit, error) {
	if id == "" {
		return nil, errutil.NotFound("deposit not found", nil)
	}
	d, err := s.deposits.WithTrx(tx).FindOne(ctx, &Deposit{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to lock deposit", err)
	}
	if d == nil {
		return nil, errutil.NotFound("deposit not found", nil)
	}
	return d, nil
}

// PendingDeposits is the admin queue, oldest first.
func (s *Service) PendingDeposits(ctx context.Context) ([]*Deposit, error) {
	rows, err := s.deposits.Find(ctx, &Deposit{Status: DepositPending},
		option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list deposits", err)
	}

	ids := make([]string, 0, len(rows))
	for _, d := range rows {
		ids = append(ids, d.UserID)
	}
	requesters, err := s.requesters(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range rows {
		d.User = requesters[d.UserID]
	}
	return rows, nil
}

// PendingWithdrawals is the admin payout queue, oldest first.
func (s *Service) PendingWithdrawals(ctx context.Context) ([]*Withdrawal, error) {
	rows, err := s.withdrawals.Find(ctx, &Withdrawal{Status: WithdrawalPending},
		option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list withdrawals", err)
	}

	ids := make([]string, 0, len(rows))
	for _, w := range rows {
		ids = append(ids, w.UserID)
	}
	requesters, err := s.requesters(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, w := range rows {
		w.User = requesters[w.UserID]
	}
	return rows, nil
}

func (s *Service) requesters(ctx context.Context, ids []string) (map[string]*Requester, error) {
	users, err := s.users.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Requester, len(users))
	for id, u := range users {
		out[id] = &Requester{ID: u.ID, Email: u.Email, Username: u.Username, ReferralCode: u.ReferralCode}
	}
	return out, nil
}

func (s *Service) DepositsOf(ctx context.Context, userID string) ([]*Deposit, error) {
	rows, err := s.deposits.Find(ctx, &Deposit{UserID: userID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list deposits", err)
	}
	return rows, nil
}

func (s *Service) WithdrawalsOf(ctx context.Context, userID string) ([]*Withdrawal, error) {
	rows, err := s.withdrawals.Find(ctx, &Withdrawal{UserID: userID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list withdrawals", err)
	}
	return rows, nil
}

// PendingCounts reports the size of both admin queues.
func (s *Service) PendingCounts(ctx context.Context) (deposits, withdrawals int64, err error) {
	if deposits, err = s.deposits.Count(ctx, &Deposit{Status: DepositPending}); err != nil {
		return 0, 0, err
	}
	if withdrawals, err = s.withdrawals.Count(ctx, &Withdrawal{Status: WithdrawalPending}); err != nil {
		return 0, 0, err
	}
	return deposits, withdrawals, nil
}

// OpenReceipt streams a deposit receipt to its owner or an admin.
func (s *Service) OpenReceipt(ctx context.Context, depositID string, requester *identity.Principal) (io.ReadCloser, *minio.ObjectInfo, error) {
	if depositID == "" {
		return nil, nil, errutil.NotFound("deposit not found", nil)
	}
	d, err := s.deposits.FindOne(ctx, &Deposit{ID: depositID})
	if err != nil {
		return nil, nil, errutil.Internal("failed to query deposit", err)
	}
	if d == nil {
		return nil, nil, errutil.NotFound("deposit not found", nil)
	}
	if d.UserID != requester.UserID && !requester.IsAdmin() {
		return nil, nil, errutil.Forbidden("not allowed to view this receipt", nil)
	}
	if d.PaymentReceipt == nil {
		return nil, nil, errutil.NotFound("deposit has no receipt", nil)
	}

	body, info, err := s.store.Get(ctx, *d.PaymentReceipt)
	if err != nil {
		return nil, nil, errutil.Internal("failed to read receipt", err)
	}
	return body, info, nil
}
