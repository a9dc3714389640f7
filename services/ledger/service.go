package ledger

import (
	"context"
	"encoding/json"
	"time"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/db/pagination"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/repository"
	"taskmarket/services/user"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger repository.Repository[Transaction]
	users  repository.Repository[user.User]
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		ledger: repository.ProvideStore[Transaction](p.DB),
		users:  repository.ProvideStore[user.User](p.DB),
		now:    time.Now,
	}
}

// Credit adds e.Amount to the user's balance and records it, inside tx.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, e Entry) (*Transaction, error) {
	return s.post(ctx, tx, e, DirectionCredit)
}

// Debit takes e.Amount from the user's balance and records it, inside tx. It
// fails with InsufficientFunds rather than leave the balance negative.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, e Entry) (*Transaction, error) {
	return s.post(ctx, tx, e, DirectionDebit)
}

func (s *Service) post(ctx context.Context, tx *gorm.DB, e Entry, dir Direction) (*Transaction, error) {
	if tx == nil {
		var out *Transaction
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.post(ctx, tx, e, dir)
			return err
		})
		return out, err
	}

	log := logger.FromContext(ctx).With(
		zap.String("user_id", e.UserID),
		zap.String("type", string(e.Type)),
		zap.String("direction", string(dir)),
		zap.Int64("amount", e.Amount),
	)

	if e.Amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be greater than zero", nil,
			errutil.WithDetails(errutil.Detail{Field: "amount", Message: "must be greater than 0"}))
	}
	column, ok := e.Balance.column()
	if !ok || e.UserID == "" {
		return nil, errutil.Internal("malformed ledger entry", nil)
	}

	u, err := s.users.WithTrx(tx).FindOne(ctx, &user.User{ID: e.UserID}, option.WithLockingUpdate())
	if err != nil {
		log.Error("failed to lock user", zap.Error(err))
		return nil, errutil.Internal("failed to post transaction", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	q := tx.WithContext(ctx).Model(&user.User{}).Where("id = ?", u.ID)
	var res *gorm.DB
	if dir == DirectionDebit {
		res = q.Where(column+" >= ?", e.Amount).Update(column, gorm.Expr(column+" - ?", e.Amount))
	} else {
		res = q.Update(column, gorm.Expr(column+" + ?", e.Amount))
	}
	if res.Error != nil {
		log.Error("failed to update balance", zap.Error(res.Error))
		return nil, errutil.Internal("failed to post transaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InsufficientFunds("insufficient balance", nil)
	}

	last, err := s.ledger.WithTrx(tx).FindOne(ctx, &Transaction{UserID: u.ID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
	if err != nil {
		return nil, errutil.Internal("failed to post transaction", err)
	}
	previousHash := genesisHash
	if last != nil {
		previousHash = last.Hash
	}

	entry := &Transaction{
		ID:           s.node.Generate().String(),
		UserID:       u.ID,
		Type:         e.Type,
		Amount:       e.Amount,
		Balance:      e.Balance,
		Direction:    dir,
		ReferenceID:  e.ReferenceID,
		Description:  e.Description,
		PreviousHash: previousHash,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
	}
	if e.CounterpartyID != "" {
		entry.CounterpartyID = &e.CounterpartyID
	}
	if len(e.Metadata) > 0 {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, errutil.Internal("failed to encode metadata", err)
		}
		entry.Metadata = datatypes.JSON(meta)
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		log.Error("failed to insert transaction", zap.Error(err))
		return nil, errutil.Internal("failed to post transaction", err)
	}

	log.Debug("transaction posted", zap.String("transaction_id", entry.ID))
	return entry, nil
}

// List returns the user's transactions newest first.
func (s *Service) List(ctx context.Context, userID string, page pagination.Pagination) ([]*Transaction, *pagination.PageInfo, error) {
	rows, err := s.ledger.Find(ctx, &Transaction{UserID: userID}, option.ApplyPagination(page))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list transactions", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to list transactions", err)
	}

	data, info := pagination.Page(rows, page.Limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return data, info, nil
}

// BonusByCounterparty sums the referral bonuses userID earned per referred user.
func (s *Service) BonusByCounterparty(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []struct {
		CounterpartyID string
		Total          int64
	}
	err := s.db.WithContext(ctx).Model(&Transaction{}).
		Select("counterparty_id, SUM(amount) AS total").
		Where("user_id = ? AND type = ? AND counterparty_id IS NOT NULL", userID, TypeReferralBonus).
		Group("counterparty_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errutil.Internal("failed to sum referral bonuses", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.CounterpartyID] = r.Total
	}
	return out, nil
}

// Reconcile recomputes both balances from the log and walks the hash chain.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	u, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to load user", err)
	}
	if u == nil || userID == "" {
		return nil, errutil.NotFound("user not found", nil)
	}

	rows, err := s.ledger.Find(ctx, &Transaction{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
	}))
	if err != nil {
		return nil, errutil.Internal("failed to load transactions", err)
	}

	r := &Reconciliation{
		UserID:              u.ID,
		DepositBalance:      u.DepositBalance,
		WithdrawableBalance: u.WithdrawableBalance,
		Entries:             len(rows),
		ChainIntact:         true,
	}

	previous := genesisHash
	for _, t := range rows {
		amount := t.Amount
		if t.Direction == DirectionDebit {
			amount = -amount
		}
		switch t.Balance {
		case BalanceDeposit:
			r.DepositFromLog += amount
		case BalanceWithdrawable:
			r.WithdrawableFromLog += amount
		}

		if t.PreviousHash != previous || t.GenerateHash() != t.Hash {
			r.ChainIntact = false
		}
		previous = t.Hash
	}

	if !r.Balanced() || !r.ChainIntact {
		logger.FromContext(ctx).Warn("ledger out of balance",
			zap.String("user_id", u.ID),
			zap.Bool("chain_intact", r.ChainIntact),
			zap.Int64("deposit", r.DepositBalance),
			zap.Int64("deposit_from_log", r.DepositFromLog),
			zap.Int64("withdrawable", r.WithdrawableBalance),
			zap.Int64("withdrawable_from_log", r.WithdrawableFromLog),
		)
	}
	return r, nil
}
