package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/rediskey"
	"taskmarket/services/events"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/task"
	"taskmarket/services/user"
	"taskmarket/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const statsTTL = 30 * time.Second

type Stats struct {
	UserCount          int64 `json:"userCount"`
	ActiveTaskCount    int64 `json:"activeTaskCount"`
	PendingDeposits    int64 `json:"pendingDeposits"`
	PendingWithdrawals int64 `json:"pendingWithdrawals"`
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	users    *user.Service
	tasks    *task.Service
	wallet   *wallet.Service
	ledger   *ledger.Service
	notifier *notification.Service
	rdb      *redis.Client
	group    singleflight.Group
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Users    *user.Service
	Tasks    *task.Service
	Wallet   *wallet.Service
	Ledger   *ledger.Service
	Notifier *notification.Service
	Redis    *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		users:    p.Users,
		tasks:    p.Tasks,
		wallet:   p.Wallet,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		rdb:      p.Redis,
	}
}

// Stats serves the dashboard counters from Redis when fresh, otherwise computes
// them once for all concurrent callers.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if cached, ok := s.cachedStats(ctx); ok {
		return cached, nil
	}

	// Shared by every waiting caller, so it must outlive whichever one started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(rediskey.AdminStats, func() (any, error) {
		st, err := s.computeStats(shared)
		if err != nil {
			return nil, err
		}
		s.storeStats(shared, st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stats), nil
}

func (s *Service) computeStats(ctx context.Context) (*Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.UserCount, err = s.users.Count(ctx); err != nil {
		return nil, errutil.Internal("failed to count users", err)
	}
	if st.ActiveTaskCount, err = s.tasks.CountActive(ctx); err != nil {
		return nil, errutil.Internal("failed to count tasks", err)
	}
	if st.PendingDeposits, st.PendingWithdrawals, err = s.wallet.PendingCounts(ctx); err != nil {
		return nil, errutil.Internal("failed to count pending requests", err)
	}
	return &st, nil
}

func (s *Service) cachedStats(ctx context.Context) (*Stats, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, rediskey.AdminStats).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn("stats cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var st Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (s *Service) storeStats(ctx context.Context, st *Stats) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, rediskey.AdminStats, raw, statsTTL).Err(); err != nil {
		logger.FromContext(ctx).Warn("stats cache write failed", zap.Error(err))
	}
}

// InvalidateStats drops the cached counters.
func (s *Service) InvalidateStats(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, rediskey.AdminStats).Err(); err != nil {
		logger.FromContext(ctx).Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) PendingDeposits(ctx context.Context) ([]*wallet.Deposit, error) {
	return s.wallet.PendingDeposits(ctx)
}

func (s *Service) PendingWithdrawals(ctx context.Context) ([]*wallet.Withdrawal, error) {
	return s.wallet.PendingWithdrawals(ctx)
}

func (s *Service) ApproveDeposit(ctx context.Context, id string) (*wallet.Deposit, error) {
	return s.wallet.ApproveDeposit(ctx, id)
}

func (s *Service) RejectDeposit(ctx context.Context, id string) (*wallet.Deposit, error) {
	return s.wallet.RejectDeposit(ctx, id)
}

func (s *Service) CompleteWithdrawal(ctx context.Context, id string) (*wallet.Withdrawal, error) {
	w, err := s.wallet.CompleteWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	s.InvalidateStats(ctx)
	return w, nil
}

// GetUser looks a user up by id or referral code.
func (s *Service) GetUser(ctx context.Context, key string) (*user.User, error) {
	return s.users.Find(ctx, key)
}

func (s *Service) Ban(ctx context.Context, id string) (*user.User, error) {
	return s.users.SetBanned(ctx, id, true)
}

func (s *Service) Unban(ctx context.Context, id string) (*user.User, error) {
	return s.users.SetBanned(ctx, id, false)
}

// AddBalance credits a user's deposit or withdrawable balance through the
// ledger and tells them about it.
func (s *Service) AddBalance(ctx context.Context, adminID, userID string, amount int64, kind ledger.Type) (*user.User, error) {
	log := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("admin_id", adminID))

	if amount <= 0 {
		return nil, errutil.ValidationFailed("invalid amount", nil, errutil.WithDetails(
			errutil.Detail{Field: "amount", Message: "must be greater than 0"},
		))
	}
	entry, ok := ledger.Adjustment(userID, adminID, amount, kind)
	if !ok {
		return nil, errutil.ValidationFailed("invalid balance type", nil, errutil.WithDetails(
			errutil.Detail{Field: "type", Message: "must be one of [deposit withdrawal]"},
		))
	}
	entry.ReferenceID = s.node.Generate().String()

	var out *user.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.users.Lock(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := s.ledger.Credit(ctx, tx, entry); err != nil {
			return err
		}

		balance := "deposit"
		if kind == ledger.TypeWithdrawal {
			balance = "withdrawable"
		}
		if err := s.notifier.Notify(ctx, tx, userID, fmt.Sprintf("An admin added ₦%d to your %s balance.", amount, balance)); err != nil {
			return err
		}

		u, err := s.users.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("balance adjusted", zap.String("type", string(kind)), zap.Int64("amount", amount))
	return out, nil
}

func (s *Service) onDepositRequested(ctx context.Context, _ events.DepositRequested) error {
	s.InvalidateStats(ctx)
	return nil
}

func (s *Service) onDepositDecided(ctx context.Context, _ events.DepositDecided) error {
	s.InvalidateStats(ctx)
	return nil
}

func (s *Service) onWithdrawalRequested(ctx context.Context, _ events.WithdrawalRequested) error {
	s.InvalidateStats(ctx)
	return nil
}

func subscribe(bus *events.Bus, s *Service) {
	bus.DepositRequests.Subscribe(s.onDepositRequested)
	bus.DepositDecisions.Subscribe(s.onDepositDecided)
	bus.WithdrawalRequests.Subscribe(s.onWithdrawalRequested)
}
