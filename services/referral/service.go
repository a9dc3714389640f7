package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskmarket/pkg/celengine"
	"taskmarket/pkg/config"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/featureflags"
	"taskmarket/pkg/logger"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/user"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ruleVars are the attributes a referral rule can test.
var ruleVars = map[string]*cel.Type{
	"amount":         cel.IntType,
	"bonus":          cel.IntType,
	"referrer_id":    cel.StringType,
	"depositor_id":   cel.StringType,
	"depositor_days": cel.IntType,
}

type Referral struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	ReferralCode string    `json:"referralCode"`
	JoinedAt     time.Time `json:"joinedAt"`
	Bonus        int64     `json:"bonus"`
}

type Service struct {
	users    *user.Service
	ledger   *ledger.Service
	notifier *notification.Service
	flags    featureflags.FeatureFlag
	rule     *celengine.Rule
	rate     decimal.Decimal
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	Config   *config.Config
	Users    *user.Service
	Ledger   *ledger.Service
	Notifier *notification.Service
	Flags    featureflags.FeatureFlag
}

func NewService(p ServiceParams) (*Service, error) {
	percent := strings.TrimSpace(p.Config.Referral.BonusPercent)
	if percent == "" {
		percent = "5"
	}
	pct, err := decimal.NewFromString(percent)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERRAL.BONUS_PERCENT %q: %w", percent, err)
	}
	if pct.IsNegative() {
		return nil, fmt.Errorf("REFERRAL.BONUS_PERCENT must not be negative, got %s", percent)
	}

	expr := strings.TrimSpace(p.Config.Referral.Rule)
	if expr == "" {
		expr = "true"
	}
	rule, err := celengine.Compile(expr, ruleVars)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERRAL.RULE: %w", err)
	}

	return &Service{
		users:    p.Users,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		flags:    p.Flags,
		rule:     rule,
		rate:     pct.Div(decimal.NewFromInt(100)),
		now:      time.Now,
	}, nil
}

// Bonus is rate of amount, floored to whole units.
func Bonus(amount int64, rate decimal.Decimal) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// ApplyDepositBonus credits the depositor's referrer inside tx, the approval's
// transaction. It returns nil when no bonus is due.
func (s *Service) ApplyDepositBonus(ctx context.Context, tx *gorm.DB, depositor *user.User, amount int64, depositID string) (*ledger.Transaction, error) {
	if depositor.ReferredBy == nil || *depositor.ReferredBy == "" {
		return nil, nil
	}
	referrerID := *depositor.ReferredBy
	log := logger.FromContext(ctx).With(zap.String("referrer_id", referrerID), zap.String("deposit_id", depositID))

	if !s.flags.Enabled(ctx, featureflags.ReferralBonus, referrerID, true) {
		log.Debug("referral bonus disabled by flag")
		return nil, nil
	}

	bonus := Bonus(amount, s.rate)
	if bonus <= 0 {
		return nil, nil
	}

	ok, err := s.rule.Eval(map[string]any{
		"amount":         amount,
		"bonus":          bonus,
		"referrer_id":    referrerID,
		"depositor_id":   depositor.ID,
		"depositor_days": int64(s.now().Sub(depositor.CreatedAt).Hours() / 24),
	})
	if err != nil {
		log.Warn("referral rule failed, no bonus paid", zap.String("rule", s.rule.String()), zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	referrer, err := s.users.Lock(ctx, tx, referrerID)
	if errutil.Is(err, errutil.StatusNotFound) {
		log.Warn("referrer no longer exists")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	txn, err := s.ledger.Credit(ctx, tx, ledger.ReferralBonus(referrer.ID, depositor.ID, depositID, bonus))
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("You earned a ₦%d referral bonus from %s's deposit.", bonus, depositor.Username)
	if err := s.notifier.Notify(ctx, tx, referrer.ID, msg); err != nil {
		return nil, err
	}

	log.Info("referral bonus credited", zap.Int64("bonus", bonus))
	return txn, nil
}

// List returns the users referred by userID with the bonus each has earned them.
func (s *Service) List(ctx context.Context, userID string) ([]*Referral, error) {
	referred, err := s.users.Referred(ctx, userID)
	if err != nil {
		return nil, err
	}
	bonuses, err := s.ledger.BonusByCounterparty(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*Referral, 0, len(referred))
	for _, u := range referred {
		out = append(out, &Referral{
			ID:           u.ID,
			Username:     u.Username,
			ReferralCode: u.ReferralCode,
			JoinedAt:     u.CreatedAt,
			Bonus:        bonuses[u.ID],
		})
	}
	return out, nil
}
