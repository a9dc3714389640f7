package referral

import (
	"context"
	"testing"

	"taskmarket/pkg/config"
	"taskmarket/pkg/featureflags"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/testutil"
	"taskmarket/services/user"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type staticCodes struct{}

func (staticCodes) NextReferralCode(context.Context) (string, error) { return "TMTEST", nil }

type fixture struct {
	db       *gorm.DB
	svc      *Service
	users    *user.Service
	notifier *notification.Service
}

func newFixture(t *testing.T, rule string, flags featureflags.FeatureFlag) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &ledger.Transaction{}, &notification.Notification{})
	node := testutil.NewNode(t)
	notifier := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	users := user.NewService(user.ServiceParams{DB: db, Node: node, Codes: staticCodes{}, Notifier: notifier, Flags: featureflags.Static{}})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	if flags == nil {
		flags = featureflags.Static{}
	}

	cfg := &config.Config{}
	cfg.Referral.BonusPercent = "5"
	cfg.Referral.Rule = rule

	svc, err := NewService(ServiceParams{Config: cfg, Users: users, Ledger: led, Notifier: notifier, Flags: flags})
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, users: users, notifier: notifier}
}

func (f *fixture) seed(t *testing.T, id string, referredBy *string) *user.User {
	t.Helper()
	u := &user.User{
		ID:           id,
		Email:        id + "@example.com",
		Username:     id,
		Role:         user.RoleUser,
		ReferralCode: "TM" + id,
		ReferredBy:   referredBy,
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) apply(t *testing.T, depositor *user.User, amount int64, depositID string) *ledger.Transaction {
	t.Helper()
	var txn *ledger.Transaction
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = f.svc.ApplyDepositBonus(context.Background(), tx, depositor, amount, depositID)
		return err
	}))
	return txn
}

func (f *fixture) withdrawable(t *testing.T, id string) int64 {
	t.Helper()
	u, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	return u.WithdrawableBalance
}

func ptr(s string) *string { return &s }

func TestBonusFloorsToWholeUnits(t *testing.T) {
	rate := decimal.RequireFromString("0.05")
	cases := map[int64]int64{
		1000: 50,
		999:  49,
		20:   1,
		19:   0,
		0:    0,
		-100: 0,
	}
	for amount, want := range cases {
		require.Equal(t, want, Bonus(amount, rate), amount)
	}
}

func TestApplyDepositBonusCreditsReferrer(t *testing.T) {
	f := newFixture(t, "true", nil)
	ctx := context.Background()

	f.seed(t, "ref", nil)
	depositor := f.seed(t, "new", ptr("ref"))

	txn := f.apply(t, depositor, 1000, "d1")
	require.NotNil(t, txn)
	require.Equal(t, ledger.TypeReferralBonus, txn.Type)
	require.EqualValues(t, 50, txn.Amount)
	require.EqualValues(t, 50, f.withdrawable(t, "ref"))

	feed, err := f.notifier.List(ctx, "ref")
	require.NoError(t, err)
	require.Len(t, feed, 1)

	f.apply(t, depositor, 500, "d2")
	rows, err := f.svc.List(ctx, "ref")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "new", rows[0].ID)
	require.EqualValues(t, 75, rows[0].Bonus)
}

func TestApplyDepositBonusSkips(t *testing.T) {
	t.Run("no referrer", func(t *testing.T) {
		f := newFixture(t, "true", nil)
		depositor := f.seed(t, "solo", nil)
		require.Nil(t, f.apply(t, depositor, 1000, "d1"))
	})

	t.Run("zero bonus", func(t *testing.T) {
		f := newFixture(t, "true", nil)
		f.seed(t, "ref", nil)
		depositor := f.seed(t, "new", ptr("ref"))
		require.Nil(t, f.apply(t, depositor, 19, "d1"))
		require.Zero(t, f.withdrawable(t, "ref"))

		var count int64
		require.NoError(t, f.db.Model(&ledger.Transaction{}).Count(&count).Error)
		require.Zero(t, count)
	})

	t.Run("flag off", func(t *testing.T) {
		f := newFixture(t, "true", featureflags.Static{Overrides: map[string]bool{featureflags.ReferralBonus: false}})
		f.seed(t, "ref", nil)
		depositor := f.seed(t, "new", ptr("ref"))
		require.Nil(t, f.apply(t, depositor, 1000, "d1"))
		require.Zero(t, f.withdrawable(t, "ref"))
	})

	t.Run("rule rejects", func(t *testing.T) {
		f := newFixture(t, "amount >= 5000", nil)
		f.seed(t, "ref", nil)
		depositor := f.seed(t, "new", ptr("ref"))
		require.Nil(t, f.apply(t, depositor, 1000, "d1"))
		require.NotNil(t, f.apply(t, depositor, 5000, "d2"))
		require.EqualValues(t, 250, f.withdrawable(t, "ref"))
	})

	t.Run("referrer gone", func(t *testing.T) {
		f := newFixture(t, "true", nil)
		depositor := f.seed(t, "new", ptr("ghost"))
		require.Nil(t, f.apply(t, depositor, 1000, "d1"))
	})
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Referral.BonusPercent = "five"
	_, err := NewService(ServiceParams{Config: cfg})
	require.Error(t, err)

	cfg.Referral.BonusPercent = "5"
	cfg.Referral.Rule = "amount + 1"
	_, err = NewService(ServiceParams{Config: cfg})
	require.Error(t, err)

	cfg.Referral.Rule = "unknown_var > 1"
	_, err = NewService(ServiceParams{Config: cfg})
	require.Error(t, err)
}
