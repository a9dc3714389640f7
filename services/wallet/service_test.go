package wallet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"taskmarket/pkg/config"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/featureflags"
	"taskmarket/pkg/minio"
	"taskmarket/pkg/minio/mock"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/referral"
	"taskmarket/services/testutil"
	"taskmarket/services/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
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
	ledger   *ledger.Service
	notifier *notification.Service
	store    *mock.MockObjectStore
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &ledger.Transaction{}, &notification.Notification{}, &Deposit{}, &Withdrawal{})
	node := testutil.NewNode(t)
	notifier := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	users := user.NewService(user.ServiceParams{DB: db, Node: node, Codes: staticCodes{}, Notifier: notifier, Flags: featureflags.Static{}})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Referral.BonusPercent = "5"
	refs, err := referral.NewService(referral.ServiceParams{Config: cfg, Users: users, Ledger: led, Notifier: notifier, Flags: featureflags.Static{}})
	require.NoError(t, err)

	store := mock.NewMockObjectStore(gomock.NewController(t))
	bus := events.NewBus()

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Users:    users,
		Ledger:   led,
		Referral: refs,
		Notifier: notifier,
		Store:    store,
		Bus:      bus,
	})
	return &fixture{db: db, svc: svc, ledger: led, notifier: notifier, store: store, bus: bus}
}

func (f *fixture) seedUser(t *testing.T, id string, referredBy *string) {
	t.Helper()
	require.NoError(t, f.db.Create(&user.User{
		ID:           id,
		Email:        id + "@example.com",
		Username:     id,
		Role:         user.RoleUser,
		ReferralCode: "TM" + strings.ToUpper(id),
		ReferredBy:   referredBy,
	}).Error)
}

func (f *fixture) earn(t *testing.T, id string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), nil, ledger.TaskCredit(id, "seed-"+id, amount, "seed"))
	require.NoError(t, err)
}

func (f *fixture) user(t *testing.T, id string) user.User {
	t.Helper()
	var u user.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u
}

func (f *fixture) deposit(t *testing.T, userID string, amount int64) *Deposit {
	t.Helper()
	d, err := f.svc.RequestDeposit(context.Background(), userID, DepositInput{Amount: amount, PaymentName: "Ada Obi"})
	require.NoError(t, err)
	return d
}

func TestApproveDepositCreditsDepositBalanceAndPaysReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "ref", nil)
	referrer := "ref"
	f.seedUser(t, "dep", &referrer)

	var decided []events.DepositDecided
	f.bus.DepositDecisions.Subscribe(func(_ context.Context, e events.DepositDecided) error {
		decided = append(decided, e)
		return nil
	})

	d := f.deposit(t, "dep", 1000)
	require.Equal(t, DepositPending, d.Status)
	require.Zero(t, f.user(t, "dep").DepositBalance)

	out, err := f.svc.ApproveDeposit(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, DepositApproved, out.Status)
	require.NotNil(t, out.DecidedAt)

	dep := f.user(t, "dep")
	require.EqualValues(t, 1000, dep.DepositBalance)
	require.Zero(t, dep.WithdrawableBalance)
	require.EqualValues(t, 50, f.user(t, "ref").WithdrawableBalance)

	var bonuses []ledger.Transaction
	require.NoError(t, f.db.Where("type = ?", ledger.TypeReferralBonus).Find(&bonuses).Error)
	require.Len(t, bonuses, 1)
	require.Equal(t, "ref", bonuses[0].UserID)
	require.EqualValues(t, 50, bonuses[0].Amount)

	refNotes, err := f.notifier.List(ctx, "ref")
	require.NoError(t, err)
	require.Len(t, refNotes, 1)

	require.Len(t, decided, 1)
	require.Equal(t, string(DepositApproved), decided[0].Status)

	for _, id := range []string{"dep", "ref"} {
		rec, err := f.ledger.Reconcile(ctx, id)
		require.NoError(t, err)
		require.True(t, rec.Balanced(), id)
	}
}

func TestDepositDecidesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "dep", nil)

	d := f.deposit(t, "dep", 500)
	_, err := f.svc.ApproveDeposit(ctx, d.ID)
	require.NoError(t, err)

	_, err = f.svc.ApproveDeposit(ctx, d.ID)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	_, err = f.svc.RejectDeposit(ctx, d.ID)
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	require.EqualValues(t, 500, f.user(t, "dep").DepositBalance)

	_, err = f.svc.ApproveDeposit(ctx, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestRejectDepositOnlyNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "dep", nil)

	d := f.deposit(t, "dep", 300)
	out, err := f.svc.RejectDeposit(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, DepositRejected, out.Status)

	require.Zero(t, f.user(t, "dep").DepositBalance)
	var count int64
	require.NoError(t, f.db.Model(&ledger.Transaction{}).Where("user_id = ?", "dep").Count(&count).Error)
	require.Zero(t, count)

	notes, err := f.notifier.List(ctx, "dep")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0].Message, "rejected")
}

func TestRequestDepositValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "dep", nil)
	f.seedUser(t, "banned", nil)
	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "banned").Update("is_banned", true).Error)

	_, err := f.svc.RequestDeposit(ctx, "dep", DepositInput{Amount: 99, PaymentName: "Ada"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.RequestDeposit(ctx, "dep", DepositInput{Amount: 100, PaymentName: "  "})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.RequestDeposit(ctx, "dep", DepositInput{
		Amount:      100,
		PaymentName: "Ada",
		Receipt:     &minio.Upload{Filename: "r.txt", ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc")},
	})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.RequestDeposit(ctx, "banned", DepositInput{Amount: 100, PaymentName: "Ada"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestDepositReceiptIsStoredAndVisibleToOwnerAndAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "dep", nil)
	f.seedUser(t, "other", nil)

	var storedKey string
	f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(4), "application/pdf").
		DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
			storedKey = key
			return nil
		})

	d, err := f.svc.RequestDeposit(ctx, "dep", DepositInput{
		Amount:      200,
		PaymentName: "Ada",
		Receipt:     &minio.Upload{Filename: "Bank Receipt.PDF", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")},
	})
	require.NoError(t, err)
	require.NotNil(t, d.PaymentReceipt)
	require.Equal(t, "receipts/dep/"+d.ID+"/bank-receipt.pdf", storedKey)
	require.Equal(t, storedKey, *d.PaymentReceipt)

	f.store.EXPECT().Get(gomock.Any(), storedKey).
		Return(io.NopCloser(bytes.NewReader([]byte("%PDF"))), &minio.ObjectInfo{Key: storedKey, Size: 4, ContentType: "application/pdf"}, nil).
		Times(2)

	body, _, err := f.svc.OpenReceipt(ctx, d.ID, &identity.Principal{UserID: "dep", Role: user.RoleUser})
	require.NoError(t, err)
	require.NoError(t, body.Close())

	body, _, err = f.svc.OpenReceipt(ctx, d.ID, &identity.Principal{UserID: "admin", Role: user.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, body.Close())

	_, _, err = f.svc.OpenReceipt(ctx, d.ID, &identity.Principal{UserID: "other", Role: user.RoleUser})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestWithdrawalDebitsAtRequestTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "w", nil)
	f.earn(t, "w", 500)

	var requested []events.WithdrawalRequested
	f.bus.WithdrawalRequests.Subscribe(func(_ context.Context, e events.WithdrawalRequested) error {
		requested = append(requested, e)
		return nil
	})

	in := WithdrawalInput{Amount: 300, Network: "MTN", PhoneNumber: "08012345678"}
	w, err := f.svc.RequestWithdrawal(ctx, "w", in)
	require.NoError(t, err)
	require.Equal(t, WithdrawalPending, w.Status)
	require.EqualValues(t, 200, f.user(t, "w").WithdrawableBalance)
	require.Len(t, requested, 1)

	_, err = f.svc.RequestWithdrawal(ctx, "w", in)
	require.True(t, errutil.Is(err, errutil.StatusInsufficientFunds))
	require.EqualValues(t, 200, f.user(t, "w").WithdrawableBalance)

	done, err := f.svc.CompleteWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, WithdrawalCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.EqualValues(t, 200, f.user(t, "w").WithdrawableBalance)

	_, err = f.svc.CompleteWithdrawal(ctx, w.ID)
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	rec, err := f.ledger.Reconcile(ctx, "w")
	require.NoError(t, err)
	require.True(t, rec.Balanced())
}

func TestWithdrawalInputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "w", nil)
	f.earn(t, "w", 500)

	cases := []WithdrawalInput{
		{Amount: 0, Network: "MTN", PhoneNumber: "08012345678"},
		{Amount: 100, Network: "", PhoneNumber: "08012345678"},
		{Amount: 100, Network: "MTN", PhoneNumber: "0801234567"},
		{Amount: 100, Network: "MTN", PhoneNumber: "0801234567x"},
	}
	for _, in := range cases {
		_, err := f.svc.RequestWithdrawal(ctx, "w", in)
		require.True(t, errutil.Is(err, errutil.StatusValidationFailed), "%+v", in)
	}
	require.EqualValues(t, 500, f.user(t, "w").WithdrawableBalance)
}

func TestPendingQueuesAreOldestFirstWithRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", nil)
	f.seedUser(t, "u2", nil)

	first := f.deposit(t, "u1", 100)
	second := f.deposit(t, "u2", 200)
	decided := f.deposit(t, "u1", 300)
	_, err := f.svc.RejectDeposit(ctx, decided.ID)
	require.NoError(t, err)

	rows, err := f.svc.PendingDeposits(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, first.ID, rows[0].ID)
	require.Equal(t, second.ID, rows[1].ID)
	require.NotNil(t, rows[0].User)
	require.Equal(t, "u1@example.com", rows[0].User.Email)
	require.Equal(t, "TMU1", rows[0].User.ReferralCode)

	deposits, withdrawals, err := f.svc.PendingCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, deposits)
	require.Zero(t, withdrawals)
}

func TestRequestDepositRemovesReceiptWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "dep", nil)

	var storedKey string
	gomock.InOrder(
		f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(4), "application/pdf").
			DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
				storedKey = key
				return f.db.Migrator().DropTable(&Deposit{})
			}),
		f.store.EXPECT().Delete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, key string) error {
				require.Equal(t, storedKey, key)
				return errors.New("bucket unavailable")
			}),
	)

	_, err := f.svc.RequestDeposit(ctx, "dep", DepositInput{
		Amount:      200,
		PaymentName: "Ada",
		Receipt:     &minio.Upload{Filename: "receipt.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")},
	})
	require.True(t, errutil.Is(err, errutil.StatusInternal))
}
