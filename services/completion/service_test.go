package completion

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"taskmarket/pkg/errutil"
	"taskmarket/pkg/featureflags"
	"taskmarket/pkg/minio"
	"taskmarket/pkg/minio/mock"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/task"
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
	tasks    *task.Service
	notifier *notification.Service
	ledger   *ledger.Service
	store    *mock.MockObjectStore
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &ledger.Transaction{}, &notification.Notification{}, &task.Task{}, &Completion{})
	node := testutil.NewNode(t)
	notifier := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	users := user.NewService(user.ServiceParams{DB: db, Node: node, Codes: staticCodes{}, Notifier: notifier, Flags: featureflags.Static{}})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	tasks := task.NewService(task.ServiceParams{DB: db, Node: node, Users: users, Ledger: led, Submissions: NewIndex(db)})
	store := mock.NewMockObjectStore(gomock.NewController(t))
	bus := events.NewBus()

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Tasks:    tasks,
		Users:    users,
		Ledger:   led,
		Notifier: notifier,
		Store:    store,
		Bus:      bus,
	})
	return &fixture{db: db, svc: svc, tasks: tasks, notifier: notifier, ledger: led, store: store, bus: bus}
}

func (f *fixture) seedUser(t *testing.T, id string, deposit int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&user.User{
		ID:           id,
		Email:        id + "@example.com",
		Username:     id,
		Role:         user.RoleUser,
		ReferralCode: "TM" + id,
	}).Error)
	if deposit > 0 {
		_, err := f.ledger.Credit(context.Background(), nil, ledger.Deposit(id, "seed-"+id, deposit))
		require.NoError(t, err)
	}
}

func (f *fixture) user(t *testing.T, id string) user.User {
	t.Helper()
	var u user.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u
}

func (f *fixture) createTask(t *testing.T, owner string, slots int, price int64) *task.Task {
	t.Helper()
	created, err := f.tasks.Create(context.Background(), owner, task.CreateInput{
		Name:        "Like our post",
		Description: "Like the post and send a screenshot",
		Link:        "https://example.com/post",
		TotalSlots:  slots,
		Price:       price,
	})
	require.NoError(t, err)
	return created
}

func text(s string) ProofInput {
	return ProofInput{Text: s}
}

func TestApprovalPaysSubmitterAndConsumesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)

	var reviewed []events.CompletionReviewed
	f.bus.CompletionReviews.Subscribe(func(_ context.Context, e events.CompletionReviewed) error {
		reviewed = append(reviewed, e)
		return nil
	})

	tk := f.createTask(t, "a", 5, 100)
	require.EqualValues(t, 500, f.user(t, "a").DepositBalance)
	require.Equal(t, 5, tk.RemainingSlots)

	c, err := f.svc.Submit(ctx, tk.ID, "b", text("done, my handle is @b"))
	require.NoError(t, err)
	require.Equal(t, StatusPending, c.Status)

	stored, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stored.RemainingSlots)

	before, err := f.notifier.List(ctx, "b")
	require.NoError(t, err)

	out, err := f.svc.Review(ctx, c.ID, "a", StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, out.Status)
	require.NotNil(t, out.ReviewedAt)

	require.EqualValues(t, 100, f.user(t, "b").WithdrawableBalance)
	stored, err = f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, 4, stored.RemainingSlots)
	require.False(t, stored.IsCompleted)

	var credits []ledger.Transaction
	require.NoError(t, f.db.Where("user_id = ? AND type = ?", "b", ledger.TypeTaskCredit).Find(&credits).Error)
	require.Len(t, credits, 1)
	require.EqualValues(t, 100, credits[0].Amount)

	after, err := f.notifier.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)

	require.Len(t, reviewed, 1)
	require.EqualValues(t, 100, reviewed[0].Amount)

	for _, id := range []string{"a", "b"} {
		r, err := f.ledger.Reconcile(ctx, id)
		require.NoError(t, err)
		require.True(t, r.Balanced(), id)
	}
}

func TestRejectionMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	tk := f.createTask(t, "a", 2, 100)

	c, err := f.svc.Submit(ctx, tk.ID, "b", text("proof"))
	require.NoError(t, err)

	out, err := f.svc.Review(ctx, c.ID, "a", StatusRejected)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, out.Status)

	require.Zero(t, f.user(t, "b").WithdrawableBalance)
	stored, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.RemainingSlots)

	feed, err := f.notifier.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Contains(t, feed[0].Message, "rejected")
}

func TestReviewTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	tk := f.createTask(t, "a", 2, 100)

	c, err := f.svc.Submit(ctx, tk.ID, "b", text("proof"))
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, c.ID, "a", StatusApproved)
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, c.ID, "a", StatusRejected)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	_, err = f.svc.Review(ctx, c.ID, "a", StatusApproved)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	require.EqualValues(t, 100, f.user(t, "b").WithdrawableBalance)
}

func TestApprovalAtZeroSlotsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	f.seedUser(t, "c", 0)
	tk := f.createTask(t, "a", 1, 100)

	cb, err := f.svc.Submit(ctx, tk.ID, "b", text("b proof"))
	require.NoError(t, err)
	cc, err := f.svc.Submit(ctx, tk.ID, "c", text("c proof"))
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, cb.ID, "a", StatusApproved)
	require.NoError(t, err)

	stored, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Zero(t, stored.RemainingSlots)
	require.True(t, stored.IsCompleted)

	_, err = f.svc.Review(ctx, cc.ID, "a", StatusApproved)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	require.Zero(t, f.user(t, "c").WithdrawableBalance)
	require.EqualValues(t, 900, f.user(t, "a").DepositBalance)

	pending, err := f.svc.ForUser(ctx, tk.ID, "c")
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)

	_, err = f.svc.Review(ctx, cc.ID, "a", StatusRejected)
	require.NoError(t, err)
}

func TestSubmitChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	f.seedUser(t, "banned", 0)
	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "banned").Update("is_banned", true).Error)
	tk := f.createTask(t, "a", 1, 100)

	_, err := f.svc.Submit(ctx, tk.ID, "b", text("   "))
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Submit(ctx, tk.ID, "banned", text("proof"))
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Submit(ctx, "missing", "b", text("proof"))
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.Submit(ctx, tk.ID, "a", text("my own"))
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Submit(ctx, tk.ID, "b", text("proof"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, tk.ID, "b", text("again"))
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	require.NoError(t, f.db.Model(&task.Task{}).Where("id = ?", tk.ID).Updates(map[string]any{"remaining_slots": 0, "is_completed": true}).Error)
	f.seedUser(t, "late", 0)
	_, err = f.svc.Submit(ctx, tk.ID, "late", text("proof"))
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestReviewChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	f.seedUser(t, "c", 0)
	tk := f.createTask(t, "a", 1, 100)
	c, err := f.svc.Submit(ctx, tk.ID, "b", text("proof"))
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, c.ID, "a", Status("maybe"))
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Review(ctx, "missing", "a", StatusApproved)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.Review(ctx, c.ID, "c", StatusApproved)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "a").Update("is_banned", true).Error)
	_, err = f.svc.Review(ctx, c.ID, "a", StatusApproved)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
	require.Zero(t, f.user(t, "b").WithdrawableBalance)
}

func TestSubmitWithImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	tk := f.createTask(t, "a", 1, 100)

	var storedKey string
	f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(4), "image/png").
		DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
			storedKey = key
			return nil
		})

	c, err := f.svc.Submit(ctx, tk.ID, "b", ProofInput{Image: &minio.Upload{
		Filename:    "screen.png",
		ContentType: "image/png",
		Size:        4,
		Body:        bytes.NewReader([]byte("\x89PNG")),
	}})
	require.NoError(t, err)
	require.NotNil(t, c.ImageProof)
	require.Equal(t, storedKey, *c.ImageProof)
	require.True(t, strings.HasPrefix(storedKey, "proofs/"+tk.ID+"/"))
	require.Nil(t, c.TextProof)

	f.store.EXPECT().Get(gomock.Any(), storedKey).
		Return(io.NopCloser(strings.NewReader("\x89PNG")), &minio.ObjectInfo{Key: storedKey, Size: 4, ContentType: "image/png"}, nil).
		Times(2)

	for _, who := range []*identity.Principal{{UserID: "b"}, {UserID: "a"}} {
		body, info, err := f.svc.OpenImage(ctx, c.ID, who)
		require.NoError(t, err)
		require.Equal(t, "image/png", info.ContentType)
		require.NoError(t, body.Close())
	}

	f.seedUser(t, "stranger", 0)
	_, _, err = f.svc.OpenImage(ctx, c.ID, &identity.Principal{UserID: "stranger", Role: user.RoleUser})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestSubmitRejectsNonImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	tk := f.createTask(t, "a", 1, 100)

	_, err := f.svc.Submit(ctx, tk.ID, "b", ProofInput{Image: &minio.Upload{
		Filename:    "notes.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestListForTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	f.seedUser(t, "c", 0)
	tk := f.createTask(t, "a", 3, 100)

	_, err := f.svc.Submit(ctx, tk.ID, "b", text("b"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, tk.ID, "c", text("c"))
	require.NoError(t, err)

	rows, err := f.svc.ListForTask(ctx, tk.ID, "a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "c", rows[0].UserID)
	require.Equal(t, "c", rows[0].User.Username)

	_, err = f.svc.ListForTask(ctx, tk.ID, "b")
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	ids, err := NewIndex(f.db).SubmittedTaskIDs(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []string{tk.ID}, ids)

	available, err := f.tasks.ListAvailable(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, available)

	_, err = f.svc.ForUser(ctx, tk.ID, "a")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

// lockedUsers records every users row read with FOR UPDATE on db.
func lockedUsers(t *testing.T, db *gorm.DB) *[]string {
	t.Helper()
	var ids []string
	err := db.Callback().Query().After("gorm:query").Register("test:user_locks", func(tx *gorm.DB) {
		if _, locked := tx.Statement.Clauses["FOR"]; !locked {
			return
		}
		if u, ok := tx.Statement.Dest.(*user.User); ok && u.ID != "" {
			ids = append(ids, u.ID)
		}
	})
	require.NoError(t, err)
	return &ids
}

func TestCrossApprovalLocksOnlySubmitters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 1000)

	ta := f.createTask(t, "a", 1, 100)
	tb := f.createTask(t, "b", 1, 100)
	byB, err := f.svc.Submit(ctx, ta.ID, "b", text("done by b"))
	require.NoError(t, err)
	byA, err := f.svc.Submit(ctx, tb.ID, "a", text("done by a"))
	require.NoError(t, err)

	locks := lockedUsers(t, f.db)

	_, err = f.svc.Review(ctx, byB.ID, "a", StatusApproved)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, *locks)

	_, err = f.svc.Review(ctx, byA.ID, "b", StatusApproved)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, *locks)

	require.EqualValues(t, 100, f.user(t, "a").WithdrawableBalance)
	require.EqualValues(t, 100, f.user(t, "b").WithdrawableBalance)
}

func TestSubmitRemovesImageWhenInsertLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a", 1000)
	f.seedUser(t, "b", 0)
	tk := f.createTask(t, "a", 1, 100)

	var storedKey string
	gomock.InOrder(
		f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(4), "image/png").
			DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
				storedKey = key
				// a concurrent submission from the same user lands while the upload runs
				return f.db.Create(&Completion{ID: "racer", TaskID: tk.ID, UserID: "b", Status: StatusPending}).Error
			}),
		f.store.EXPECT().Delete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, key string) error {
				require.Equal(t, storedKey, key)
				return nil
			}),
	)

	_, err := f.svc.Submit(ctx, tk.ID, "b", ProofInput{Image: &minio.Upload{
		Filename:    "screen.png",
		ContentType: "image/png",
		Size:        4,
		Body:        bytes.NewReader([]byte("\x89PNG")),
	}})
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	var n int64
	require.NoError(t, f.db.Model(&Completion{}).Where("task_id = ?", tk.ID).Count(&n).Error)
	require.EqualValues(t, 1, n)
}
