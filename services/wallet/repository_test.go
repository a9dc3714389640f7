package wallet

import (
	"context"
	"errors"
	"testing"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/repository"
	"taskmarket/services/identity"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	countFn   func(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

func (m *repoMock[T]) WithTrx(*gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(context.Context, *T) error { return nil }

func (m *repoMock[T]) Update(context.Context, string, any) error { return nil }

func (m *repoMock[T]) BatchCreate(context.Context, []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(context.Context, []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query, opts...)
	}
	return 0, nil
}

func TestPendingDepositsStoreFailure(t *testing.T) {
	svc := &Service{
		deposits: &repoMock[Deposit]{
			findFn: func(context.Context, *Deposit, ...option.QueryOption) ([]*Deposit, error) {
				return nil, errors.New("connection reset")
			},
		},
	}

	_, err := svc.PendingDeposits(context.Background())
	require.True(t, errutil.Is(err, errutil.StatusInternal))
}

func TestPendingCountsStopsAtFirstFailure(t *testing.T) {
	svc := &Service{
		deposits: &repoMock[Deposit]{
			countFn: func(_ context.Context, q *Deposit, _ ...option.QueryOption) (int64, error) {
				require.Equal(t, DepositPending, q.Status)
				return 3, nil
			},
		},
		withdrawals: &repoMock[Withdrawal]{
			countFn: func(context.Context, *Withdrawal, ...option.QueryOption) (int64, error) {
				return 0, errors.New("timeout")
			},
		},
	}

	_, _, err := svc.PendingCounts(context.Background())
	require.Error(t, err)
}

func TestOpenReceiptWithoutUpload(t *testing.T) {
	svc := &Service{
		deposits: &repoMock[Deposit]{
			findOneFn: func(_ context.Context, q *Deposit, _ ...option.QueryOption) (*Deposit, error) {
				if q.ID != "d1" {
					return nil, nil
				}
				return &Deposit{ID: "d1", UserID: "u1", Status: DepositPending}, nil
			},
		},
	}
	owner := &identity.Principal{UserID: "u1", Role: "user"}

	_, _, err := svc.OpenReceipt(context.Background(), "d1", owner)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, _, err = svc.OpenReceipt(context.Background(), "d2", owner)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, _, err = svc.OpenReceipt(context.Background(), "", owner)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}
