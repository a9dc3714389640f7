package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskmarket/pkg/task/mock"
	"taskmarket/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEnqueueReconcileAll(t *testing.T) {
	svc, db := newTestService(t)
	for _, id := range []string{"u1", "u2", "u3"} {
		seedUser(t, db, id, 0, 0)
	}

	ctrl := gomock.NewController(t)
	enq := mock.NewMockEnqueuer(ctrl)

	var users []string
	enq.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			require.Equal(t, taskname.ReconcileUser, task.Type())
			var p ReconcilePayload
			require.NoError(t, json.Unmarshal(task.Payload(), &p))
			users = append(users, p.UserID)
			return &asynq.TaskInfo{ID: p.UserID}, nil
		}).Times(3)

	n, err := svc.EnqueueReconcileAll(context.Background(), enq)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"u1", "u2", "u3"}, users)
}

func TestHandleReconcileTask(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "u1", 0, 0)
	_, err := svc.Credit(context.Background(), nil, Deposit("u1", "d1", 100))
	require.NoError(t, err)

	task, err := NewReconcileTask(ReconcilePayload{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, svc.HandleReconcileTask(context.Background(), task))

	err = svc.HandleReconcileTask(context.Background(), asynq.NewTask(taskname.ReconcileUser, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNextRunTime(t *testing.T) {
	loc := time.UTC
	before := time.Date(2025, 1, 10, 0, 30, 0, 0, loc)
	require.Equal(t, time.Date(2025, 1, 10, 1, 0, 0, 0, loc), nextRunTime(before, 1, 0))

	after := time.Date(2025, 1, 10, 1, 0, 0, 0, loc)
	require.Equal(t, time.Date(2025, 1, 11, 1, 0, 0, 0, loc), nextRunTime(after, 1, 0))
}
