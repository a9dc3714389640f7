package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"taskmarket/pkg/logger"
	"taskmarket/pkg/task"
	"taskmarket/pkg/taskname"
	"taskmarket/services/user"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ReconcilePayload struct {
	UserID string `json:"user_id"`
}

func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ReconcileUser, payload,
		asynq.Queue(task.QueueLow), asynq.MaxRetry(3)), nil
}

// HandleReconcileTask checks one user's wallet against the log. A mismatch is
// reported, never repaired.
func (s *Service) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", t.Type(), err, asynq.SkipRetry)
	}

	r, err := s.Reconcile(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !r.Balanced() || !r.ChainIntact {
		logger.FromContext(ctx).Error("reconciliation mismatch", zap.String("user_id", p.UserID))
	}
	return nil
}

// EnqueueReconcileAll schedules a reconciliation job for every user, in
// batches of 250.
func (s *Service) EnqueueReconcileAll(ctx context.Context, enqueuer task.Enqueuer) (int, error) {
	const batch = 250

	total := 0
	after := ""
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&user.User{}).
			Where("id > ?", after).
			Order("id ASC").
			Limit(batch).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			t, err := NewReconcileTask(ReconcilePayload{UserID: id})
			if err != nil {
				return total, err
			}
			if _, err := enqueuer.Enqueue(ctx, t); err != nil {
				zap.L().Error("failed enqueue reconcile job", zap.String("user_id", id), zap.Error(err))
				continue
			}
			total++
		}

		if len(ids) < batch {
			break
		}
		after = ids[len(ids)-1]
	}

	return total, nil
}

func registerWorkerHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.ReconcileUser, s.HandleReconcileTask)
}
