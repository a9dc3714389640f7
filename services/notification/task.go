package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"taskmarket/pkg/logger"
	"taskmarket/pkg/task"
	"taskmarket/pkg/taskname"
	"taskmarket/services/events"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type NotifyAdminsPayload struct {
	Message string `json:"message"`
}

func NewNotifyAdminsTask(p NotifyAdminsPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotifyAdmins, payload,
		asynq.Queue(task.QueueDefault), asynq.MaxRetry(5)), nil
}

func (s *Service) HandleNotifyAdmins(ctx context.Context, t *asynq.Task) error {
	var p NotifyAdminsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", t.Type(), err, asynq.SkipRetry)
	}
	return s.NotifyAdmins(ctx, p.Message)
}

// Fanout turns wallet requests into an admin notice processed by the worker.
type Fanout struct {
	enqueuer task.Enqueuer
}

func NewFanout(enqueuer task.Enqueuer) *Fanout {
	return &Fanout{enqueuer: enqueuer}
}

func (f *Fanout) enqueue(ctx context.Context, message string) error {
	t, err := NewNotifyAdminsTask(NotifyAdminsPayload{Message: message})
	if err != nil {
		return err
	}
	info, err := f.enqueuer.Enqueue(ctx, t)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("admin notice enqueued", zap.String("task_id", info.ID))
	return nil
}

func (f *Fanout) OnDepositRequested(ctx context.Context, e events.DepositRequested) error {
	return f.enqueue(ctx, fmt.Sprintf("New deposit request of ₦%d awaiting review.", e.Amount))
}

func (f *Fanout) OnWithdrawalRequested(ctx context.Context, e events.WithdrawalRequested) error {
	return f.enqueue(ctx, fmt.Sprintf("New withdrawal request of ₦%d awaiting payout.", e.Amount))
}

func subscribeFanout(bus *events.Bus, f *Fanout) {
	bus.DepositRequests.Subscribe(f.OnDepositRequested)
	bus.WithdrawalRequests.Subscribe(f.OnWithdrawalRequested)
}

func registerWorkerHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.NotifyAdmins, s.HandleNotifyAdmins)
}
