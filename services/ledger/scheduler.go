package ledger

import (
	"context"
	"time"

	"taskmarket/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the nightly reconciliation sweep.
type Scheduler struct {
	service  *Service
	enqueuer task.Enqueuer
	hour     int
	minute   int
}

func NewScheduler(svc *Service, enqueuer task.Enqueuer) *Scheduler {
	return &Scheduler{service: svc, enqueuer: enqueuer, hour: 1}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started reconciliation scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()

	n, err := s.service.EnqueueReconcileAll(ctx, s.enqueuer)
	if err != nil {
		zap.L().Error("[Scheduler] failed enqueue reconciliation", zap.Int("enqueued", n), zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished enqueue reconciliation",
		zap.Int("enqueued", n),
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime returns the next wall-clock occurrence of hour:minute.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
