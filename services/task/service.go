package task

import (
	"context"
	"strings"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/repository"
	"taskmarket/services/ledger"
	"taskmarket/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Submissions reports which tasks a user has already submitted proof for.
type Submissions interface {
	SubmittedTaskIDs(ctx context.Context, userID string) ([]string, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	tasks       repository.Repository[Task]
	users       *user.Service
	ledger      *ledger.Service
	submissions Submissions
}

type ServiceParams struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Users       *user.Service
	Ledger      *ledger.Service
	Submissions Submissions
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		tasks:       repository.ProvideStore[Task](p.DB),
		users:       p.Users,
		ledger:      p.Ledger,
		submissions: p.Submissions,
	}
}

// Create funds and publishes a task. The owner's deposit balance pays for
// every slot at once, in the same transaction as the task row.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*Task, error) {
	span := trace.SpanFromContext(ctx)
	log := logger.FromContext(ctx).With(zap.String("owner_id", ownerID))

	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Link = strings.TrimSpace(in.Link)
	if err := validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.FromBinding(err)
	}

	t := &Task{
		ID:             s.node.Generate().String(),
		OwnerID:        ownerID,
		Name:           in.Name,
		Description:    in.Description,
		Link:           in.Link,
		Price:          in.Price,
		TotalSlots:     in.TotalSlots,
		RemainingSlots: in.TotalSlots,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		owner, err := s.users.Lock(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if owner.IsBanned {
			return errutil.Forbidden("account is banned", nil)
		}
		if owner.DepositBalance < t.Cost() {
			return errutil.InsufficientFunds("deposit balance does not cover the task", nil)
		}

		if err := s.tasks.WithTrx(tx).Create(ctx, t); err != nil {
			log.Error("failed to insert task", zap.Error(err))
			return errutil.Internal("failed to create task", err)
		}

		_, err = s.ledger.Debit(ctx, tx, ledger.TaskDebit(ownerID, t.ID, t.Cost(), t.Name))
		return err
	})
	if err != nil {
		return nil, err
	}

	span.AddEvent("task.created")
	log.Info("task created", zap.String("task_id", t.ID), zap.Int64("cost", t.Cost()))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, errutil.NotFound("task not found", nil)
	}
	t, err := s.tasks.FindOne(ctx, &Task{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query task", err)
	}
	if t == nil {
		return nil, errutil.NotFound("task not found", nil)
	}
	return t, nil
}

// Lock reads the task row for update inside tx.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, id string) (*Task, error) {
	if id == "" {
		return nil, errutil.NotFound("task not found", nil)
	}
	t, err := s.tasks.WithTrx(tx).FindOne(ctx, &Task{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to lock task", err)
	}
	if t == nil {
		return nil, errutil.NotFound("task not found", nil)
	}
	return t, nil
}

// ConsumeSlot takes one slot of a task and closes it when none remain. It
// fails with Conflict when the task is already full.
func (s *Service) ConsumeSlot(ctx context.Context, tx *gorm.DB, id string) (*Task, error) {
	res := tx.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND remaining_slots > 0", id).
		Update("remaining_slots", gorm.Expr("remaining_slots - 1"))
	if res.Error != nil {
		return nil, errutil.Internal("failed to update task slots", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("task has no remaining slots", nil)
	}

	if err := tx.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND remaining_slots = 0", id).
		Update("is_completed", true).Error; err != nil {
		return nil, errutil.Internal("failed to update task", err)
	}

	return s.Lock(ctx, tx, id)
}

// ListAvailable returns open tasks the user neither owns nor has submitted to.
func (s *Service) ListAvailable(ctx context.Context, userID string) ([]*Task, error) {
	submitted, err := s.submissions.SubmittedTaskIDs(ctx, userID)
	if err != nil {
		return nil, errutil.Internal("failed to list submissions", err)
	}

	conds := []option.Condition{
		{Field: "owner_id", Operator: option.NEQ, Value: userID},
		{Field: "is_completed", Operator: option.EQ, Value: false},
	}
	if len(submitted) > 0 {
		conds = append(conds, option.Condition{Field: "id", Operator: option.NOT_IN, Value: submitted})
	}

	rows, err := s.tasks.Find(ctx, nil,
		option.ApplyOperator(conds...),
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list available tasks", zap.Error(err))
		return nil, errutil.Internal("failed to list tasks", err)
	}
	return rows, nil
}

func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]*Task, error) {
	rows, err := s.tasks.Find(ctx, &Task{OwnerID: ownerID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list tasks", err)
	}
	return rows, nil
}

func (s *Service) CompletedTaskIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.submissions.SubmittedTaskIDs(ctx, userID)
	if err != nil {
		return nil, errutil.Internal("failed to list submissions", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CountActive counts tasks that still have open slots.
func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.tasks.Count(ctx, nil, option.Where("is_completed = ?", false))
}
