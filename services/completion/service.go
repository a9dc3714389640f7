package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/minio"
	"taskmarket/pkg/repository"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/task"
	"taskmarket/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	completions repository.Repository[Completion]
	tasks       *task.Service
	users       *user.Service
	ledger      *ledger.Service
	notifier    *notification.Service
	store       minio.ObjectStore
	bus         *events.Bus
	now         func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Tasks    *task.Service
	Users    *user.Service
	Ledger   *ledger.Service
	Notifier *notification.Service
	Store    minio.ObjectStore
	Bus      *events.Bus
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		completions: repository.ProvideStore[Completion](p.DB),
		tasks:       p.Tasks,
		users:       p.Users,
		ledger:      p.Ledger,
		notifier:    p.Notifier,
		store:       p.Store,
		bus:         p.Bus,
		now:         time.Now,
	}
}

// Submit records proof of work for a task. Slots and balances are left alone
// until the owner reviews it.
func (s *Service) Submit(ctx context.Context, taskID, userID string, in ProofInput) (*Completion, error) {
	log := logger.FromContext(ctx).With(zap.String("task_id", taskID), zap.String("user_id", userID))

	text := strings.TrimSpace(in.Text)
	if text == "" && in.Image == nil {
		return nil, errutil.ValidationFailed("proof is required", nil, errutil.WithDetails(
			errutil.Detail{Field: "textProof", Message: "provide a text proof or an image"},
		))
	}
	var ext string
	if in.Image != nil {
		var ok bool
		if ext, ok = imageTypes[strings.ToLower(in.Image.ContentType)]; !ok {
			return nil, errutil.ValidationFailed("unsupported image type", nil, errutil.WithDetails(
				errutil.Detail{Field: "imageProof", Message: "must be a JPEG, PNG, WebP or GIF image"},
			))
		}
	}

	submitter, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if submitter.IsBanned {
		return nil, errutil.Forbidden("account is banned", nil)
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID == userID {
		return nil, errutil.Forbidden("cannot complete your own task", nil)
	}

	exist, err := s.completions.FindOne(ctx, &Completion{TaskID: taskID, UserID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to query completion", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("task already submitted", nil)
	}
	if t.RemainingSlots == 0 {
		return nil, errutil.NotFound("task is no longer available", nil)
	}

	c := &Completion{
		ID:     s.node.Generate().String(),
		TaskID: taskID,
		UserID: userID,
		Status: StatusPending,
	}
	if text != "" {
		c.TextProof = &text
	}

	if in.Image != nil {
		key := minio.ObjectKey(path.Join("proofs", taskID), c.ID, "proof"+ext)
		if err := s.store.Put(ctx, key, in.Image.Body, in.Image.Size, in.Image.ContentType); err != nil {
			log.Error("failed to store proof image", zap.Error(err))
			return nil, errutil.Internal("failed to store proof image", err)
		}
		c.ImageProof = &key
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.completions.WithTrx(tx).Create(ctx, c); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("task already submitted", err)
			}
			return errutil.Internal("failed to create completion", err)
		}
		return s.notifier.Notify(ctx, tx, t.OwnerID, fmt.Sprintf("New submission for %q is waiting for your review.", t.Name))
	})
	if err != nil {
		if c.ImageProof != nil {
			minio.Discard(ctx, s.store, *c.ImageProof)
		}
		return nil, err
	}

	log.Info("proof submitted", zap.String("completion_id", c.ID))
	return c, nil
}

// Review decides a pending completion. Approval consumes a slot and pays the
// submitter, rejection only notifies them.
func (s *Service) Review(ctx context.Context, completionID, reviewerID string, decision Status) (*Completion, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("completion.id", completionID), attribute.String("completion.decision", string(decision)))
	log := logger.FromContext(ctx).With(zap.String("completion_id", completionID), zap.String("reviewer_id", reviewerID))

	if !decision.Decision() {
		return nil, errutil.ValidationFailed("invalid decision", nil, errutil.WithDetails(
			errutil.Detail{Field: "status", Message: "must be one of [approved rejected]"},
		))
	}

	var (
		out    *Completion
		reward int64
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.completions.WithTrx(tx).FindOne(ctx, &Completion{ID: completionID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to lock completion", err)
		}
		if c == nil || completionID == "" {
			return errutil.NotFound("completion not found", nil)
		}

		t, err := s.tasks.Lock(ctx, tx, c.TaskID)
		if err != nil {
			return err
		}

		// The submitter row is the only user row locked here, so two owners
		// approving each other's submissions cannot lock in opposite order.
		reviewer, err := s.users.Read(ctx, tx, reviewerID)
		if err != nil {
			return err
		}
		if reviewer.IsBanned {
			return errutil.Forbidden("account is banned", nil)
		}
		if t.OwnerID != reviewerID {
			return errutil.Forbidden("only the task owner can review submissions", nil)
		}
		if c.Status != StatusPending {
			return errutil.Conflict("completion already reviewed", nil)
		}

		message := fmt.Sprintf("Your submission for %q was rejected.", t.Name)
		if decision == StatusApproved {
			if t.RemainingSlots == 0 {
				return errutil.Conflict("task has no remaining slots", nil)
			}
			if _, err := s.tasks.ConsumeSlot(ctx, tx, t.ID); err != nil {
				return err
			}
			if _, err := s.ledger.Credit(ctx, tx, ledger.TaskCredit(c.UserID, c.ID, t.Price, t.Name)); err != nil {
				return err
			}
			reward = t.Price
			message = fmt.Sprintf("Your submission for %q was approved. ₦%d added to your withdrawable balance.", t.Name, t.Price)
		}

		reviewedAt := s.now()
		res := tx.WithContext(ctx).Model(&Completion{}).
			Where("id = ? AND status = ?", c.ID, StatusPending).
			Updates(map[string]any{"status": decision, "reviewed_at": reviewedAt})
		if res.Error != nil {
			return errutil.Internal("failed to update completion", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("completion already reviewed", nil)
		}
		c.Status = decision
		c.ReviewedAt = &reviewedAt

		if err := s.notifier.Notify(ctx, tx, c.UserID, message); err != nil {
			return err
		}

		out = c
		return nil
	})
	if err != nil {
		log.Warn("review failed", zap.Error(err))
		return nil, err
	}

	s.bus.CompletionReviews.Publish(ctx, events.CompletionReviewed{
		CompletionID: out.ID,
		TaskID:       out.TaskID,
		UserID:       out.UserID,
		Status:       string(out.Status),
		Amount:       reward,
	})
	log.Info("completion reviewed", zap.String("status", string(out.Status)))
	return out, nil
}

// ForUser returns the user's completion for a task.
func (s *Service) ForUser(ctx context.Context, taskID, userID string) (*Completion, error) {
	c, err := s.completions.FindOne(ctx, &Completion{TaskID: taskID, UserID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to query completion", err)
	}
	if c == nil || taskID == "" {
		return nil, errutil.NotFound("no completion for this task", nil)
	}
	return c, nil
}

// ListForTask returns the completions of a task to its owner, newest first.
func (s *Service) ListForTask(ctx context.Context, taskID, ownerID string) ([]*Completion, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, errutil.Forbidden("only the task owner can list submissions", nil)
	}

	rows, err := s.completions.Find(ctx, &Completion{TaskID: taskID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list completions", err)
	}

	ids := make([]string, 0, len(rows))
	for _, c := range rows {
		ids = append(ids, c.UserID)
	}
	summaries, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if sm, ok := summaries[c.UserID]; ok {
			c.User = &sm
		}
	}
	return rows, nil
}

// OpenImage streams a proof image to the submitter, the task owner or an admin.
func (s *Service) OpenImage(ctx context.Context, completionID string, requester *identity.Principal) (io.ReadCloser, *minio.ObjectInfo, error) {
	c, err := s.completions.FindOne(ctx, &Completion{ID: completionID})
	if err != nil {
		return nil, nil, errutil.Internal("failed to query completion", err)
	}
	if c == nil || completionID == "" {
		return nil, nil, errutil.NotFound("completion not found", nil)
	}

	if c.UserID != requester.UserID && !requester.IsAdmin() {
		t, err := s.tasks.Get(ctx, c.TaskID)
		if err != nil {
			return nil, nil, err
		}
		if t.OwnerID != requester.UserID {
			return nil, nil, errutil.Forbidden("not allowed to view this proof", nil)
		}
	}

	if c.ImageProof == nil {
		return nil, nil, errutil.NotFound("completion has no image proof", nil)
	}

	body, info, err := s.store.Get(ctx, *c.ImageProof)
	if err != nil {
		return nil, nil, errutil.Internal("failed to read proof image", err)
	}
	return body, info, nil
}
