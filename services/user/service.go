package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"taskmarket/pkg/db/option"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/featureflags"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/repository"
	"taskmarket/pkg/security"
	"taskmarket/pkg/sequence"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const codeAttempts = 5

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	users    repository.Repository[User]
	codes    sequence.Generator
	notifier *notification.Service
	flags    featureflags.FeatureFlag
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Codes    sequence.Generator
	Notifier *notification.Service
	Flags    featureflags.FeatureFlag
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		users:    repository.ProvideStore[User](p.DB),
		codes:    p.Codes,
		notifier: p.Notifier,
		flags:    p.Flags,
		now:      time.Now,
	}
}

type SignupInput struct {
	Email        string
	Username     string
	Password     string
	ReferralCode string
	ExternalUID  string
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	log := logger.FromContext(ctx)

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errutil.ValidationFailed("invalid signup", err, errutil.WithDetails(errutil.Detail{Field: "email", Message: "must be a valid email"}))
	}
	if len(in.Password) < 8 {
		return nil, errutil.ValidationFailed("invalid signup", nil, errutil.WithDetails(errutil.Detail{Field: "password", Message: "must be at least 8 characters"}))
	}

	if !s.flags.Enabled(ctx, featureflags.Signup, email, true) {
		return nil, errutil.Forbidden("signup is currently disabled", nil)
	}

	exist, err := s.users.FindOne(ctx, &User{Email: email})
	if err != nil {
		log.Error("failed to query user by email", zap.Error(err))
		return nil, errutil.Internal("failed to create user", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("email already registered", nil)
	}

	uid := strings.TrimSpace(in.ExternalUID)
	if uid != "" {
		exist, err := s.users.FindOne(ctx, &User{ExternalUID: &uid})
		if err != nil {
			log.Error("failed to query user by uid", zap.Error(err))
			return nil, errutil.Internal("failed to create user", err)
		}
		if exist != nil {
			return nil, errutil.Conflict("account already registered", nil)
		}
	}

	var referrer *User
	if code := strings.ToUpper(strings.TrimSpace(in.ReferralCode)); code != "" {
		referrer, err = s.users.FindOne(ctx, &User{ReferralCode: code})
		if err != nil {
			return nil, errutil.Internal("failed to resolve referral code", err)
		}
		if referrer == nil {
			return nil, errutil.ValidationFailed("invalid signup", nil, errutil.WithDetails(errutil.Detail{Field: "referralCode", Message: "unknown referral code"}))
		}
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, errutil.Internal("failed to hash password", err)
	}

	u := &User{
		ID:           s.node.Generate().String(),
		Email:        email,
		Username:     username(in.Username, email),
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if uid != "" {
		u.ExternalUID = &uid
	}
	if referrer != nil {
		u.ReferredBy = &referrer.ID
	}

	if err := s.create(ctx, u, "Welcome to TaskMarket! Complete tasks to start earning."); err != nil {
		return nil, err
	}

	log.Info("user signed up", zap.String("user_id", u.ID), zap.Bool("referred", referrer != nil))
	return u, nil
}

// create inserts u with a fresh referral code, retrying when the code collides.
func (s *Service) create(ctx context.Context, u *User, welcome string) error {
	for attempt := 1; ; attempt++ {
		code, err := s.codes.NextReferralCode(ctx)
		if err != nil {
			return errutil.Internal("failed to generate referral code", err)
		}
		u.ReferralCode = code

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.users.WithTrx(tx).Create(ctx, u); err != nil {
				return err
			}
			return s.notifier.Notify(ctx, tx, u.ID, welcome)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.Internal("failed to create user", err)
		}

		taken, ferr := s.users.FindOne(ctx, &User{Email: u.Email})
		if ferr == nil && taken != nil {
			return errutil.Conflict("email already registered", err)
		}
		if u.ExternalUID != nil {
			taken, ferr = s.users.FindOne(ctx, &User{ExternalUID: u.ExternalUID})
			if ferr == nil && taken != nil {
				return errutil.Conflict("account already registered", err)
			}
		}
		if attempt == codeAttempts {
			return errutil.Internal("referral code space exhausted", err)
		}
		logger.FromContext(ctx).Warn("referral code collision, retrying", zap.String("code", code), zap.Int("attempt", attempt))
	}
}

// Login checks a password sign-in. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{Email: strings.ToLower(strings.TrimSpace(email))})
	if err != nil {
		return nil, errutil.Internal("failed to query user", err)
	}
	if u == nil || u.PasswordHash == "" || !security.CheckPassword(u.PasswordHash, password) {
		return nil, errutil.Unauthorized("invalid email or password", nil)
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, errutil.NotFound("user not found", nil)
	}
	u, err := s.users.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// Find resolves a user by id or by referral code.
func (s *Service) Find(ctx context.Context, key string) (*User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errutil.NotFound("user not found", nil)
	}

	u, err := s.users.FindOne(ctx, nil, option.Where("id = ? OR referral_code = ?", key, strings.ToUpper(key)))
	if err != nil {
		return nil, errutil.Internal("failed to query user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// Lock reads the user row for update inside tx.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, id string) (*User, error) {
	if id == "" {
		return nil, errutil.NotFound("user not found", nil)
	}
	u, err := s.users.WithTrx(tx).FindOne(ctx, &User{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to lock user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// Read loads a user inside tx without taking the row lock.
func (s *Service) Read(ctx context.Context, tx *gorm.DB, id string) (*User, error) {
	if id == "" {
		return nil, errutil.NotFound("user not found", nil)
	}
	u, err := s.users.WithTrx(tx).FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// ByIDs loads the users with the given ids, keyed by id.
func (s *Service) ByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.users.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}))
	if err != nil {
		return nil, errutil.Internal("failed to query users", err)
	}
	for _, u := range rows {
		out[u.ID] = u
	}
	return out, nil
}

// Summaries maps user ids to their public summary.
func (s *Service) Summaries(ctx context.Context, ids []string) (map[string]Summary, error) {
	users, err := s.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Summary, len(users))
	for id, u := range users {
		out[id] = Summary{ID: u.ID, Username: u.Username}
	}
	return out, nil
}

// Count returns the number of registered users.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.users.Count(ctx, nil)
}

func (s *Service) Referred(ctx context.Context, referrerID string) ([]*User, error) {
	rows, err := s.users.Find(ctx, nil,
		option.Where("referred_by = ?", referrerID),
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to query referrals", err)
	}
	return rows, nil
}

// SetBanned flips the ban flag. Setting the current value again is a no-op.
func (s *Service) SetBanned(ctx context.Context, id string, banned bool) (*User, error) {
	var out *User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		u, err := s.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.IsBanned != banned {
			if err := s.users.WithTrx(tx).Update(ctx, u.ID, map[string]any{"is_banned": banned}); err != nil {
				return errutil.Internal("failed to update user", err)
			}
			u.IsBanned = banned
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("user ban state set", zap.String("user_id", id), zap.Bool("banned", banned))
	return out, nil
}

// EnsureAdmin creates the admin account for email or promotes the existing user.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.FindOne(ctx, &User{Email: email})
	if err != nil {
		return nil, errutil.Internal("failed to query user", err)
	}
	if u != nil {
		if !u.IsAdmin() {
			if err := s.users.Update(ctx, u.ID, map[string]any{"role": RoleAdmin}); err != nil {
				return nil, errutil.Internal("failed to promote admin", err)
			}
			u.Role = RoleAdmin
		}
		return u, nil
	}

	if len(password) < 8 {
		return nil, fmt.Errorf("admin password must be at least 8 characters")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u = &User{
		ID:           s.node.Generate().String(),
		Email:        email,
		Username:     username("", email),
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := s.create(ctx, u, "Admin account ready."); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) LookupPrincipal(ctx context.Context, userID string) (*identity.Principal, error) {
	if userID == "" {
		return nil, nil
	}
	u, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil || u == nil {
		return nil, err
	}
	return &identity.Principal{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		IsBanned: u.IsBanned,
	}, nil
}

func (s *Service) touch(ctx context.Context, e events.SessionChanged) error {
	if e.State != events.SessionAuthenticated {
		return nil
	}
	return s.users.Update(ctx, e.UserID, map[string]any{"last_seen_at": e.At})
}

func username(given, email string) string {
	name := slug.Make(given)
	if name == "" {
		local, _, _ := strings.Cut(email, "@")
		name = slug.Make(local)
	}
	if name == "" {
		name = "user"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
