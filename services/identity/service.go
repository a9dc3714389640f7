package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskmarket/pkg/errutil"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/rediskey"
	"taskmarket/pkg/security"
	"taskmarket/services/events"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// UserLookup resolves the current state of a user. It returns (nil, nil) for
// unknown ids.
type UserLookup interface {
	LookupPrincipal(ctx context.Context, userID string) (*Principal, error)
}

type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type redisRevocations struct {
	rdb *redis.Client
}

func NewRevocationStore(rdb *redis.Client) RevocationStore {
	return &redisRevocations{rdb: rdb}
}

func (r *redisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, rediskey.BuildRevokedTokenKey(tokenID), "1", ttl).Err()
}

func (r *redisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, rediskey.BuildRevokedTokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type Service struct {
	issuer  security.TokenIssuer
	users   UserLookup
	revoked RevocationStore
	bus     *events.Bus
	now     func() time.Time
}

type ServiceParams struct {
	fx.In

	Issuer  security.TokenIssuer
	Users   UserLookup
	Revoked RevocationStore
	Bus     *events.Bus
}

func NewService(p ServiceParams) *Service {
	return &Service{
		issuer:  p.Issuer,
		users:   p.Users,
		revoked: p.Revoked,
		bus:     p.Bus,
		now:     time.Now,
	}
}

// Authenticate settles the session for a raw Authorization header value. A
// missing header yields an anonymous session and no error.
func (s *Service) Authenticate(ctx context.Context, header string) (Session, error) {
	raw, ok := bearer(header)
	if !ok {
		return anonymous, nil
	}

	claims, err := s.issuer.Verify(raw)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return anonymous, errutil.Unauthorized("token expired", err)
		}
		return anonymous, errutil.Unauthorized("invalid token", err)
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return anonymous, errutil.Internal("failed to check token", err)
	}
	if revoked {
		return anonymous, errutil.Unauthorized("token revoked", nil)
	}

	p, err := s.users.LookupPrincipal(ctx, claims.Subject)
	if err != nil {
		return anonymous, errutil.Internal("failed to load user", err)
	}
	if p == nil {
		return anonymous, errutil.Unauthorized("user no longer exists", nil)
	}

	p.TokenID = claims.ID
	if claims.Expiry != nil {
		p.ExpiresAt = claims.Expiry.Time()
	}

	return Session{State: StateAuthenticated, Principal: p}, nil
}

// Start issues a token for a user that has just proved who they are.
func (s *Service) Start(ctx context.Context, p Principal) (string, Session, error) {
	raw, claims, err := s.issuer.Issue(p.UserID, p.Email, p.Role)
	if err != nil {
		return "", anonymous, errutil.Internal("failed to issue token", err)
	}

	p.TokenID = claims.ID
	p.ExpiresAt = claims.Expiry.Time()
	session := Session{State: StateAuthenticated, Principal: &p}

	s.bus.Sessions.Publish(ctx, events.SessionChanged{
		UserID: p.UserID,
		State:  events.SessionAuthenticated,
		At:     s.now(),
	})

	return raw, session, nil
}

// End revokes the session's token until it would have expired anyway.
func (s *Service) End(ctx context.Context, session Session) error {
	if !session.Authenticated() {
		return errutil.Unauthorized("not signed in", nil)
	}

	p := session.Principal
	if err := s.revoked.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return errutil.Internal("failed to revoke token", err)
	}

	logger.FromContext(ctx).Info("session ended", zap.String("user_id", p.UserID))
	s.bus.Sessions.Publish(ctx, events.SessionChanged{
		UserID: p.UserID,
		State:  events.SessionAnonymous,
		At:     s.now(),
	})

	return nil
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
