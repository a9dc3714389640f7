package identity

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// State is the lifecycle of a request's session. Every request starts in
// StateUnknown and the gate settles it before any handler runs.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Principal is the caller as the database sees it right now. Role and ban
// status are never taken from the token.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	IsBanned  bool
	TokenID   string
	ExpiresAt time.Time
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == "admin"
}

type Session struct {
	State     State
	Principal *Principal
}

func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.Principal != nil
}

var anonymous = Session{State: StateAnonymous}

type sessionKey struct{}

const ginSessionKey = "identity.session"

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Session{State: StateUnknown}
}

// Current returns the authenticated principal of c, nil outside the private routes.
func Current(c *gin.Context) *Principal {
	v, ok := c.Get(ginSessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(Session)
	if !s.Authenticated() {
		return nil
	}
	return s.Principal
}

func bind(c *gin.Context, s Session) {
	c.Set(ginSessionKey, s)
	c.Request = c.Request.WithContext(WithSession(c.Request.Context(), s))
}
