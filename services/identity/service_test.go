package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskmarket/pkg/accesscontrol"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/middleware"
	"taskmarket/pkg/security"
	"taskmarket/services/events"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type lookupMock struct {
	users map[string]*Principal
}

func (m *lookupMock) LookupPrincipal(_ context.Context, userID string) (*Principal, error) {
	p, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type memoryRevocations struct {
	revoked map[string]time.Time
}

func (m *memoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.revoked[tokenID] = until
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := m.revoked[tokenID]
	return ok, nil
}

func newTestService(t *testing.T, users map[string]*Principal) (*Service, *events.Bus) {
	t.Helper()

	issuer, err := security.NewHMACIssuer([]byte("0123456789abcdef0123456789abcdef"), "taskmarket", time.Hour)
	require.NoError(t, err)

	bus := events.NewBus()
	svc := NewService(ServiceParams{
		Issuer:  issuer,
		Users:   &lookupMock{users: users},
		Revoked: &memoryRevocations{revoked: map[string]time.Time{}},
		Bus:     bus,
	})
	return svc, bus
}

func TestAuthenticateWithoutHeaderIsAnonymous(t *testing.T) {
	svc, _ := newTestService(t, nil)

	session, err := svc.Authenticate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, StateAnonymous, session.State)
	require.False(t, session.Authenticated())
}

func TestStartAndAuthenticate(t *testing.T) {
	svc, bus := newTestService(t, map[string]*Principal{
		"u1": {UserID: "u1", Email: "a@example.com", Role: "user"},
	})

	var seen []events.SessionChanged
	bus.Sessions.Subscribe(func(_ context.Context, e events.SessionChanged) error {
		seen = append(seen, e)
		return nil
	})

	token, session, err := svc.Start(context.Background(), Principal{UserID: "u1", Email: "a@example.com", Role: "user"})
	require.NoError(t, err)
	require.True(t, session.Authenticated())
	require.Len(t, seen, 1)
	require.Equal(t, events.SessionAuthenticated, seen[0].State)

	got, err := svc.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, got.State)
	require.Equal(t, "u1", got.Principal.UserID)
	require.Equal(t, session.Principal.TokenID, got.Principal.TokenID)
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	svc, _ := newTestService(t, map[string]*Principal{})

	token, _, err := svc.Start(context.Background(), Principal{UserID: "ghost", Role: "user"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "Bearer "+token)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Authenticate(context.Background(), "Bearer not-a-jwt")
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestEndRevokesToken(t *testing.T) {
	svc, bus := newTestService(t, map[string]*Principal{
		"u1": {UserID: "u1", Role: "user"},
	})

	var states []string
	bus.Sessions.Subscribe(func(_ context.Context, e events.SessionChanged) error {
		states = append(states, e.State)
		return nil
	})

	token, session, err := svc.Start(context.Background(), Principal{UserID: "u1", Role: "user"})
	require.NoError(t, err)
	require.NoError(t, svc.End(context.Background(), session))

	_, err = svc.Authenticate(context.Background(), "Bearer "+token)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
	require.Equal(t, []string{events.SessionAuthenticated, events.SessionAnonymous}, states)
}

func TestEndRequiresSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	err := svc.End(context.Background(), Session{State: StateAnonymous})
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestRouterGates(t *testing.T) {
	users := map[string]*Principal{
		"user":   {UserID: "user", Role: "user"},
		"banned": {UserID: "banned", Role: "user", IsBanned: true},
		"admin":  {UserID: "admin", Role: "admin"},
	}
	svc, _ := newTestService(t, users)
	acl, err := accesscontrol.NewDefaultEnforcer()
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(middleware.Error())
	router := NewRouter(engine, svc, acl)
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.Private.GET("/me", ok)
	router.Private.POST("/tasks", ok)
	router.Private.POST("/auth/logout", ok)
	router.Admin.GET("/stats", ok)

	tokens := map[string]string{}
	for id, p := range users {
		tok, _, err := svc.Start(context.Background(), *p)
		require.NoError(t, err)
		tokens[id] = tok
	}

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		status int
	}{
		{"no token", http.MethodGet, "/api/me", "", http.StatusUnauthorized},
		{"user read", http.MethodGet, "/api/me", "user", http.StatusNoContent},
		{"user write", http.MethodPost, "/api/tasks", "user", http.StatusNoContent},
		{"banned read", http.MethodGet, "/api/me", "banned", http.StatusNoContent},
		{"banned write", http.MethodPost, "/api/tasks", "banned", http.StatusForbidden},
		{"banned logout", http.MethodPost, "/api/auth/logout", "banned", http.StatusNoContent},
		{"user admin", http.MethodGet, "/api/admin/stats", "user", http.StatusForbidden},
		{"admin admin", http.MethodGet, "/api/admin/stats", "admin", http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.user != "" {
				req.Header.Set("Authorization", "Bearer "+tokens[tc.user])
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}
