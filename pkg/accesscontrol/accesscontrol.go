package accesscontrol

import (
	"net/http"

	"taskmarket/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol", fx.Provide(NewEnforcer))

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var defaultPolicies = [][]string{
	{RoleAdmin, "/api/admin/*", "(GET)|(POST)"},
}

type Enforcer interface {
	Allowed(role, path, method string) (bool, error)
}

type enforcer struct {
	e *casbin.Enforcer
}

// NewEnforcer loads ACCESS_CONTROL.MODEL / POLICY files when both are configured
// and falls back to the built-in admin policy otherwise.
func NewEnforcer(cfg *config.Config) (Enforcer, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		e, err := casbin.NewEnforcer(ac.Model, ac.Policy)
		if err != nil {
			return nil, err
		}
		zap.L().Info("access control loaded from files", zap.String("model", ac.Model), zap.String("policy", ac.Policy))
		return &enforcer{e: e}, nil
	}

	return NewDefaultEnforcer()
}

func NewDefaultEnforcer() (Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}

	return &enforcer{e: e}, nil
}

func (a *enforcer) Allowed(role, path, method string) (bool, error) {
	return a.e.Enforce(role, path, method)
}

// Require aborts with 403 unless the role returned by roleOf may call the route.
func Require(acl Enforcer, roleOf func(c *gin.Context) string, onDeny func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := acl.Allowed(roleOf(c), c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("access control check failed", zap.Error(err))
		}
		if !ok {
			if onDeny != nil {
				onDeny(c)
				return
			}
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
