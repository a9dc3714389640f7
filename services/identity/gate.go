package identity

import (
	"net/http"

	"taskmarket/pkg/accesscontrol"
	"taskmarket/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Router groups the API by who may reach it.
type Router struct {
	Public  *gin.RouterGroup
	Private *gin.RouterGroup
	Admin   *gin.RouterGroup
}

func NewRouter(engine *gin.Engine, svc *Service, acl accesscontrol.Enforcer) *Router {
	api := engine.Group("/api")
	private := api.Group("", Authenticate(svc), RejectBanned())
	admin := private.Group("/admin", accesscontrol.Require(acl, roleOf, func(c *gin.Context) {
		_ = c.Error(errutil.Forbidden("admin access required", nil))
		c.Abort()
	}))

	return &Router{Public: api, Private: private, Admin: admin}
}

// Authenticate settles the session and rejects anything but an authenticated one.
func Authenticate(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bind(c, Session{State: StateUnknown})

		session, err := svc.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		bind(c, session)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		if !session.Authenticated() {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}

// RejectBanned blocks state-changing requests from banned users. Signing out
// stays possible.
func RejectBanned() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Current(c)
		if p == nil || !p.IsBanned || !mutating(c.Request.Method) || c.FullPath() == "/api/auth/logout" {
			c.Next()
			return
		}

		_ = c.Error(errutil.Forbidden("account is banned", nil))
		c.Abort()
	}
}

func roleOf(c *gin.Context) string {
	if p := Current(c); p != nil {
		return p.Role
	}
	return ""
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
