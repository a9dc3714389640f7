package user

import (
	"net/http"

	"taskmarket/pkg/errutil"
	"taskmarket/services/identity"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc      *Service
	sessions *identity.Service
}

func NewHandler(svc *Service, sessions *identity.Service) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Public.POST("/users", h.Signup)
	r.Public.POST("/auth/login", h.Login)
	r.Private.POST("/auth/logout", h.Logout)
	r.Private.GET("/users/me", h.Me)
}

type signupRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Username     string `json:"username" binding:"omitempty,max=64"`
	Password     string `json:"password" binding:"required,min=8"`
	ReferralCode string `json:"referralCode" binding:"omitempty,max=16"`
	UID          string `json:"uid" binding:"omitempty,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	u, err := h.svc.Signup(c.Request.Context(), SignupInput{
		Email:        req.Email,
		Username:     req.Username,
		Password:     req.Password,
		ReferralCode: req.ReferralCode,
		ExternalUID:  req.UID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondWithSession(c, http.StatusCreated, u)
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	u, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondWithSession(c, http.StatusOK, u)
}

func (h *Handler) respondWithSession(c *gin.Context, status int, u *User) {
	token, _, err := h.sessions.Start(c.Request.Context(), identity.Principal{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		IsBanned: u.IsBanned,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(status, sessionResponse{User: u, Token: token})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.End(c.Request.Context(), identity.FromContext(c.Request.Context())); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}
