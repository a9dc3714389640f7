package notification

import (
	"net/http"

	"taskmarket/services/identity"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Private.GET("/notifications", h.List)
	r.Private.POST("/notifications/read-all", h.MarkAllRead)
}

func (h *Handler) List(c *gin.Context) {
	p := identity.Current(c)
	rows, err := h.svc.List(c.Request.Context(), p.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	p := identity.Current(c)
	n, err := h.svc.MarkAllRead(c.Request.Context(), p.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
