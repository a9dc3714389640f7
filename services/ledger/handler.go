package ledger

import (
	"net/http"

	"taskmarket/pkg/db/pagination"
	"taskmarket/pkg/errutil"
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
	r.Private.GET("/transactions", h.List)
	r.Admin.GET("/users/:id/reconcile", h.Reconcile)
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	rows, info, err := h.svc.List(c.Request.Context(), identity.Current(c).UserID, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *Handler) Reconcile(c *gin.Context) {
	r, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliation": r, "balanced": r.Balanced()})
}
