package admin

import (
	"net/http"

	"taskmarket/pkg/errutil"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Admin.GET("/stats", h.Stats)
	r.Admin.GET("/deposits", h.Deposits)
	r.Admin.POST("/deposits/:id/approve", h.ApproveDeposit)
	r.Admin.POST("/deposits/:id/reject", h.RejectDeposit)
	r.Admin.GET("/withdrawals", h.Withdrawals)
	r.Admin.POST("/withdrawals/:id/complete", h.CompleteWithdrawal)
	r.Admin.GET("/users/:id", h.GetUser)
	r.Admin.POST("/users/:id/ban", h.Ban)
	r.Admin.POST("/users/:id/unban", h.Unban)
	r.Admin.POST("/users/:id/add-balance", h.AddBalance)
}

type addBalanceRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Type   string `json:"type" binding:"required,oneof=deposit withdrawal"`
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Deposits(c *gin.Context) {
	rows, err := h.svc.PendingDeposits(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Withdrawals(c *gin.Context) {
	rows, err := h.svc.PendingWithdrawals(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) ApproveDeposit(c *gin.Context) {
	out, err := h.svc.ApproveDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) RejectDeposit(c *gin.Context) {
	out, err := h.svc.RejectDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	out, err := h.svc.CompleteWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.svc.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Ban(c *gin.Context) {
	u, err := h.svc.Ban(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Unban(c *gin.Context) {
	u, err := h.svc.Unban(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) AddBalance(c *gin.Context) {
	var req addBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	u, err := h.svc.AddBalance(c.Request.Context(), identity.Current(c).UserID, c.Param("id"), req.Amount, ledger.Type(req.Type))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}
