package wallet

import (
	"io"
	"net/http"
	"strconv"

	"taskmarket/pkg/config"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/httpapi"
	"taskmarket/services/identity"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc       *Service
	maxUpload int64
}

func NewHandler(svc *Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, maxUpload: cfg.Server.MaxUploadMB << 20}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Private.GET("/deposits", h.ListDeposits)
	r.Private.POST("/deposits", h.RequestDeposit)
	r.Private.GET("/deposits/:id/receipt", h.Receipt)
	r.Private.GET("/withdrawals", h.ListWithdrawals)
	r.Private.POST("/withdrawals", h.RequestWithdrawal)
}

type depositForm struct {
	Amount      int64  `form:"amount" json:"amount"`
	PaymentName string `form:"paymentName" json:"paymentName"`
}

type withdrawalRequest struct {
	Amount      int64  `json:"amount"`
	Network     string `json:"network"`
	PhoneNumber string `json:"phoneNumber"`
}

func (h *Handler) RequestDeposit(c *gin.Context) {
	var req depositForm
	if err := c.ShouldBind(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	receipt, closer, err := httpapi.FormFile(c, "receipt", h.maxUpload)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	out, err := h.svc.RequestDeposit(c.Request.Context(), identity.Current(c).UserID, DepositInput{
		Amount:      req.Amount,
		PaymentName: req.PaymentName,
		Receipt:     receipt,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	out, err := h.svc.RequestWithdrawal(c.Request.Context(), identity.Current(c).UserID, WithdrawalInput{
		Amount:      req.Amount,
		Network:     req.Network,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListDeposits(c *gin.Context) {
	rows, err := h.svc.DepositsOf(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	rows, err := h.svc.WithdrawalsOf(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Receipt(c *gin.Context) {
	body, info, err := h.svc.OpenReceipt(c.Request.Context(), c.Param("id"), identity.Current(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer body.Close()

	c.Header("Content-Type", info.ContentType)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	c.Header("Cache-Control", "private, max-age=300")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}
