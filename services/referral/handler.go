package referral

import (
	"net/http"

	"taskmarket/services/identity"
	"taskmarket/services/user"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc   *Service
	users *user.Service
}

func NewHandler(svc *Service, users *user.Service) *Handler {
	return &Handler{svc: svc, users: users}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Private.GET("/referrals", h.List)
}

func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	me, err := h.users.Get(ctx, identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	rows, err := h.svc.List(ctx, me.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var total int64
	for _, r := range rows {
		total += r.Bonus
	}
	c.JSON(http.StatusOK, gin.H{
		"referralCode": me.ReferralCode,
		"referrals":    rows,
		"totalBonus":   total,
	})
}
