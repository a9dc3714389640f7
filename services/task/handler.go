package task

import (
	"net/http"

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
	r.Private.GET("/tasks", h.ListAvailable)
	r.Private.POST("/tasks", h.Create)
	r.Private.GET("/tasks/completed", h.CompletedIDs)
	r.Private.GET("/tasks/:id", h.Get)
	r.Private.GET("/my-tasks", h.ListOwned)
}

type createTaskRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
	Link        string `json:"link" binding:"required"`
	TotalSlots  int    `json:"totalSlots" binding:"required"`
	Price       int64  `json:"price" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	t, err := h.svc.Create(c.Request.Context(), identity.Current(c).UserID, CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Link:        req.Link,
		TotalSlots:  req.TotalSlots,
		Price:       req.Price,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListAvailable(c *gin.Context) {
	rows, err := h.svc.ListAvailable(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ListOwned(c *gin.Context) {
	rows, err := h.svc.ListOwned(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) CompletedIDs(c *gin.Context) {
	ids, err := h.svc.CompletedTaskIDs(c.Request.Context(), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ids)
}
