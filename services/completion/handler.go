package completion

import (
	"io"
	"net/http"
	"strconv"

	"taskmarket/pkg/config"
	"taskmarket/pkg/errutil"
	"taskmarket/pkg/httpapi"
	"taskmarket/services/identity"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type Handler struct {
	svc       *Service
	maxUpload int64
}

func NewHandler(svc *Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, maxUpload: cfg.Server.MaxUploadMB << 20}
}

func registerRoutes(r *identity.Router, h *Handler) {
	r.Private.GET("/tasks/:id/completion", h.Mine)
	r.Private.POST("/tasks/:id/complete", h.Submit)
	r.Private.POST("/tasks/completions/:id/review", h.Review)
	r.Private.GET("/completions/:id/image", h.Image)
	r.Private.GET("/my-tasks/:id/completions", h.ListForTask)
}

type submitJSON struct {
	TextProof string `json:"textProof" binding:"max=5000"`
}

type reviewRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected"`
}

func (h *Handler) Submit(c *gin.Context) {
	var in ProofInput

	if c.ContentType() == binding.MIMEJSON {
		var req submitJSON
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.FromBinding(err))
			return
		}
		in.Text = req.TextProof
	} else {
		image, closer, err := httpapi.FormFile(c, "imageProof", h.maxUpload)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if closer != nil {
			defer closer.Close()
		}
		in.Text = c.PostForm("textProof")
		in.Image = image
	}

	out, err := h.svc.Submit(c.Request.Context(), c.Param("id"), identity.Current(c).UserID, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) Review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.FromBinding(err))
		return
	}

	out, err := h.svc.Review(c.Request.Context(), c.Param("id"), identity.Current(c).UserID, Status(req.Status))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Mine(c *gin.Context) {
	out, err := h.svc.ForUser(c.Request.Context(), c.Param("id"), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListForTask(c *gin.Context) {
	rows, err := h.svc.ListForTask(c.Request.Context(), c.Param("id"), identity.Current(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Image(c *gin.Context) {
	body, info, err := h.svc.OpenImage(c.Request.Context(), c.Param("id"), identity.Current(c))
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
