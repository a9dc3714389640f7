package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
	minio *minio.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Minio *minio.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
		minio: p.Minio,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  "healthy",
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	this := &Health{
		Status:  "healthy",
		Message: "OK",
	}

	check := func(name string, fn func() error) {
		dep := Dependency{Name: name, Status: "healthy", Message: "OK"}
		if err := fn(); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
			this.Status = "unhealthy"
			this.Message = "dependency unavailable"
		}
		this.Deps = append(this.Deps, dep)
	}

	if h.db != nil {
		check(h.db.Name(), func() error {
			sql, err := h.db.DB()
			if err != nil {
				return err
			}
			return sql.PingContext(ctx)
		})
	}

	if h.redis != nil {
		check("redis", func() error {
			return h.redis.Ping(ctx).Err()
		})
	}

	if h.minio != nil {
		check("minio", func() error {
			_, err := h.minio.ListBuckets(ctx)
			return err
		})
	}

	code := http.StatusOK
	if this.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, this)
}
