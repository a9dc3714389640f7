package httpapi

import (
	"time"

	"taskmarket/pkg/config"
	"taskmarket/pkg/health"
	"taskmarket/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoint),
)

type EngineParams struct {
	fx.In
	Config *config.Config
	Tracer trace.TracerProvider `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	cfg := p.Config
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.MaxMultipartMemory = cfg.Server.MaxUploadMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowOrigins
	} else {
		corsCfg.AllowOriginFunc = func(origin string) bool { return true }
	}

	engine.Use(gin.Recovery(), cors.New(corsCfg))
	if p.Tracer != nil {
		engine.Use(middleware.Tracing(p.Tracer))
	}
	engine.Use(middleware.AccessLog(), middleware.Error())

	return engine
}

func registerHealthEndpoint(engine *gin.Engine, h health.HealthService) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
}
