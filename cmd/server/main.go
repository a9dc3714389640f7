package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"taskmarket/pkg/accesscontrol"
	"taskmarket/pkg/config"
	"taskmarket/pkg/db"
	"taskmarket/pkg/featureflags"
	"taskmarket/pkg/hashistack/secretmanager"
	"taskmarket/pkg/health"
	"taskmarket/pkg/httpapi"
	"taskmarket/pkg/logger"
	"taskmarket/pkg/minio"
	"taskmarket/pkg/otelcol"
	"taskmarket/pkg/profiling"
	"taskmarket/pkg/redis"
	"taskmarket/pkg/security"
	"taskmarket/pkg/sequence"
	"taskmarket/pkg/server"
	asynqtask "taskmarket/pkg/task"
	"taskmarket/services/admin"
	"taskmarket/services/bootstrap"
	"taskmarket/services/completion"
	"taskmarket/services/events"
	"taskmarket/services/identity"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/referral"
	"taskmarket/services/task"
	"taskmarket/services/user"
	"taskmarket/services/wallet"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		minio.Client,
		asynqtask.Client,
		sequence.Module,
		security.Module,
		accesscontrol.Module,
		featureflags.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		httpapi.Module,
		events.Module,
		identity.Module,
		user.Module,
		user.Directory,
		notification.Module,
		ledger.Module,
		task.Module,
		completion.Module,
		referral.Module,
		wallet.Module,
		admin.Module,
		bootstrap.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
