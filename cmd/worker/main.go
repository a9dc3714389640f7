package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"taskmarket/pkg/config"
	"taskmarket/pkg/db"
	"taskmarket/pkg/hashistack/secretmanager"
	"taskmarket/pkg/logger"
	asynqtask "taskmarket/pkg/task"
	"taskmarket/services/ledger"
	"taskmarket/services/notification"
	"taskmarket/services/user"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		asynqtask.Client,
		asynqtask.Server,
		fx.Provide(
			provideSnowflakeNode,
		),
		user.Directory,
		notification.Worker,
		ledger.Worker,
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

// The API runs node 1.
func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
