package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.service",
	fx.Provide(NewService, NewHandler, NewFanout),
	fx.Invoke(registerRoutes, subscribeFanout),
)

// Worker runs the admin fan-out consumer.
var Worker = fx.Module("notification.worker",
	fx.Provide(NewService),
	fx.Invoke(registerWorkerHandlers),
)
