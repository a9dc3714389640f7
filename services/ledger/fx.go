package ledger

import "go.uber.org/fx"

var Module = fx.Module("ledger.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(registerRoutes),
)

// Worker runs reconciliation jobs and the nightly sweep that schedules them.
var Worker = fx.Module("ledger.worker",
	fx.Provide(NewService, NewScheduler),
	fx.Invoke(registerWorkerHandlers, StartScheduler),
)
