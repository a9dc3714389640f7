package admin

import "go.uber.org/fx"

var Module = fx.Module("admin.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(registerRoutes, subscribe),
)
