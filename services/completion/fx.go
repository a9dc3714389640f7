package completion

import "go.uber.org/fx"

var Module = fx.Module("completion.service",
	fx.Provide(NewService, NewHandler, NewIndex),
	fx.Invoke(registerRoutes),
)
