package wallet

import "go.uber.org/fx"

var Module = fx.Module("wallet.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(registerRoutes),
)
