package user

import (
	"taskmarket/services/events"
	"taskmarket/services/identity"

	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(
		NewService,
		NewHandler,
		func(s *Service) identity.UserLookup { return s },
	),
	fx.Invoke(registerRoutes, subscribe),
)

// Directory exposes the admin list to processes that do not serve the API.
var Directory = fx.Module("user.directory",
	fx.Provide(NewDirectory),
)

func subscribe(bus *events.Bus, s *Service) {
	bus.Sessions.Subscribe(s.touch)
}
