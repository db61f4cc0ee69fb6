package signin

import "go.uber.org/fx"

var Module = fx.Module("signin.service",
	fx.Provide(NewService),
)
