package profile

import (
	"github.com/smallbiznis/fintrack/internal/profile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profile.service",
	fx.Provide(service.New),
)
