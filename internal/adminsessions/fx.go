package adminsessions

import (
	"github.com/smallbiznis/fintrack/internal/adminsessions/service"
	"go.uber.org/fx"
)

var Module = fx.Module("adminsessions.service",
	fx.Provide(service.New),
)
