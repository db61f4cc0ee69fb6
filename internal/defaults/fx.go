package defaults

import (
	"github.com/smallbiznis/fintrack/internal/defaults/domain"
	"github.com/smallbiznis/fintrack/internal/defaults/service"
	"go.uber.org/fx"
)

var Module = fx.Module("defaults.service",
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
