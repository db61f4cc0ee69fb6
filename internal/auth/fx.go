package auth

import (
	"github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/auth/repository"
	"github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(provideSettings),
	fx.Provide(service.New),
)

func provideSettings(cfg config.Config) domain.Settings {
	return domain.Settings{
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		SessionTTL:     cfg.Auth.SessionTTL,
		LinkTTL:        cfg.Auth.LinkTTL,
	}
}
