package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(provideCatalogHolder),
)

func provideCatalogHolder(cfg Config) (*CatalogHolder, error) {
	return NewCatalogHolder(cfg.CatalogPath)
}
