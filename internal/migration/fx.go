package migration

import (
	"context"

	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, seeder *seed.Seeder, catalog *config.CatalogHolder, log *zap.Logger) error {
		if err := Migrate(conn); err != nil {
			return err
		}
		log.Info("schema up to date", zap.String("dialect", conn.Dialector.Name()))

		ctx := context.Background()
		if err := seeder.EnsureCatalog(ctx, catalog.Get()); err != nil {
			return err
		}
		return seeder.EnsureAdmin(ctx)
	}),
)
