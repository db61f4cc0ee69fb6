package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fintrack/internal/clock"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/migration"
	"github.com/smallbiznis/fintrack/internal/observability"
	"github.com/smallbiznis/fintrack/internal/scheduler"
	"github.com/smallbiznis/fintrack/internal/server"
	"github.com/smallbiznis/fintrack/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
		migration.Module,
		scheduler.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
