package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/migration"
	"github.com/mogcia-app/signal/internal/observability"
	"github.com/mogcia-app/signal/internal/server"
	"github.com/mogcia-app/signal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// HTTP API, live updater and change-feed consumer.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
