package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/migration"
	"github.com/mogcia-app/signal/internal/observability"
	"github.com/mogcia-app/signal/internal/scheduler"
	"github.com/mogcia-app/signal/internal/server"
	"github.com/mogcia-app/signal/pkg/db"
	"go.uber.org/fx"
)

// signal runs the API, the change-feed consumer and the scheduler in one
// process for local and single-node deployments.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
