package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/analytics"
	"github.com/mogcia-app/signal/internal/billingcycle"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi"
	"github.com/mogcia-app/signal/internal/lock"
	"github.com/mogcia-app/signal/internal/observability"
	"github.com/mogcia-app/signal/internal/scheduler"
	"github.com/mogcia-app/signal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Reconciler and its event source.
		analytics.Module,
		billingcycle.Module,
		kpi.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
