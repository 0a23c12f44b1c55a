package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/analytics/repository"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/reconcile"
	"github.com/mogcia-app/signal/internal/observability"
	"github.com/mogcia-app/signal/pkg/db"
	"go.uber.org/fx"
)

// runBackfill wires the reconciler against the configured database and runs
// it once.
func runBackfill(ctx context.Context, opts options) (kpidomain.ReconcileResult, error) {
	var rec *reconcile.Reconciler
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		fx.Provide(repository.Provide, repository.ProvideReader),
		fx.Provide(reconcile.New),
		fx.Populate(&rec),
	)
	if err := app.Start(ctx); err != nil {
		return kpidomain.ReconcileResult{}, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return rec.Run(ctx, kpidomain.ReconcileOptions{
		DryRun:    opts.DryRun,
		PeriodKey: opts.Period,
		OwnerID:   opts.Owner,
		BatchSize: opts.BatchSize,
	})
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
