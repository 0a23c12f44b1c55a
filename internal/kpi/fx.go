package kpi

import (
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/live"
	"github.com/mogcia-app/signal/internal/kpi/reconcile"
	"github.com/mogcia-app/signal/internal/kpi/service"
	"go.uber.org/fx"
)

var Module = fx.Module("kpi.service",
	fx.Provide(
		live.New,
		fx.Annotate(
			func(u *live.Updater) *live.Updater { return u },
			fx.As(new(domain.LiveUpdater)),
		),
	),
	fx.Provide(
		reconcile.New,
		fx.Annotate(
			func(r *reconcile.Reconciler) *reconcile.Reconciler { return r },
			fx.As(new(domain.Reconciler)),
		),
	),
	fx.Provide(service.NewService),
)
