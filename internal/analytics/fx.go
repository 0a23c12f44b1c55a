package analytics

import (
	"github.com/mogcia-app/signal/internal/analytics/feed"
	"github.com/mogcia-app/signal/internal/analytics/repository"
	"github.com/mogcia-app/signal/internal/analytics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideReader),
	fx.Provide(service.NewService),
)

// FeedModule consumes the upstream change feed. It is a no-op when Kafka is
// not configured.
var FeedModule = fx.Module("analytics.feed",
	fx.Provide(feed.NewConsumer),
	fx.Invoke(feed.Register),
)
