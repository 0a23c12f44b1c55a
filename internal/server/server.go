package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mogcia-app/signal/internal/analytics"
	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	"github.com/mogcia-app/signal/internal/billingcycle"
	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/lock"
	"github.com/mogcia-app/signal/internal/observability"
	obsmiddleware "github.com/mogcia-app/signal/internal/observability/logger"
	obsmetrics "github.com/mogcia-app/signal/internal/observability/metrics"
	obstracing "github.com/mogcia-app/signal/internal/observability/tracing"
	"github.com/mogcia-app/signal/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	lock.Module,
	ratelimit.Module,
	billingcycle.Module,
	kpi.Module,
	analytics.Module,
	analytics.FeedModule,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obsCfg.HTTPTracerName()))
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	analyticsSvc analyticsdomain.Service
	kpiSvc       kpidomain.Service
	billingSvc   billingcycledomain.Service
	ingestLimit  *ratelimit.EventIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	AnalyticsSvc analyticsdomain.Service
	KPISvc       kpidomain.Service
	BillingSvc   billingcycledomain.Service
	IngestLimit  *ratelimit.EventIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		analyticsSvc: p.AnalyticsSvc,
		kpiSvc:       p.KPISvc,
		billingSvc:   p.BillingSvc,
		ingestLimit:  p.IngestLimit,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", OwnerRequired())

	// -------- Analytics events --------
	api.GET("/analytics", s.ListEvents)
	api.POST("/analytics", s.IngestRateLimited(), s.PutEvent)
	api.GET("/analytics/:id", s.GetEvent)
	api.PUT("/analytics/:id", s.IngestRateLimited(), s.UpdateEvent)
	api.DELETE("/analytics/:id", s.IngestRateLimited(), s.DeleteEvent)

	// -------- KPI --------
	api.GET("/kpi/summaries", s.ListSummaries)
	api.GET("/kpi/summaries/:period", s.GetSummary)
	api.GET("/kpi/current", s.GetCurrent)
	api.GET("/kpi/breakdowns/:period", s.GetBreakdowns)
	api.POST("/kpi/rebuilds", s.EnqueueRebuild)
	api.GET("/kpi/rebuilds/:id", s.GetRebuild)

	// -------- Owner profile --------
	api.GET("/owners/profile", s.GetOwnerProfile)
	api.PUT("/owners/profile", s.UpsertOwnerProfile)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
