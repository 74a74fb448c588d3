package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/observability"
	obsmiddleware "github.com/smallbiznis/paysync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paysync/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	"github.com/smallbiznis/paysync/internal/payment/ledger"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	"github.com/smallbiznis/paysync/internal/status"
	"github.com/smallbiznis/paysync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type statusReader interface {
	GetStatus(ctx context.Context, subscriptionID string) (status.PaymentStatus, error)
}

type eventLister interface {
	ListBySubscription(ctx context.Context, subscriptionID string, page pagination.Pagination) ([]paymentdomain.EventRecord, pagination.PageInfo, error)
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	reconcileSvc reconciledomain.Service
	statusSvc    statusReader
	events       eventLister
	limiter      *ratelimit.EndpointLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	ReconcileSvc reconciledomain.Service
	StatusSvc    *status.Service
	Ledger       *ledger.Ledger
	Limiter      *ratelimit.EndpointLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		reconcileSvc: p.ReconcileSvc,
		statusSvc:    p.StatusSvc,
		events:       p.Ledger,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerStatusRoutes()
	svc.registerSubscriptionRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider",
		s.EndpointRateLimit(rateLimitEndpointWebhook, providerKey),
		s.HandlePaymentWebhook,
	)
}

func (s *Server) registerStatusRoutes() {
	s.engine.GET("/status/:subscription_id",
		s.EndpointRateLimit(rateLimitEndpointStatus, clientKey),
		s.GetPaymentStatus,
	)
}

func (s *Server) registerSubscriptionRoutes() {
	subs := s.engine.Group("/subscriptions")

	subs.POST("", s.Checkout)
	subs.POST("/reactivate", s.Reactivate)
	subs.POST("/:subscription_id/cancel", s.CancelSubscription)
	subs.POST("/:subscription_id/pix", s.RegeneratePix)
	subs.GET("/:subscription_id/events", s.ListSubscriptionEvents)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
