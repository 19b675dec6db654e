package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/AlexProc13/external-payment/internal/config"
	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/AlexProc13/external-payment/internal/observability/logger"
	"github.com/AlexProc13/external-payment/internal/observability/metrics"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	DB         *gorm.DB
	FinanceSvc financedomain.Service
	Providers  providerdomain.Repository
}

// Server owns the HTTP surface: payment endpoints, provider webhooks and
// operational probes.
type Server struct {
	log        *zap.Logger
	cfg        config.Config
	db         *gorm.DB
	financeSvc financedomain.Service
	providers  providerdomain.Repository
	limiter    *rateLimiter
}

func New(p Params) *Server {
	return &Server{
		log:        p.Log.Named("server"),
		cfg:        p.Cfg,
		db:         p.DB,
		financeSvc: p.FinanceSvc,
		providers:  p.Providers,
		limiter:    newRateLimiter(p.Cfg.WebhookRateLimit, p.Cfg.WebhookRateWindow),
	}
}

// Router assembles the gin engine. Webhook routes skip request logging of
// bodies; payloads land in the invoice response column instead.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(metrics.HTTP()))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.GET("/payments", s.ListPaymentProviders)
		api.POST("/payments/:direction", s.MakePayment)
		api.POST("/payments/:direction/extra", s.PaymentExtraData)
		api.POST("/payments/:direction/webhook/:provider_id", s.PaymentWebhook)
	}

	return engine
}

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(Run),
)

// Run binds the HTTP listener to the fx lifecycle.
func Run(lc fx.Lifecycle, s *Server, log *zap.Logger, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
