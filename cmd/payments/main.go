package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/AlexProc13/external-payment/internal/audit"
	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/config"
	"github.com/AlexProc13/external-payment/internal/events"
	"github.com/AlexProc13/external-payment/internal/finance"
	"github.com/AlexProc13/external-payment/internal/migration"
	"github.com/AlexProc13/external-payment/internal/observability/logger"
	"github.com/AlexProc13/external-payment/internal/observability/tracing"
	"github.com/AlexProc13/external-payment/internal/provider"
	"github.com/AlexProc13/external-payment/internal/seed"
	"github.com/AlexProc13/external-payment/internal/server"
	"github.com/AlexProc13/external-payment/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Provide(events.NewOutbox),
		fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
			_, err := tracing.NewProvider(lc, tracing.Config{
				Enabled:          cfg.TracingEnabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.ServiceVersion,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.TracingEndpoint,
				ExporterProtocol: cfg.TracingProtocol,
				SamplingRatio:    cfg.TracingSampling,
			}, log)
			return err
		}),
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if err := seed.EnsureProviders(conn); err != nil {
				return err
			}
			if !cfg.IsProduction() {
				return seed.EnsureDemoUser(conn)
			}
			return nil
		}),
		provider.Module,
		audit.Module,
		finance.Module,
		server.Module,
	)
	app.Run()
}
