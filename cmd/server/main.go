package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"chama-engine/internal/adapters/cache"
	"chama-engine/internal/adapters/http/handlers"
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/adapters/http/routes"
	"chama-engine/internal/adapters/notify"
	"chama-engine/internal/adapters/payment"
	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/logger"
	"chama-engine/internal/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	_ "chama-engine/docs" // Swagger docs
)

// @title Chama Engine API
// @version 1.0
// @description Contribution cycles, rotating payouts and guaranteed loans for table-banking groups.

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.AppMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer config.CloseDatabase()

	if err := models.AutoMigrate(db); err != nil {
		zl.Fatal("failed to auto migrate", zap.Error(err))
	}
	zl.Info("database migration completed")

	if err := config.NewSeeder(db, zl).Run(); err != nil {
		zl.Warn("seeding failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	idem, err := cache.New(cfg.Redis, zl)
	if err != nil {
		zl.Fatal("failed to open idempotency store", zap.Error(err))
	}
	defer idem.Close()

	gateway, err := payment.New(cfg.Payment, zl)
	if err != nil {
		zl.Fatal("failed to configure payment gateway", zap.Error(err))
	}

	// Engines
	store := repositories.NewStore(db)
	authz := services.DefaultRolePolicy()
	notifications := services.NewNotificationService(store, zl, notify.Channels(cfg, zl)...)
	dispatcher := services.NewOutboxDispatcher(store, gateway, notifications, cfg.Outbox, zl, m)

	groups := services.NewGroupService(store, authz, zl, m)
	cycles := services.NewCycleService(store, authz, dispatcher, cfg.Policy, zl, m)
	loans := services.NewLoanService(store, authz, dispatcher, cfg.Policy, zl, m)
	meetings := services.NewMeetingService(store, authz, dispatcher, zl, m)
	settlement := services.NewSettlementService(cycles, loans)
	dispatcher.SetSettler(settlement)

	cron := services.NewCronService(cycles, loans, dispatcher, store, authz, cfg.Scheduler, zl)
	if err := cron.Start(); err != nil {
		zl.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer cron.Stop()

	dispatcher.Start()
	defer dispatcher.Stop()

	app := fiber.New(fiber.Config{
		AppName:      "Chama Engine API v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})
	middleware.Setup(app, cfg)
	routes.Setup(app, routes.Deps{
		Config:      cfg,
		Log:         zl,
		Idempotency: idem,
		Gatherer:    reg,
		Dependencies: map[string]handlers.Dependency{
			"database": config.PingDatabase,
			"cache":    idem.Ping,
		},
		Auth:          services.NewAuthService(store.Users, store.RefreshTokens, cfg, zl),
		Users:         services.NewUserService(store.Users, authz, zl),
		Groups:        groups,
		Cycles:        cycles,
		Loans:         loans,
		Meetings:      meetings,
		Settlement:    settlement,
		Notifications: notifications,
		Dashboard:     services.NewDashboardService(store, authz),
		Cron:          cron,
	})

	go gracefulShutdown(app, zl)

	zl.Info("server starting", zap.String("port", cfg.Port), zap.String("mode", cfg.AppMode))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zl.Error("server stopped", zap.Error(err))
	}
}

// gracefulShutdown handles graceful shutdown
func gracefulShutdown(app *fiber.App, zl *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	if err := app.Shutdown(); err != nil {
		zl.Error("error during shutdown", zap.Error(err))
	}
}
