package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"projectapi/docs"
	"projectapi/internal/cache"
	"projectapi/internal/config"
	"projectapi/internal/database"
	"projectapi/internal/database/migration"
	handlers "projectapi/internal/http/handler"
	"projectapi/internal/http/middleware"
	"projectapi/internal/logger"
	"projectapi/internal/otel"
	"projectapi/internal/repository/postgres"
	"projectapi/internal/service"
	"projectapi/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// @title Project API
// @version 1.0.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.L().Error("server stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.L()

	shutdownTracing, err := otel.Init(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := migration.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisCache, err := cache.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer redisCache.Close()

	objStore, err := newStorage(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	userRepo := postgres.NewUserPostgres(db)
	itemRepo := postgres.NewItemPostgres(db)
	authSvc := service.NewAuthService(userRepo, cfg.JWT)
	itemSvc := service.NewItemService(itemRepo, redisCache, objStore, time.Duration(cfg.Redis.TTLSec)*time.Second)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := newApp(cfg, reg, handlers.Deps{
		DB:    db,
		Cache: redisCache,
		Pending: func(ctx context.Context) ([]string, error) {
			return migration.Pending(ctx, db)
		},
		Auth:     authSvc,
		Items:    itemSvc,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", ":"+cfg.Port))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newStorage(ctx context.Context, cfg config.MinIOConfig) (storage.Storage, error) {
	if !cfg.Enabled() {
		logger.L().Warn("object storage disabled; image endpoints will answer 503")
		return storage.Disabled{}, nil
	}
	return storage.NewMinIO(ctx, cfg)
}

func newApp(cfg *config.AppConfig, reg prometheus.Registerer, deps handlers.Deps) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    10 * 1024 * 1024,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	app.Use(recover.New(recover.Config{EnableStackTrace: cfg.Debug}))
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(promMiddleware.Handler())
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics" || c.Path() == "/healthz"
	})))
	app.Use(middleware.AllowedHosts(cfg.AllowedHosts))
	app.Use(cors.New(corsConfig(cfg.CORSAllowedOrigins)))

	handlers.RegisterRoutes(app, deps)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	return app, nil
}

func corsConfig(origins []string) cors.Config {
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	c := cors.Config{
		AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization," + middleware.RequestIDHeader,
		ExposeHeaders: middleware.RequestIDHeader,
	}
	if allowAll {
		c.AllowOrigins = "*"
		return c
	}
	c.AllowOrigins = strings.Join(origins, ",")
	c.AllowCredentials = true
	return c
}
