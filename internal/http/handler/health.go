package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"projectapi/internal/cache"
	"projectapi/internal/database"
)

const (
	serviceName    = "backend-api"
	serviceVersion = "1.0.0"

	probeTimeout = 2 * time.Second
)

// PendingMigrations reports the names of migration steps not yet applied.
type PendingMigrations func(ctx context.Context) ([]string, error)

var errCacheNotConfigured = errors.New("cache not configured")

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func pingDB(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("database not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return database.Ping(ctx, db)
}

func probeCache(ctx context.Context, c cache.Cache, key string) error {
	if c == nil {
		return errCacheNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return cache.Probe(ctx, c, key)
}

// HealthCheck godoc
// @Summary Basic health check
// @Tags Core
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/health [get]
func HealthCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": timestamp(),
			"service":   serviceName,
			"version":   serviceVersion,
		})
	}
}

// DBHealth godoc
// @Summary Database connectivity
// @Tags Core
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/health/db [get]
func DBHealth(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "connected"
		err := pingDB(c.UserContext(), db)
		if err != nil {
			status = "error"
		}
		return c.JSON(fiber.Map{
			"database":  status,
			"error":     errString(err),
			"timestamp": timestamp(),
		})
	}
}

// CacheHealth godoc
// @Summary Cache connectivity
// @Tags Core
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/health/cache [get]
func CacheHealth(ch cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "connected"
		err := probeCache(c.UserContext(), ch, "health_check")
		if err != nil {
			status = "error"
		}
		return c.JSON(fiber.Map{
			"cache":     status,
			"error":     errString(err),
			"timestamp": timestamp(),
		})
	}
}

// Readiness godoc
// @Summary Readiness probe for load balancers
// @Description Returns 503 when the database, the cache or the schema is not ready.
// @Tags Core
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/health/ready [get]
func Readiness(db *sql.DB, ch cache.Cache, pending PendingMigrations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		checks := map[string]bool{"database": true, "cache": true, "migrations": true}
		errs := map[string]string{}

		if err := pingDB(ctx, db); err != nil {
			checks["database"] = false
			errs["database"] = err.Error()
		}
		if err := probeCache(ctx, ch, "readiness_check"); err != nil {
			checks["cache"] = false
			errs["cache"] = err.Error()
		}
		switch names, err := pending(ctx); {
		case err != nil:
			checks["migrations"] = false
			errs["migrations"] = err.Error()
		case len(names) > 0:
			checks["migrations"] = false
			errs["migrations"] = "Pending migrations detected"
		}

		ready := checks["database"] && checks["cache"] && checks["migrations"]
		body := fiber.Map{
			"ready":     ready,
			"checks":    checks,
			"errors":    nil,
			"timestamp": timestamp(),
		}
		if len(errs) > 0 {
			body["errors"] = errs
		}

		status := fiber.StatusOK
		if !ready {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(body)
	}
}

// LivenessProbe answers 200 while the process is up.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}
