package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"projectapi/internal/cache"
	"projectapi/internal/http/middleware"
	"projectapi/internal/service"
)

// Deps are the collaborators the HTTP routes need.
type Deps struct {
	DB      *sql.DB
	Cache   cache.Cache
	Pending PendingMigrations
	Auth    service.AuthService
	Items   service.ItemService
	// Gatherer backs /metrics; nil skips the endpoint.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", LivenessProbe())
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	health := api.Group("/health")
	health.Get("/", HealthCheck())
	health.Get("/db", DBHealth(d.DB))
	health.Get("/cache", CacheHealth(d.Cache))
	health.Get("/ready", Readiness(d.DB, d.Cache, d.Pending))

	requireAuth := middleware.RequireAuth(d.Auth)

	auth := api.Group("/auth")
	auth.Post("/register", Register(d.Auth))
	auth.Post("/login", Login(d.Auth))
	auth.Get("/me", requireAuth, CurrentUser())

	users := api.Group("/users", requireAuth)
	users.Get("/profile", CurrentUser())
	users.Patch("/profile", UpdateProfile(d.Auth))

	items := api.Group("/items")
	items.Get("/", ListItems(d.Items))
	items.Post("/", requireAuth, CreateItem(d.Items))
	items.Get("/:id", GetItem(d.Items))
	items.Put("/:id", requireAuth, ReplaceItem(d.Items))
	items.Patch("/:id", requireAuth, PatchItem(d.Items))
	items.Delete("/:id", requireAuth, DeleteItem(d.Items))
	items.Get("/:id/image", ItemImage(d.Items))
	items.Put("/:id/image", requireAuth, UploadItemImage(d.Items))
}
