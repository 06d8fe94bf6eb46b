package routes

import (
	"automail/config"
	controller "automail/controllers"
	"automail/engine"
	"automail/metrics"
	"automail/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps carries what the HTTP surface needs.
type Deps struct {
	DB       *gorm.DB
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger

	// EnrollRateLimit is requests per tenant per minute; 0 disables the limiter.
	EnrollRateLimit int
	RateLimitStore  fiber.Storage
}

// DepsFromConfig fills the rate limit settings from AppConfig.
func DepsFromConfig(db *gorm.DB, eng *engine.Engine, m *metrics.Metrics) Deps {
	return Deps{
		DB:              db,
		Engine:          eng,
		Metrics:         m,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          logrus.StandardLogger(),
		EnrollRateLimit: config.AppConfig.Sequence.EnrollRateLimit,
		RateLimitStore:  middleware.RateLimitStorage(config.AppConfig.Redis),
	}
}

// SetupPublicRoutes registers the endpoints reachable without a token.
func SetupPublicRoutes(app *fiber.App, deps Deps, sequences *controller.SequenceController) {
	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// One-click unsubscribe posts to the same URL.
	app.Get("/unsubscribe/:id/:token", sequences.Unsubscribe)
	app.Post("/unsubscribe/:id/:token", sequences.Unsubscribe)
}

// SetupAPIRoutes registers the tenant API under /api/v1.
func SetupAPIRoutes(app *fiber.App, deps Deps, sequences *controller.SequenceController) {
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	sequence := api.Group("/sequences")
	if deps.EnrollRateLimit > 0 {
		sequence.Post("/:id/enrollments", middleware.EnrollRateLimiter(deps.EnrollRateLimit, deps.RateLimitStore), sequences.BulkEnroll)
	} else {
		sequence.Post("/:id/enrollments", sequences.BulkEnroll)
	}
	sequence.Get("/:id/stats", sequences.Stats)

	enrollment := api.Group("/enrollments")
	enrollment.Get("/:id", sequences.GetEnrollment)
	enrollment.Post("/:id/cancel", sequences.CancelEnrollment)

	api.Get("/tags", sequences.ListTags)
}

func SetupRoutes(app *fiber.App, deps Deps) {
	if deps.Metrics != nil {
		app.Use(deps.Metrics.Middleware())
	}

	sequences := controller.NewSequenceController(deps.DB, deps.Engine, deps.Logger)
	SetupPublicRoutes(app, deps, sequences)
	SetupAPIRoutes(app, deps, sequences)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	if deps.Logger != nil {
		deps.Logger.Info("Routes initialized successfully")
	}
}
