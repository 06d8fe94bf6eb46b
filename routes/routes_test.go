package routes

import (
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"automail/config"
	"automail/engine"
	"automail/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "routes.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, config.MigrateDB(db))

	log, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(db, engine.NewLogTransport(log), engine.Options{Logger: log, Metrics: m})

	app := fiber.New()
	SetupRoutes(app, Deps{
		DB:              db,
		Engine:          eng,
		Metrics:         m,
		Gatherer:        reg,
		Logger:          log,
		EnrollRateLimit: 5,
	})
	return app
}

func TestSetupRoutes(t *testing.T) {
	app := setupTestApp(t)

	t.Run("Success - health", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("Success - metrics exposes engine series", func(t *testing.T) {
		_, err := app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)

		resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "http_requests_total")
	})

	t.Run("Error - api requires a token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/tags", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Error - unknown route", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}
