package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"automail/config"
	"automail/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJWTSecret(t *testing.T) {
	t.Helper()
	prev := config.AppConfig.JWTSecret
	config.AppConfig.JWTSecret = "test-secret"
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })
}

func TestProtected(t *testing.T) {
	setupJWTSecret(t)

	app := fiber.New()
	app.Get("/me", Protected(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c)})
	})

	valid, err := utils.GenerateJWTToken(42, time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateJWTToken(42, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		cookie string
		status int
	}{
		{"Success - bearer token", "Bearer " + valid, "", fiber.StatusOK},
		{"Success - cookie", "", valid, fiber.StatusOK},
		{"Error - missing", "", "", fiber.StatusUnauthorized},
		{"Error - malformed header", "Token " + valid, "", fiber.StatusUnauthorized},
		{"Error - expired", "Bearer " + expired, "", fiber.StatusUnauthorized},
		{"Error - garbage", "Bearer not-a-jwt", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", "access_token="+tt.cookie)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestEnrollRateLimiter(t *testing.T) {
	newApp := func(storage fiber.Storage) *fiber.App {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			c.Locals(UserIDKey, uint(7))
			return c.Next()
		})
		app.Post("/enroll", EnrollRateLimiter(2, storage), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusAccepted)
		})
		return app
	}

	hit := func(t *testing.T, app *fiber.App) int {
		resp, err := app.Test(httptest.NewRequest("POST", "/enroll", nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	t.Run("Success - in-memory counters", func(t *testing.T) {
		app := newApp(nil)
		assert.Equal(t, fiber.StatusAccepted, hit(t, app))
		assert.Equal(t, fiber.StatusAccepted, hit(t, app))
		assert.Equal(t, fiber.StatusTooManyRequests, hit(t, app))
	})

	t.Run("Success - counters shared through redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.RedisConfig{Enabled: true, Address: mr.Addr()}

		first := RateLimitStorage(cfg)
		require.NotNil(t, first)
		second := NewRedisStorage(cfg)
		t.Cleanup(func() {
			_ = first.Close()
			_ = second.Close()
		})

		// two instances, one budget
		assert.Equal(t, fiber.StatusAccepted, hit(t, newApp(first)))
		assert.Equal(t, fiber.StatusAccepted, hit(t, newApp(second)))
		assert.Equal(t, fiber.StatusTooManyRequests, hit(t, newApp(first)))
		assert.True(t, mr.Exists("ratelimit:enroll:7"))
	})

	t.Run("Success - disabled redis falls back to memory", func(t *testing.T) {
		assert.Nil(t, RateLimitStorage(config.RedisConfig{Enabled: false}))
	})
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStorage(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { _ = s.Close() })

	val, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("k", []byte("v"), time.Minute))
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Delete("k"))
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("a", []byte("1"), 0))
	require.NoError(t, s.Reset())
	assert.Empty(t, mr.Keys())
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(DefaultCORSConfig("https://app.acme.test")))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	t.Run("Success - allowed origin echoed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://app.acme.test")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, "https://app.acme.test", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})

	t.Run("Error - unknown origin gets no grant", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.test")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("Success - preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "https://app.acme.test")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	})
}
