package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"automail/config"
	"automail/engine"
	"automail/metrics"
	"automail/middleware"
	"automail/routes"
	"automail/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(config.AppConfig.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	m := metrics.New(nil)
	transport, err := engine.NewTransport(config.AppConfig.MailTransport, config.AppConfig.SendGridAPIKey, logger)
	if err != nil {
		logger.Fatalf("Failed to create mail transport: %v", err)
	}

	opts := engine.OptionsFromConfig(config.AppConfig.Sequence)
	opts.Logger = logger
	opts.Metrics = m
	eng := engine.New(config.DB, transport, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sequenceWorker := worker.NewSequenceWorker(config.DB, eng, m, config.AppConfig.Sequence, logger.WithField("component", "sequence_worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := sequenceWorker.Start(ctx); err != nil {
			logger.WithError(err).Error("Sequence worker stopped")
			stop()
		}
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(middleware.CORS())
	routes.SetupRoutes(app, routes.DepsFromConfig(config.DB, eng, m))

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	<-workerDone
	logger.Info("Shutdown complete")
}
