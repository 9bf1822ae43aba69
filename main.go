package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/config"
	"voltcrm/middleware"
	"voltcrm/routes"
	"voltcrm/store"
	"voltcrm/utils"
	"voltcrm/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize sentry: %v", err)
		}
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	s := store.NewStore(config.DB)
	notifier := utils.NewNotifier(config.AppConfig.Redis)
	defer notifier.Close()

	mailer := utils.NewSMTPMailer(config.AppConfig.SMTP)
	generator := utils.NewHTTPGenerator(config.AppConfig.GenerationURL, config.AppConfig.GenerationAPIKey)

	workerCfg := config.AppConfig.Worker
	activationWorker := worker.NewActivationWorker(s, notifier, logger, workerCfg)
	generatorWorker := worker.NewGeneratorWorker(s, generator, notifier, logger, workerCfg)
	dispatcherWorker := worker.NewDispatcherWorker(s, mailer, notifier, logger, workerCfg)
	replyWorker := worker.NewReplyWorker(s, notifier, logger, config.AppConfig.IMAP, workerCfg.ReplyInterval)
	backfill := worker.NewBackfill(s, notifier, logger, workerCfg.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go activationWorker.Start(ctx)
	go generatorWorker.Start(ctx)
	go dispatcherWorker.Start(ctx)
	go replyWorker.Start(ctx)

	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		Store:      s,
		Notifier:   notifier,
		Logger:     logger,
		Activation: activationWorker,
		Generator:  generatorWorker,
		Dispatcher: dispatcherWorker,
		Reply:      replyWorker,
		Backfill:   backfill,
		Cfg:        workerCfg,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Shut the workers down cleanly on SIGINT/SIGTERM before the server
	// exits, so no claim is abandoned mid-batch.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutdown signal received")
		cancel()
		_ = app.Shutdown()
	}()

	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
