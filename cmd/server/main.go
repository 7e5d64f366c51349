package main

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/database"
	"github.com/example/baraka-billing/internal/jobs"
	"github.com/example/baraka-billing/internal/logger"
	"github.com/example/baraka-billing/internal/routes"
	"github.com/example/baraka-billing/internal/services"
)

func main() {
	cfg := config.Load()

	log := logger.New("baraka-billing")
	defer func() { _ = log.Sync() }()

	db := database.Connect(cfg.DatabaseURL)

	// The notification queue is optional: without redis the service still
	// reconciles payments, it only skips the best-effort messages.
	var notifier services.PaymentNotifier
	if cfg.RedisAddr != "" {
		rdb, err := database.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, payment notifications disabled", zap.Error(err))
		} else {
			redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}

			client := jobs.NewClient(redisOpt)
			defer func() { _ = client.Close() }()
			notifier = client

			telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)
			processor := jobs.NewNotificationProcessor(db, rdb, telegram, log)
			srv := jobs.NewServer(redisOpt)
			go func() {
				if err := srv.Run(jobs.Mux(processor)); err != nil {
					log.Error("notification worker stopped", zap.Error(err))
				}
			}()
		}
	}

	app := fiber.New(fiber.Config{
		AppName: "Baraka Billing",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	routes.Register(app, db, cfg, log, notifier)

	log.Info("starting server", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal("fiber listen error", zap.Error(err))
	}
}
