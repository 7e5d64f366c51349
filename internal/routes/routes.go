package routes

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/handlers"
	"github.com/example/baraka-billing/internal/middleware"
	"github.com/example/baraka-billing/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, log *zap.Logger, notifier services.PaymentNotifier) {
	subscriptionService := services.NewSubscriptionService(db, cfg.GrantThresholds, log)
	clickService := services.NewClickService(db, cfg.Click, subscriptionService, notifier, log)
	paymeService := services.NewPaymeService(db, subscriptionService, notifier, log)

	clickHandler := handlers.NewClickHandler(clickService, log)
	paymeHandler := handlers.NewPaymeHandler(paymeService, log)
	subscriptionHandler := handlers.NewSubscriptionHandler(db, cfg, subscriptionService, log)
	paymentsHandler := handlers.NewPaymentsHandler(db)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Gateway webhooks; each protocol authenticates its own way.
	click := api.Group("/click")
	click.Post("/prepare", clickHandler.Prepare)
	click.Post("/complete", clickHandler.Complete)

	payme := api.Group("/payme")
	payme.Post("/pay", middleware.PaymeAuth(cfg.Payme.MerchantKey), paymeHandler.Pay)

	// Internal API, JWT protected.
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	subscriptions := protected.Group("/subscriptions")
	subscriptions.Post("/pay", subscriptionHandler.Pay)
	subscriptions.Get("/status", subscriptionHandler.Status)
	subscriptions.Post("/trial", subscriptionHandler.Trial)

	protected.Get("/payments/transactions", paymentsHandler.ListTransactions)
}
