package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/middleware"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

// SubscriptionHandler owns the internal payment-link and subscription API.
// This is the only place merchant orders are created.
type SubscriptionHandler struct {
	db   *gorm.DB
	cfg  *config.Config
	subs *services.SubscriptionService
	log  *zap.Logger
}

func NewSubscriptionHandler(db *gorm.DB, cfg *config.Config, subs *services.SubscriptionService, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{db: db, cfg: cfg, subs: subs, log: log}
}

type paymentLinkRequest struct {
	PlanID   string `json:"plan_id"`
	Provider string `json:"provider"`
}

type paymentLinkResponse struct {
	URL     string `json:"url"`
	OrderID string `json:"order_id"`
}

// Pay creates an open merchant order for the chosen plan and returns the
// gateway checkout URL.
func (h *SubscriptionHandler) Pay(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	var req paymentLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	plan, ok := h.cfg.PlanByID(req.PlanID)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid plan")
	}

	gateway := req.Provider
	if gateway == "" {
		gateway = models.GatewayClick
	}
	if gateway != models.GatewayClick && gateway != models.GatewayPayme {
		return fiber.NewError(fiber.StatusBadRequest, "invalid provider")
	}

	// One open order per user and gateway. Stale orders are replaced, and an
	// order is stale unless a pending transaction holds it; terminal
	// transactions (cancelled, errored) release the order for a new link.
	if err := h.db.
		Where("user_id = ? AND gateway = ? AND status = ?", userID, gateway, models.OrderStatusOpen).
		Where("NOT EXISTS (SELECT 1 FROM merchant_transactions WHERE merchant_transactions.order_id = merchant_orders.id AND merchant_transactions.state = ?)", models.TxStateCreated).
		Delete(&models.MerchantOrder{}).Error; err != nil {
		return err
	}

	details, _ := json.Marshal(fiber.Map{"plan_id": plan.ID, "tier": plan.Tier, "months": plan.Months})
	order := models.MerchantOrder{
		UserID:   userID,
		Amount:   plan.Amount,
		Currency: "UZS",
		Gateway:  gateway,
		Status:   models.OrderStatusOpen,
		PlanID:   plan.ID,
		Details:  details,
	}
	if err := h.db.Create(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fiber.NewError(fiber.StatusConflict, "a payment for this provider is already pending")
		}
		return err
	}

	var url string
	switch gateway {
	case models.GatewayClick:
		url = fmt.Sprintf(
			"https://my.click.uz/services/pay?service_id=%s&merchant_id=%s&amount=%s&transaction_param=%s",
			h.cfg.Click.ServiceID, h.cfg.Click.MerchantID, plan.Amount.StringFixed(2), order.ID.String())
	case models.GatewayPayme:
		payload := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d",
			h.cfg.Payme.MerchantID, order.ID.String(), services.UZSToTiyin(plan.Amount))
		url = "https://checkout.payme.uz/" + base64.StdEncoding.EncodeToString([]byte(payload))
	}

	return c.JSON(paymentLinkResponse{URL: url, OrderID: order.ID.String()})
}

// Status returns the caller's subscription window.
func (h *SubscriptionHandler) Status(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	user, err := h.subs.Status(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"subscription_type":    user.SubscriptionType,
		"subscription_ends_at": user.SubscriptionEndsAt,
		"is_active":            user.HasActiveSubscription(time.Now()),
		"is_premium":           user.IsPremium,
		"is_trial_used":        user.IsTrialUsed,
	})
}

// Trial activates the one-off 3-day trial.
func (h *SubscriptionHandler) Trial(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	user, err := h.subs.ActivateTrial(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, services.ErrTrialUsed) {
			return fiber.NewError(fiber.StatusBadRequest, "trial already used")
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"message": "trial activated",
		"ends_at": user.SubscriptionEndsAt,
	})
}
