package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/utils"
)

// PaymentsHandler exposes read-only transaction history for operators.
type PaymentsHandler struct {
	db *gorm.DB
}

func NewPaymentsHandler(db *gorm.DB) *PaymentsHandler {
	return &PaymentsHandler{db: db}
}

// ListTransactions returns ledger rows, optionally filtered.
func (h *PaymentsHandler) ListTransactions(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.MerchantTransaction{})

	if gateway := strings.TrimSpace(c.Query("gateway")); gateway != "" {
		query = query.Where("gateway = ?", gateway)
	}
	if state := strings.TrimSpace(c.Query("state")); state != "" {
		code, err := strconv.Atoi(state)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid state")
		}
		query = query.Where("state = ?", code)
	}
	if orderID := strings.TrimSpace(c.Query("order_id")); orderID != "" {
		parsed, err := uuid.Parse(orderID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
		}
		query = query.Where("order_id = ?", parsed)
	}
	if externalID := strings.TrimSpace(c.Query("external_id")); externalID != "" {
		query = query.Where("external_id = ?", externalID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var txns []models.MerchantTransaction
	if err := query.
		Order("created_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&txns).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txns,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}
