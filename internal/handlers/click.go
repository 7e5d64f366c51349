package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/baraka-billing/internal/metrics"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

// ClickHandler exposes the two Click.uz form-encoded callbacks.
type ClickHandler struct {
	click *services.ClickService
	log   *zap.Logger
}

func NewClickHandler(click *services.ClickService, log *zap.Logger) *ClickHandler {
	return &ClickHandler{click: click, log: log}
}

// Prepare handles the Action=0 callback.
func (h *ClickHandler) Prepare(c *fiber.Ctx) error {
	req := parseClickForm(c)

	resp, err := h.click.Prepare(c.UserContext(), req)
	if err != nil {
		h.log.Error("click prepare failure",
			zap.String("click_trans_id", req.ClickTransID),
			zap.Error(err))
		return err
	}

	metrics.CallbackRequests.WithLabelValues(models.GatewayClick, "prepare", clickOutcome(resp.Error)).Inc()
	return c.JSON(resp)
}

// Complete handles the Action=1 callback.
func (h *ClickHandler) Complete(c *fiber.Ctx) error {
	req := parseClickForm(c)

	resp, err := h.click.Complete(c.UserContext(), req)
	if err != nil {
		h.log.Error("click complete failure",
			zap.String("click_trans_id", req.ClickTransID),
			zap.Error(err))
		return err
	}

	metrics.CallbackRequests.WithLabelValues(models.GatewayClick, "complete", clickOutcome(resp.Error)).Inc()
	return c.JSON(resp)
}

// parseClickForm keeps the raw field strings: the MD5 signature covers them
// byte for byte, so nothing may be re-formatted before verification.
func parseClickForm(c *fiber.Ctx) services.ClickRequest {
	return services.ClickRequest{
		ClickTransID:      c.FormValue("click_trans_id"),
		ServiceID:         c.FormValue("service_id"),
		ClickPaydocID:     c.FormValue("click_paydoc_id"),
		MerchantTransID:   c.FormValue("merchant_trans_id"),
		MerchantPrepareID: c.FormValue("merchant_prepare_id"),
		Amount:            c.FormValue("amount"),
		Action:            c.FormValue("action"),
		ErrorCode:         c.FormValue("error"),
		ErrorNote:         c.FormValue("error_note"),
		SignTime:          c.FormValue("sign_time"),
		SignString:        c.FormValue("sign_string"),
	}
}

func clickOutcome(code int) string {
	if code == services.ClickSuccess {
		return "ok"
	}
	return strconv.Itoa(code)
}
