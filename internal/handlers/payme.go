package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/baraka-billing/internal/metrics"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

// PaymeHandler dispatches the Payme JSON-RPC endpoint. Every response leaves
// with HTTP 200: the gateway's retry logic reads the envelope, never the
// status code.
type PaymeHandler struct {
	payme *services.PaymeService
	log   *zap.Logger
}

func NewPaymeHandler(payme *services.PaymeService, log *zap.Logger) *PaymeHandler {
	return &PaymeHandler{payme: payme, log: log}
}

type paymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Pay handles all Payme JSON-RPC methods on a single endpoint.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	var req paymeRPCRequest
	if err := c.BodyParser(&req); err != nil {
		return h.writeError(c, nil, "", services.ErrPaymeInternal.WithData("invalid request body"))
	}

	result, err := h.dispatch(c, req)
	if err != nil {
		return h.writeError(c, req.ID, req.Method, err)
	}

	metrics.CallbackRequests.WithLabelValues(models.GatewayPayme, req.Method, "ok").Inc()
	return c.JSON(fiber.Map{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	})
}

// dispatch maps the method name onto a typed handler. The set is closed:
// anything else is -32504.
func (h *PaymeHandler) dispatch(c *fiber.Ctx, req paymeRPCRequest) (any, error) {
	ctx := c.UserContext()

	switch req.Method {
	case "CheckPerformTransaction":
		var params services.CheckPerformParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.payme.CheckPerformTransaction(ctx, params)
	case "CreateTransaction":
		var params services.CreateTransactionParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.payme.CreateTransaction(ctx, params)
	case "PerformTransaction":
		var params services.PerformTransactionParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.payme.PerformTransaction(ctx, params)
	case "CancelTransaction":
		var params services.CancelTransactionParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.payme.CancelTransaction(ctx, params)
	case "CheckTransaction":
		var params services.CheckTransactionParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.payme.CheckTransaction(ctx, params)
	case "GetStatement":
		var params services.StatementParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		entries, err := h.payme.GetStatement(ctx, params)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"transactions": entries}, nil
	case "ChangePassword":
		return fiber.Map{"success": true}, nil
	default:
		return nil, services.ErrPaymeMethodNotFound
	}
}

func (h *PaymeHandler) writeError(c *fiber.Ctx, id any, method string, err error) error {
	var paymeErr *services.PaymeError
	if !errors.As(err, &paymeErr) {
		// Unexpected failure: log with full context, surface the generic
		// system error with the raw message in data for diagnosis.
		h.log.Error("payme handler failure",
			zap.String("method", method),
			zap.Error(err))
		paymeErr = services.ErrPaymeInternal.WithData(err.Error())
	}

	outcome := strconv.Itoa(paymeErr.Code)
	metrics.CallbackRequests.WithLabelValues(models.GatewayPayme, method, outcome).Inc()

	return c.JSON(fiber.Map{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   paymeErr,
	})
}

func unmarshalParams(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return services.ErrPaymeInternal.WithData("invalid params")
	}
	return nil
}
