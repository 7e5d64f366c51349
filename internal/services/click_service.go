package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/metrics"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/utils"
)

// Click.uz protocol error codes.
const (
	ClickSuccess        = 0
	ClickErrSign        = -1
	ClickErrAmount      = -2
	ClickErrAlreadyPaid = -4
	ClickErrNotFound    = -6
	ClickErrCancelled   = -9
)

// ClickRequest carries a callback's form fields. Values stay as raw wire
// strings because the signature covers them byte for byte.
type ClickRequest struct {
	ClickTransID      string
	ServiceID         string
	ClickPaydocID     string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	ErrorCode         string
	ErrorNote         string
	SignTime          string
	SignString        string
}

// ClickResponse is the flat field set Click expects back.
type ClickResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickService implements the Click.uz merchant callback API (Prepare and
// Complete) on top of the shared transaction ledger.
type ClickService struct {
	db       *gorm.DB
	cfg      config.ClickConfig
	grantor  *SubscriptionService
	notifier PaymentNotifier
	log      *zap.Logger
	now      func() time.Time
}

func NewClickService(db *gorm.DB, cfg config.ClickConfig, grantor *SubscriptionService, notifier PaymentNotifier, log *zap.Logger) *ClickService {
	return &ClickService{
		db:       db,
		cfg:      cfg,
		grantor:  grantor,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Prepare handles Action=0: authenticate, bind the gateway transaction id to
// the order and answer with our prepare id.
func (s *ClickService) Prepare(ctx context.Context, req ClickRequest) (*ClickResponse, error) {
	if !s.verifySign(req, false) {
		return s.fail(req, ClickErrSign, "SIGN CHECK FAILED!"), nil
	}

	order, code, note := s.findOrder(ctx, req.MerchantTransID)
	if code != ClickSuccess {
		return s.fail(req, code, note), nil
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.Equal(order.Amount) {
		return s.fail(req, ClickErrAmount, "Incorrect parameter amount"), nil
	}

	// Replayed Prepare for an id we already know returns the recorded answer,
	// expiring the transaction first when it sat in Created past the timeout.
	existing, err := s.findTransaction(ctx, req.ClickTransID)
	if err == nil {
		return s.prepareReply(ctx, req, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if order.Status != models.OrderStatusOpen {
		return s.fail(req, ClickErrAlreadyPaid, "Already paid"), nil
	}

	// A different transaction already holds this order. Click's error-code
	// range folds "order busy" into the not-found family; keep it that way.
	var pending models.MerchantTransaction
	err = s.db.WithContext(ctx).
		Where("order_id = ? AND state = ?", order.ID, models.TxStateCreated).
		First(&pending).Error
	if err == nil {
		return s.fail(req, ClickErrNotFound, "Order does not exist"), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	action := models.ClickActionPrepare
	paydocID, _ := strconv.ParseInt(req.ClickPaydocID, 10, 64)
	txn := models.MerchantTransaction{
		ExternalID: req.ClickTransID,
		OrderID:    order.ID,
		Gateway:    models.GatewayClick,
		Amount:     order.Amount,
		State:      models.TxStateCreated,
		CreateTime: s.now().UnixMilli(),
		RawAction:  &action,
		SignTime:   req.SignTime,
		PaydocID:   paydocID,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			raced, ferr := s.findTransaction(ctx, req.ClickTransID)
			if ferr != nil {
				return nil, ferr
			}
			return s.prepareReply(ctx, req, raced)
		}
		return nil, err
	}

	return &ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: txn.ID.String(),
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}, nil
}

// Complete handles Action=1: finalize the payment and grant the subscription,
// or record the failure the gateway reports.
func (s *ClickService) Complete(ctx context.Context, req ClickRequest) (*ClickResponse, error) {
	if !s.verifySign(req, true) {
		return s.fail(req, ClickErrSign, "SIGN CHECK FAILED!"), nil
	}

	prepareID, err := uuid.Parse(req.MerchantPrepareID)
	if err != nil {
		return s.fail(req, ClickErrNotFound, "Invalid merchant_prepare_id"), nil
	}

	var txn models.MerchantTransaction
	if err := s.db.WithContext(ctx).
		Where("id = ? AND gateway = ?", prepareID, models.GatewayClick).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.fail(req, ClickErrNotFound, "Transaction does not exist"), nil
		}
		return nil, err
	}

	if txn.OrderID.String() != req.MerchantTransID {
		return s.fail(req, ClickErrNotFound, "Transaction does not exist"), nil
	}

	switch {
	case txn.State == models.TxStatePerformed:
		return s.fail(req, ClickErrAlreadyPaid, "Already paid"), nil
	case txn.IsTerminal():
		return s.fail(req, ClickErrCancelled, "Transaction cancelled"), nil
	}

	nowMillis := s.now().UnixMilli()

	// The gateway reports its own failure in the Complete call.
	if gatewayErr, perr := strconv.Atoi(req.ErrorCode); perr == nil && gatewayErr < 0 {
		if err := s.transition(ctx, txn.ID, models.TxStateError, gatewayErr, nowMillis); err != nil {
			if errors.Is(err, errTransitionConflict) {
				return s.Complete(ctx, req)
			}
			return nil, err
		}
		return s.fail(req, ClickErrCancelled, "Transaction cancelled"), nil
	}

	if expired(txn.CreateTime, nowMillis) {
		if err := s.transition(ctx, txn.ID, models.TxStateCancelled, models.CancelReasonTimeout, nowMillis); err != nil {
			if errors.Is(err, errTransitionConflict) {
				return s.Complete(ctx, req)
			}
			return nil, err
		}
		return s.fail(req, ClickErrCancelled, "Transaction cancelled"), nil
	}

	tier, err := s.perform(ctx, &txn, req.SignTime, nowMillis)
	if err != nil {
		if errors.Is(err, errTransitionConflict) {
			return s.Complete(ctx, req)
		}
		return nil, err
	}

	metrics.EntitlementsGranted.WithLabelValues(models.GatewayClick, tier).Inc()
	s.notifyPaid(ctx, &txn, tier)

	return &ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: txn.ID.String(),
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}, nil
}

func (s *ClickService) verifySign(req ClickRequest, isComplete bool) bool {
	ok := utils.VerifyClickSign(utils.ClickSignParams{
		ClickTransID:      req.ClickTransID,
		ServiceID:         req.ServiceID,
		SecretKey:         s.cfg.SecretKey,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: req.MerchantPrepareID,
		Amount:            req.Amount,
		Action:            req.Action,
		SignTime:          req.SignTime,
	}, req.SignString, isComplete)
	if !ok {
		s.log.Warn("click signature mismatch",
			zap.String("click_trans_id", req.ClickTransID),
			zap.String("merchant_trans_id", req.MerchantTransID))
	}
	return ok
}

func (s *ClickService) findOrder(ctx context.Context, merchantTransID string) (*models.MerchantOrder, int, string) {
	id, err := uuid.Parse(merchantTransID)
	if err != nil {
		return nil, ClickErrNotFound, "Order does not exist"
	}

	var order models.MerchantOrder
	if err := s.db.WithContext(ctx).
		Where("id = ? AND gateway = ?", id, models.GatewayClick).
		First(&order).Error; err != nil {
		return nil, ClickErrNotFound, "Order does not exist"
	}

	return &order, ClickSuccess, ""
}

func (s *ClickService) findTransaction(ctx context.Context, externalID string) (*models.MerchantTransaction, error) {
	var txn models.MerchantTransaction
	if err := s.db.WithContext(ctx).
		Where("external_id = ? AND gateway = ?", externalID, models.GatewayClick).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *ClickService) prepareReply(ctx context.Context, req ClickRequest, txn *models.MerchantTransaction) (*ClickResponse, error) {
	switch {
	case txn.State == models.TxStateCreated:
		nowMillis := s.now().UnixMilli()
		if expired(txn.CreateTime, nowMillis) {
			if err := s.transition(ctx, txn.ID, models.TxStateCancelled, models.CancelReasonTimeout, nowMillis); err != nil {
				if errors.Is(err, errTransitionConflict) {
					return s.Prepare(ctx, req)
				}
				return nil, err
			}
			return s.fail(req, ClickErrCancelled, "Transaction cancelled"), nil
		}
		return &ClickResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantPrepareID: txn.ID.String(),
			Error:             ClickSuccess,
			ErrorNote:         "Success",
		}, nil
	case txn.State == models.TxStatePerformed:
		return s.fail(req, ClickErrAlreadyPaid, "Already paid"), nil
	default:
		return s.fail(req, ClickErrCancelled, "Transaction cancelled"), nil
	}
}

// perform commits Created to Performed together with the order consumption
// and the entitlement grant; any failure rolls all of it back.
func (s *ClickService) perform(ctx context.Context, txn *models.MerchantTransaction, signTime string, nowMillis int64) (string, error) {
	var tier string
	action := models.ClickActionComplete
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.MerchantTransaction{}).
			Where("id = ? AND state = ?", txn.ID, models.TxStateCreated).
			Updates(map[string]any{
				"state":        models.TxStatePerformed,
				"perform_time": nowMillis,
				"raw_action":   action,
				"sign_time":    signTime,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTransitionConflict
		}

		if err := tx.Model(&models.MerchantOrder{}).
			Where("id = ?", txn.OrderID).
			Update("status", models.OrderStatusConsumed).Error; err != nil {
			return err
		}

		var order models.MerchantOrder
		if err := tx.Where("id = ?", txn.OrderID).First(&order).Error; err != nil {
			return err
		}

		granted, err := s.grantor.Grant(ctx, tx, order.UserID, txn.Amount)
		if err != nil {
			return err
		}
		tier = granted
		return nil
	})
	return tier, err
}

func (s *ClickService) transition(ctx context.Context, id uuid.UUID, state, reason int, nowMillis int64) error {
	res := s.db.WithContext(ctx).
		Model(&models.MerchantTransaction{}).
		Where("id = ? AND state = ?", id, models.TxStateCreated).
		Updates(map[string]any{
			"state":       state,
			"reason":      reason,
			"cancel_time": nowMillis,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errTransitionConflict
	}
	return nil
}

func (s *ClickService) notifyPaid(ctx context.Context, txn *models.MerchantTransaction, tier string) {
	if s.notifier == nil {
		return
	}

	var order models.MerchantOrder
	if err := s.db.WithContext(ctx).Where("id = ?", txn.OrderID).First(&order).Error; err != nil {
		s.log.Warn("payment notification skipped", zap.Error(err))
		return
	}

	err := s.notifier.NotifyPaymentSuccess(ctx, PaymentSuccessEvent{
		UserID:        order.UserID,
		TransactionID: txn.ID,
		Gateway:       models.GatewayClick,
		Amount:        txn.Amount.StringFixed(2),
		Currency:      order.Currency,
		Tier:          tier,
	})
	if err != nil {
		s.log.Warn("payment notification enqueue failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
		metrics.NotificationsEnqueued.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsEnqueued.WithLabelValues("ok").Inc()
}

func (s *ClickService) fail(req ClickRequest, code int, note string) *ClickResponse {
	return &ClickResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}
