package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/metrics"
	"github.com/example/baraka-billing/internal/models"
)

// PaymeService implements the merchant side of the Payme Business JSON-RPC
// API on top of the shared transaction ledger.
type PaymeService struct {
	db       *gorm.DB
	grantor  *SubscriptionService
	notifier PaymentNotifier
	log      *zap.Logger
	now      func() time.Time
}

func NewPaymeService(db *gorm.DB, grantor *SubscriptionService, notifier PaymentNotifier, log *zap.Logger) *PaymeService {
	return &PaymeService{
		db:       db,
		grantor:  grantor,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// PaymeAccount is the account object Payme sends with every payment call.
type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CreateTransactionParams struct {
	ID      string       `json:"id"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type CheckTransactionParams struct {
	ID any `json:"id"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementEntry struct {
	ID          string       `json:"id"`
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	Transaction string       `json:"transaction"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

// CheckPerformTransaction validates that the order exists, is still payable
// and that the amount matches it to the tiyin.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams) (*CheckPerformResult, error) {
	order, err := s.findOrder(ctx, params.Account.OrderID)
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusOpen {
		return nil, ErrPaymeOrderNotFound.WithData("order_id")
	}

	if !TiyinToUZS(params.Amount).Equal(order.Amount) {
		return nil, ErrPaymeInvalidAmount
	}

	return &CheckPerformResult{Allow: true}, nil
}

// CreateTransaction creates the ledger row for a gateway transaction id, or
// replays the recorded result when the same id is delivered again.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*CreateTransactionResult, error) {
	existing, err := s.findTransaction(ctx, params.ID)
	if err == nil {
		return s.replayCreate(ctx, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order, err := s.findOrder(ctx, params.Account.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusOpen {
		return nil, ErrPaymeOrderNotFound.WithData("order_id")
	}
	if !TiyinToUZS(params.Amount).Equal(order.Amount) {
		return nil, ErrPaymeInvalidAmount
	}

	// One pending transaction per order. The partial unique index backs this
	// check up under concurrent delivery.
	var pending models.MerchantTransaction
	err = s.db.WithContext(ctx).
		Where("order_id = ? AND state = ?", order.ID, models.TxStateCreated).
		First(&pending).Error
	if err == nil {
		return nil, ErrPaymeOrderBusy.WithData("order_id")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	txn := models.MerchantTransaction{
		ExternalID: params.ID,
		OrderID:    order.ID,
		Gateway:    models.GatewayPayme,
		Amount:     order.Amount,
		State:      models.TxStateCreated,
		PaycomTime: params.Time,
		CreateTime: s.now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race against a duplicate delivery; replay its result.
			raced, ferr := s.findTransaction(ctx, params.ID)
			if ferr != nil {
				return nil, ferr
			}
			return s.replayCreate(ctx, raced)
		}
		return nil, err
	}

	return &CreateTransactionResult{
		CreateTime:  txn.CreateTime,
		Transaction: txn.ID.String(),
		State:       txn.State,
	}, nil
}

// PerformTransaction moves a created transaction to performed and applies the
// subscription grant in the same database transaction; repeats return the
// recorded perform_time without side effects.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams) (*PerformTransactionResult, error) {
	txn, err := s.findTransaction(ctx, params.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymeTransactionNotFound
		}
		return nil, err
	}

	switch {
	case txn.State == models.TxStatePerformed:
		return &PerformTransactionResult{
			PerformTime: txn.PerformTime,
			Transaction: txn.ID.String(),
			State:       txn.State,
		}, nil
	case txn.State != models.TxStateCreated:
		return nil, ErrPaymeInvalidState
	}

	nowMillis := s.now().UnixMilli()
	if expired(txn.CreateTime, nowMillis) {
		if err := s.expire(ctx, txn.ID, nowMillis); err != nil {
			return nil, err
		}
		return nil, ErrPaymeTransactionTimedOut
	}

	tier, err := s.perform(ctx, txn, nowMillis)
	if err != nil {
		if errors.Is(err, errTransitionConflict) {
			// Someone else got there first; re-read and replay.
			return s.PerformTransaction(ctx, params)
		}
		return nil, err
	}

	metrics.EntitlementsGranted.WithLabelValues(models.GatewayPayme, tier).Inc()
	s.notifyPaid(ctx, txn, tier)

	return &PerformTransactionResult{
		PerformTime: nowMillis,
		Transaction: txn.ID.String(),
		State:       models.TxStatePerformed,
	}, nil
}

// CancelTransaction cancels a created transaction or refunds a performed one.
// The gateway already validated the refund on its side; we only record it.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams) (*CancelTransactionResult, error) {
	txn, err := s.findTransaction(ctx, params.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymeTransactionNotFound
		}
		return nil, err
	}

	if txn.IsTerminal() {
		return &CancelTransactionResult{
			CancelTime:  txn.CancelTime,
			Transaction: txn.ID.String(),
			State:       txn.State,
		}, nil
	}

	target := models.TxStateCancelled
	if txn.State == models.TxStatePerformed {
		target = models.TxStateRefunded
	}

	nowMillis := s.now().UnixMilli()
	res := s.db.WithContext(ctx).
		Model(&models.MerchantTransaction{}).
		Where("id = ? AND state = ?", txn.ID, txn.State).
		Updates(map[string]any{
			"state":       target,
			"reason":      params.Reason,
			"cancel_time": nowMillis,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return s.CancelTransaction(ctx, params)
	}

	return &CancelTransactionResult{
		CancelTime:  nowMillis,
		Transaction: txn.ID.String(),
		State:       target,
	}, nil
}

// CheckTransaction reports the recorded lifecycle of a transaction.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams) (*CheckTransactionResult, error) {
	var externalID string
	switch v := params.ID.(type) {
	case string:
		externalID = v
	case float64:
		externalID = strconv.FormatInt(int64(v), 10)
	default:
		return nil, ErrPaymeTransactionNotFound
	}

	txn, err := s.findTransaction(ctx, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymeTransactionNotFound
		}
		return nil, err
	}

	return &CheckTransactionResult{
		CreateTime:  txn.CreateTime,
		PerformTime: txn.PerformTime,
		CancelTime:  txn.CancelTime,
		Transaction: txn.ID.String(),
		State:       txn.State,
		Reason:      txn.Reason,
	}, nil
}

// GetStatement returns Payme transactions whose gateway time falls in the
// requested range.
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams) ([]StatementEntry, error) {
	var txns []models.MerchantTransaction
	if err := s.db.WithContext(ctx).
		Where("gateway = ? AND paycom_time >= ? AND paycom_time <= ?", models.GatewayPayme, params.From, params.To).
		Order("paycom_time asc").
		Find(&txns).Error; err != nil {
		return nil, err
	}

	entries := make([]StatementEntry, 0, len(txns))
	for _, t := range txns {
		entries = append(entries, StatementEntry{
			ID:          t.ExternalID,
			Time:        t.PaycomTime,
			Amount:      UZSToTiyin(t.Amount),
			Account:     PaymeAccount{OrderID: t.OrderID.String()},
			CreateTime:  t.CreateTime,
			PerformTime: t.PerformTime,
			CancelTime:  t.CancelTime,
			Transaction: t.ID.String(),
			State:       t.State,
			Reason:      t.Reason,
		})
	}

	return entries, nil
}

var errTransitionConflict = errors.New("transaction state changed concurrently")

func (s *PaymeService) replayCreate(ctx context.Context, txn *models.MerchantTransaction) (*CreateTransactionResult, error) {
	if txn.State != models.TxStateCreated {
		return nil, ErrPaymeInvalidState
	}

	nowMillis := s.now().UnixMilli()
	if expired(txn.CreateTime, nowMillis) {
		if err := s.expire(ctx, txn.ID, nowMillis); err != nil {
			return nil, err
		}
		return nil, ErrPaymeTransactionTimedOut
	}

	return &CreateTransactionResult{
		CreateTime:  txn.CreateTime,
		Transaction: txn.ID.String(),
		State:       txn.State,
	}, nil
}

// perform commits the Created to Performed transition together with the order
// consumption and the entitlement grant. Any failure rolls back all three.
func (s *PaymeService) perform(ctx context.Context, txn *models.MerchantTransaction, nowMillis int64) (string, error) {
	var tier string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.MerchantTransaction{}).
			Where("id = ? AND state = ?", txn.ID, models.TxStateCreated).
			Updates(map[string]any{
				"state":        models.TxStatePerformed,
				"perform_time": nowMillis,
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

func (s *PaymeService) expire(ctx context.Context, id uuid.UUID, nowMillis int64) error {
	return s.db.WithContext(ctx).
		Model(&models.MerchantTransaction{}).
		Where("id = ? AND state = ?", id, models.TxStateCreated).
		Updates(map[string]any{
			"state":       models.TxStateCancelled,
			"reason":      models.CancelReasonTimeout,
			"cancel_time": nowMillis,
		}).Error
}

func (s *PaymeService) notifyPaid(ctx context.Context, txn *models.MerchantTransaction, tier string) {
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
		Gateway:       models.GatewayPayme,
		Amount:        txn.Amount.StringFixed(2),
		Currency:      order.Currency,
		Tier:          tier,
	})
	if err != nil {
		// Best effort only; entitlement correctness never depends on this.
		s.log.Warn("payment notification enqueue failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
		metrics.NotificationsEnqueued.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsEnqueued.WithLabelValues("ok").Inc()
}

func (s *PaymeService) findTransaction(ctx context.Context, externalID string) (*models.MerchantTransaction, error) {
	var txn models.MerchantTransaction
	if err := s.db.WithContext(ctx).
		Where("external_id = ? AND gateway = ?", externalID, models.GatewayPayme).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *PaymeService) findOrder(ctx context.Context, orderRef string) (*models.MerchantOrder, error) {
	id, err := uuid.Parse(orderRef)
	if err != nil {
		return nil, ErrPaymeOrderNotFound.WithData("order_id")
	}

	var order models.MerchantOrder
	if err := s.db.WithContext(ctx).
		Where("id = ? AND gateway = ?", id, models.GatewayPayme).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymeOrderNotFound.WithData("order_id")
		}
		return nil, err
	}

	return &order, nil
}
