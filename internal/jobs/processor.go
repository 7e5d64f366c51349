package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

const notifyDedupeTTL = 24 * time.Hour

// NotificationProcessor delivers payment-success messages. Delivery is best
// effort: every failure is logged and the task is dropped, never retried into
// a duplicate message.
type NotificationProcessor struct {
	db       *gorm.DB
	rdb      *redis.Client
	telegram *services.TelegramService
	log      *zap.Logger
}

func NewNotificationProcessor(db *gorm.DB, rdb *redis.Client, telegram *services.TelegramService, log *zap.Logger) *NotificationProcessor {
	return &NotificationProcessor{db: db, rdb: rdb, telegram: telegram, log: log}
}

// ProcessTask handles a payment-success task.
func (p *NotificationProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var event services.PaymentSuccessEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	// One message per performed transaction, even if the task is re-enqueued.
	if p.rdb != nil {
		key := "notify:paid:" + event.TransactionID.String()
		ok, err := p.rdb.SetNX(ctx, key, 1, notifyDedupeTTL).Result()
		if err != nil {
			p.log.Warn("notification dedupe check failed", zap.Error(err))
		} else if !ok {
			return nil
		}
	}

	var user models.User
	if err := p.db.WithContext(ctx).Where("id = ?", event.UserID).First(&user).Error; err != nil {
		p.log.Warn("notification user lookup failed",
			zap.String("user_id", event.UserID.String()),
			zap.Error(err))
		return nil
	}

	if err := p.telegram.NotifySubscriptionUpgraded(user.TelegramID, user.Language); err != nil {
		p.log.Warn("payment success notification failed",
			zap.String("transaction_id", event.TransactionID.String()),
			zap.Error(err))
	}

	if err := p.telegram.NotifyAdminPayment(event.Gateway, event.Amount, event.Currency, event.Tier); err != nil {
		p.log.Warn("admin payment notification failed",
			zap.String("transaction_id", event.TransactionID.String()),
			zap.Error(err))
	}

	return nil
}

// NewServer builds the queue worker that runs next to the HTTP server.
func NewServer(redisOpt asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
	})
}

// Mux registers all task handlers.
func Mux(processor *NotificationProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypePaymentSuccess, processor)
	return mux
}
