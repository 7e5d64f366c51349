package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/baraka-billing/internal/database"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

func newJobsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "jobs.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestProcessPaymentSuccess(t *testing.T) {
	db := newJobsTestDB(t)

	user := models.User{TelegramID: 77001, Phone: "+998900000001", Language: "uz"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	log := zap.NewNop()
	telegram := services.NewTelegramService("", "", log)
	processor := NewNotificationProcessor(db, nil, telegram, log)

	task, err := NewPaymentSuccessTask(services.PaymentSuccessEvent{
		UserID:        user.ID,
		TransactionID: uuid.New(),
		Gateway:       models.GatewayPayme,
		Amount:        "19990.00",
		Currency:      "UZS",
		Tier:          models.SubscriptionMonthly,
	})
	if err != nil {
		t.Fatalf("NewPaymentSuccessTask: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
}

func TestProcessPaymentSuccessUnknownUser(t *testing.T) {
	db := newJobsTestDB(t)

	log := zap.NewNop()
	processor := NewNotificationProcessor(db, nil, services.NewTelegramService("", "", log), log)

	task, err := NewPaymentSuccessTask(services.PaymentSuccessEvent{
		UserID:        uuid.New(),
		TransactionID: uuid.New(),
		Gateway:       models.GatewayClick,
		Amount:        "19990.00",
		Currency:      "UZS",
		Tier:          models.SubscriptionMonthly,
	})
	if err != nil {
		t.Fatalf("NewPaymentSuccessTask: %v", err)
	}

	// Delivery is best effort; a missing user drops the task, never retries.
	if err := processor.ProcessTask(context.Background(), task); err != nil {
		t.Errorf("ProcessTask: %v", err)
	}
}

func TestProcessPaymentSuccessBadPayload(t *testing.T) {
	processor := NewNotificationProcessor(nil, nil, nil, zap.NewNop())

	task := asynq.NewTask(TypePaymentSuccess, []byte("{"))
	if err := processor.ProcessTask(context.Background(), task); err == nil {
		t.Error("malformed payload accepted")
	}
}
