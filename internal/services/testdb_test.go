package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/database"
	"github.com/example/baraka-billing/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	return db
}

func newTestGrantor(t *testing.T, db *gorm.DB, now func() time.Time) *SubscriptionService {
	t.Helper()

	grantor := NewSubscriptionService(db, config.DefaultGrantThresholds(), zap.NewNop())
	if now != nil {
		grantor.now = now
	}
	return grantor
}

func createTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := models.User{
		TelegramID:       time.Now().UnixNano(),
		Phone:            uuid.NewString(),
		Name:             "Test User",
		Language:         "uz",
		SubscriptionType: models.SubscriptionFree,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &user
}

func createTestOrder(t *testing.T, db *gorm.DB, userID uuid.UUID, gateway string, amount int64) *models.MerchantOrder {
	t.Helper()

	order := models.MerchantOrder{
		UserID:   userID,
		Amount:   decimal.NewFromInt(amount),
		Currency: "UZS",
		Gateway:  gateway,
		Status:   models.OrderStatusOpen,
		PlanID:   "monthly",
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return &order
}

func paymeErrCode(t *testing.T, err error) int {
	t.Helper()

	if err == nil {
		t.Fatal("expected a payme error, got nil")
	}
	paymeErr, ok := err.(*PaymeError)
	if !ok {
		t.Fatalf("expected *PaymeError, got %T: %v", err, err)
	}
	return paymeErr.Code
}
