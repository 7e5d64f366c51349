package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/database"
	"github.com/example/baraka-billing/internal/middleware"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
	"github.com/example/baraka-billing/internal/utils"
)

func newSubscriptionTestApp(t *testing.T) (*fiber.App, *gorm.DB, *config.Config) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "subscriptions.db")
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

	cfg := &config.Config{
		JWTSecret:       "test-secret",
		Click:           config.ClickConfig{ServiceID: "1234", MerchantID: "5678", SecretKey: "s"},
		Payme:           config.PaymeConfig{MerchantID: "merchant", MerchantKey: "key"},
		Plans:           config.DefaultPlans(),
		GrantThresholds: config.DefaultGrantThresholds(),
	}

	log := zap.NewNop()
	subs := services.NewSubscriptionService(db, cfg.GrantThresholds, log)
	handler := NewSubscriptionHandler(db, cfg, subs, log)

	app := fiber.New()
	auth := middleware.AuthMiddleware(cfg)
	app.Post("/api/subscriptions/pay", auth, handler.Pay)
	app.Get("/api/subscriptions/status", auth, handler.Status)
	return app, db, cfg
}

func createSubscriptionUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := models.User{
		TelegramID: time.Now().UnixNano(),
		Phone:      "+99890" + time.Now().Format("0405.000000"),
		Language:   "uz",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &user
}

func postPay(t *testing.T, app *fiber.App, token, body string) (int, paymentLinkResponse) {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/subscriptions/pay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	var link paymentLinkResponse
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &link)
	return resp.StatusCode, link
}

func TestPayReplacesStaleOrder(t *testing.T) {
	app, db, cfg := newSubscriptionTestApp(t)

	user := createSubscriptionUser(t, db)
	token, err := utils.GenerateToken(cfg.JWTSecret, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	status, first := postPay(t, app, token, `{"plan_id":"monthly","provider":"click"}`)
	if status != fiber.StatusOK {
		t.Fatalf("first pay status = %d, want 200", status)
	}
	if !strings.Contains(first.URL, "my.click.uz") {
		t.Errorf("url = %q, want a click checkout link", first.URL)
	}

	// A cancelled transaction releases the order; the next link must replace
	// it instead of tripping the one-open-order index.
	var firstOrder models.MerchantOrder
	if err := db.First(&firstOrder, "id = ?", first.OrderID).Error; err != nil {
		t.Fatalf("load first order: %v", err)
	}
	txn := models.MerchantTransaction{
		ExternalID: "stale-1",
		OrderID:    firstOrder.ID,
		Gateway:    models.GatewayClick,
		Amount:     firstOrder.Amount,
		State:      models.TxStateCancelled,
		CreateTime: time.Now().UnixMilli(),
		CancelTime: time.Now().UnixMilli(),
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatalf("seed cancelled transaction: %v", err)
	}

	status, second := postPay(t, app, token, `{"plan_id":"monthly","provider":"click"}`)
	if status != fiber.StatusOK {
		t.Fatalf("second pay status = %d, want 200", status)
	}
	if second.OrderID == first.OrderID {
		t.Error("stale order was not replaced")
	}

	var openCount int64
	db.Model(&models.MerchantOrder{}).
		Where("user_id = ? AND gateway = ? AND status = ?", user.ID, models.GatewayClick, models.OrderStatusOpen).
		Count(&openCount)
	if openCount != 1 {
		t.Errorf("open orders = %d, want 1", openCount)
	}
}

func TestPayPendingOrderBlocks(t *testing.T) {
	app, db, cfg := newSubscriptionTestApp(t)

	user := createSubscriptionUser(t, db)
	token, err := utils.GenerateToken(cfg.JWTSecret, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	status, first := postPay(t, app, token, `{"plan_id":"monthly","provider":"payme"}`)
	if status != fiber.StatusOK {
		t.Fatalf("first pay status = %d, want 200", status)
	}

	var order models.MerchantOrder
	if err := db.First(&order, "id = ?", first.OrderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	txn := models.MerchantTransaction{
		ExternalID: "pending-1",
		OrderID:    order.ID,
		Gateway:    models.GatewayPayme,
		Amount:     order.Amount,
		State:      models.TxStateCreated,
		CreateTime: time.Now().UnixMilli(),
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatalf("seed pending transaction: %v", err)
	}

	status, _ = postPay(t, app, token, `{"plan_id":"monthly","provider":"payme"}`)
	if status != fiber.StatusConflict {
		t.Fatalf("pay with pending transaction status = %d, want 409", status)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	app, db, cfg := newSubscriptionTestApp(t)

	user := createSubscriptionUser(t, db)
	token, err := utils.GenerateToken(cfg.JWTSecret, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/subscriptions/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SubscriptionType string `json:"subscription_type"`
		IsActive         bool   `json:"is_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.IsActive {
		t.Error("is_active = true for a user without a subscription")
	}
}
