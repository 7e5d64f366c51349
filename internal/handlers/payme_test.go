package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/database"
	"github.com/example/baraka-billing/internal/models"
	"github.com/example/baraka-billing/internal/services"
)

func newPaymeTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "handler.db")
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

	log := zap.NewNop()
	grantor := services.NewSubscriptionService(db, config.DefaultGrantThresholds(), log)
	payme := services.NewPaymeService(db, grantor, nil, log)
	handler := NewPaymeHandler(payme, log)

	app := fiber.New()
	app.Post("/api/payme/pay", handler.Pay)
	return app, db
}

type paymeEnvelope struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int               `json:"code"`
		Message map[string]string `json:"message"`
		Data    any               `json:"data"`
	} `json:"error"`
}

func postPayme(t *testing.T, app *fiber.App, body string) paymeEnvelope {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/payme/pay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200, body %s", resp.StatusCode, raw)
	}

	var envelope paymeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestPaymeDispatchUnknownMethod(t *testing.T) {
	app, _ := newPaymeTestApp(t)

	envelope := postPayme(t, app, `{"jsonrpc":"2.0","id":7,"method":"RemoveTransaction","params":{}}`)
	if envelope.Error == nil || envelope.Error.Code != -32504 {
		t.Fatalf("error = %+v, want code -32504", envelope.Error)
	}
	if id, ok := envelope.ID.(float64); !ok || id != 7 {
		t.Errorf("id = %v, want 7", envelope.ID)
	}
}

func TestPaymeDispatchInvalidParams(t *testing.T) {
	app, _ := newPaymeTestApp(t)

	envelope := postPayme(t, app, `{"jsonrpc":"2.0","id":8,"method":"CreateTransaction","params":"not-an-object"}`)
	if envelope.Error == nil || envelope.Error.Code != -32400 {
		t.Fatalf("error = %+v, want code -32400", envelope.Error)
	}
}

func TestPaymeDispatchOrderNotFound(t *testing.T) {
	app, _ := newPaymeTestApp(t)

	envelope := postPayme(t, app,
		`{"jsonrpc":"2.0","id":9,"method":"CheckPerformTransaction","params":{"amount":1999000,"account":{"order_id":"missing"}}}`)
	if envelope.Error == nil || envelope.Error.Code != -31050 {
		t.Fatalf("error = %+v, want code -31050", envelope.Error)
	}
	if envelope.Error.Data != "order_id" {
		t.Errorf("data = %v, want order_id", envelope.Error.Data)
	}
	if envelope.Error.Message["ru"] == "" {
		t.Error("localized message missing")
	}
}

func TestPaymeDispatchCheckPerform(t *testing.T) {
	app, db := newPaymeTestApp(t)

	user := models.User{TelegramID: 424242, Phone: "+998900000042", Language: "uz"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	order := models.MerchantOrder{
		UserID:   user.ID,
		Amount:   decimal.NewFromInt(19990),
		Currency: "UZS",
		Gateway:  models.GatewayPayme,
		Status:   models.OrderStatusOpen,
		PlanID:   "monthly",
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}

	envelope := postPayme(t, app,
		`{"jsonrpc":"2.0","id":10,"method":"CheckPerformTransaction","params":{"amount":1999000,"account":{"order_id":"`+order.ID.String()+`"}}}`)
	if envelope.Error != nil {
		t.Fatalf("unexpected error: %+v", envelope.Error)
	}

	var result services.CheckPerformResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Allow {
		t.Error("allow = false, want true")
	}
}

func TestPaymeDispatchChangePassword(t *testing.T) {
	app, _ := newPaymeTestApp(t)

	envelope := postPayme(t, app, `{"jsonrpc":"2.0","id":11,"method":"ChangePassword","params":{"password":"x"}}`)
	if envelope.Error != nil {
		t.Fatalf("unexpected error: %+v", envelope.Error)
	}
	if !strings.Contains(string(envelope.Result), `"success":true`) {
		t.Errorf("result = %s, want success true", envelope.Result)
	}
}
