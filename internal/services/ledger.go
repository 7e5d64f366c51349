package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transactionTimeout is how long a transaction may sit in Created before it is
// lazily expired to Cancelled on the next touch.
const transactionTimeout = 12 * time.Hour

// PaymentSuccessEvent describes a completed payment for best-effort
// notification delivery. Delivery failures are logged and discarded; the
// performed transition never depends on them.
type PaymentSuccessEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Gateway       string    `json:"gateway"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Tier          string    `json:"tier"`
}

// PaymentNotifier hands a success event to the delivery pipeline.
type PaymentNotifier interface {
	NotifyPaymentSuccess(ctx context.Context, event PaymentSuccessEvent) error
}

func expired(createTime, nowMillis int64) bool {
	return nowMillis-createTime > transactionTimeout.Milliseconds()
}

var tiyinPerUZS = decimal.NewFromInt(100)

// TiyinToUZS converts Payme's integer tiyin amounts to decimal UZS.
func TiyinToUZS(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(tiyinPerUZS)
}

// UZSToTiyin converts a decimal UZS amount to integer tiyin.
func UZSToTiyin(amount decimal.Decimal) int64 {
	return amount.Mul(tiyinPerUZS).IntPart()
}
