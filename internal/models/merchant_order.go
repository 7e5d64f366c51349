package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment gateways that call our webhooks.
const (
	GatewayClick = "click"
	GatewayPayme = "payme"
)

// MerchantOrder statuses.
const (
	OrderStatusOpen     = "open"
	OrderStatusConsumed = "consumed"
)

// MerchantOrder is a locally created payment intent. It is written by the
// payment-link flow and read by gateway callbacks; once a transaction for it
// reaches a success-terminal state the ledger flips Status to consumed and the
// order becomes read-only.
//
// The partial unique index keeps at most one open order per (user, gateway),
// which Click's single-pending-order semantics require.
type MerchantOrder struct {
	BaseModel
	UserID   uuid.UUID       `gorm:"type:uuid;index;index:uniq_open_order,unique,where:status = 'open',priority:1" json:"user_id"`
	User     *User           `json:"user,omitempty"`
	Amount   decimal.Decimal `gorm:"type:numeric(18,2)" json:"amount"`
	Currency string          `gorm:"size:3;default:UZS" json:"currency"`
	Gateway  string          `gorm:"size:10;index:uniq_open_order,unique,where:status = 'open',priority:2" json:"gateway"`
	Status   string          `gorm:"size:10;default:open;index" json:"status"`
	PlanID   string          `gorm:"size:20" json:"plan_id"`
	Details  datatypes.JSON  `json:"details,omitempty"`
}
