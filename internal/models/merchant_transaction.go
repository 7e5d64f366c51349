package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction lifecycle states, Payme numbering. Click's Prepare/Complete map
// onto Created/Performed; Error is Click-only (the gateway reported failure in
// its Complete call).
const (
	TxStateCreated   = 1
	TxStatePerformed = 2
	TxStateCancelled = -1
	TxStateRefunded  = -2
	TxStateError     = -3
)

// Cancel reason recorded when a transaction sits in Created past the timeout.
const CancelReasonTimeout = 4

// Click raw_action values.
const (
	ClickActionPrepare  = 0
	ClickActionComplete = 1
)

// MerchantTransaction is one row per gateway-assigned external transaction id.
// The ledger owns all state transitions; timestamps are millisecond unix times
// set exactly once. The partial unique index enforces at most one pending
// transaction per order across dispatcher instances.
type MerchantTransaction struct {
	BaseModel
	ExternalID  string          `gorm:"uniqueIndex" json:"external_id"`
	OrderID     uuid.UUID       `gorm:"type:uuid;index;index:uniq_pending_txn,unique,where:state = 1" json:"order_id"`
	Order       *MerchantOrder  `json:"order,omitempty"`
	Gateway     string          `gorm:"size:10;index" json:"gateway"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2)" json:"amount"`
	State       int             `gorm:"index" json:"state"`
	PaycomTime  int64           `json:"paycom_time"`
	CreateTime  int64           `json:"create_time"`
	PerformTime int64           `json:"perform_time"`
	CancelTime  int64           `json:"cancel_time"`
	Reason      *int            `json:"reason"`
	RawAction   *int            `json:"raw_action"`
	SignTime    string          `json:"sign_time"`
	PaydocID    int64           `json:"paydoc_id"`
}

// IsTerminal reports whether no further lifecycle transition is permitted.
func (t *MerchantTransaction) IsTerminal() bool {
	return t.State < 0
}
