package models

import "time"

// SettlementState is a step of the settlement state machine.
type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementVerifying SettlementState = "verifying"
	SettlementSettled   SettlementState = "settled"
	SettlementRejected  SettlementState = "rejected"
)

// SettlementAttempt is an audit trail of Settle calls. It is written outside
// the settlement transaction and never read back for correctness.
type SettlementAttempt struct {
	ID                   string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	QuoteID              string          `gorm:"type:varchar(36);index;not null" json:"quote_id"`
	Wallet               string          `gorm:"type:varchar(64);index" json:"wallet"`
	TransactionSignature string          `gorm:"type:varchar(128);index" json:"transaction_signature"`
	State                SettlementState `gorm:"type:varchar(16);not null" json:"state"`
	FailureKind          string          `gorm:"type:varchar(32)" json:"failure_kind,omitempty"`
	Reason               string          `gorm:"type:text" json:"reason,omitempty"`
	BurnID               *string         `gorm:"type:varchar(36)" json:"burn_id,omitempty"`
	FinishedAt           *time.Time      `json:"finished_at,omitempty"`

	Timestamps
}
