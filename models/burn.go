package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Burn is the immutable record of a settled burn. The unique signature is the
// at-most-once guarantee for on-chain proofs.
type Burn struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID string `gorm:"type:varchar(36);not null;index:idx_burn_event_wallet" json:"event_id"`
	Wallet  string `gorm:"type:varchar(64);not null;index:idx_burn_event_wallet" json:"wallet"`
	AssetID string `gorm:"type:varchar(64);not null;index" json:"asset_id"`

	AssetAmount        decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"asset_amount"`
	UsdValueAtBurn     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"usd_value_at_burn"`
	LockedPrice        decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"locked_price"`
	AllocationEstimate decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"allocation_estimate"`

	TransactionSignature string  `gorm:"type:varchar(128);uniqueIndex;not null" json:"transaction_signature"`
	ReferrerWallet       *string `gorm:"type:varchar(64);index" json:"referrer_wallet,omitempty"`
	QuoteID              string  `gorm:"type:varchar(36);uniqueIndex;not null" json:"quote_id"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
