package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Referral tracks burns referred by a wallet within an event
type Referral struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID        string `gorm:"type:varchar(36);not null;uniqueIndex:idx_referral_event_referrer" json:"event_id"`
	ReferrerWallet string `gorm:"type:varchar(64);not null;uniqueIndex:idx_referral_event_referrer" json:"referrer_wallet"`

	SuccessfulBurns  int64           `gorm:"not null;default:0" json:"successful_burns"`
	TotalUsdReferred decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_usd_referred"`
	LastReferredAt   *time.Time      `json:"last_referred_at,omitempty"`

	Timestamps
}
