package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a time-boxed, price-locked promise. IsUsed flips false→true once,
// only during settlement.
type Quote struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"quote_id"`
	EventID string `gorm:"type:varchar(36);not null;index" json:"event_id"`
	Wallet  string `gorm:"type:varchar(64);not null;index" json:"wallet"`
	AssetID string `gorm:"type:varchar(64);not null" json:"asset_id"`

	AssetAmount         decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"asset_amount"`
	UsdValue            decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"usd_value"`
	LockedPrice         decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"locked_price"`
	PriceSource         string          `gorm:"type:varchar(32);not null" json:"price_source"`
	EstimatedAllocation decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"estimated_allocation"`

	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	IsUsed    bool       `gorm:"not null;default:false" json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Expired reports whether the quote can no longer be redeemed at now.
func (q Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}
