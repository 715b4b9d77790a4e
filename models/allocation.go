package models

import "github.com/shopspring/decimal"

// Allocation is the per-wallet running entitlement inside an event. Never decreases.
type Allocation struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_allocation_event_wallet" json:"event_id"`
	Wallet  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_allocation_event_wallet" json:"wallet"`

	TotalUsdBurned  decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_usd_burned"`
	TotalAllocation decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_allocation"`
	BurnCount       int64           `gorm:"not null;default:0" json:"burn_count"`

	Timestamps
}

// WalletDailyUsage is the authoritative per-wallet, per-UTC-day burned total
// used to enforce the per-wallet cap at settlement.
type WalletDailyUsage struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID   string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_wallet_day" json:"event_id"`
	Wallet    string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_wallet_day" json:"wallet"`
	Day       string          `gorm:"type:varchar(10);not null;uniqueIndex:idx_wallet_day" json:"day"` // YYYY-MM-DD (UTC)
	BurnedUsd decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"burned_usd"`

	Timestamps
}
