package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AcceptedAsset is an asset that may be burned during one event.
// CurrentDailyBurnedUsd covers the UTC day starting at DailyWindowStart.
type AcceptedAsset struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID  string `gorm:"type:varchar(36);not null;uniqueIndex:idx_asset_event_mint" json:"event_id"`
	AssetID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_asset_event_mint" json:"asset_id"` // mint address
	Symbol   string `gorm:"type:varchar(32)" json:"symbol"`
	Decimals int    `gorm:"not null;default:0" json:"decimals"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`

	DailyCapUsd           decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"daily_cap_usd"`
	CurrentDailyBurnedUsd decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"current_daily_burned_usd"`
	DailyWindowStart      time.Time       `gorm:"not null" json:"daily_window_start"`

	Timestamps
}

// RemainingCap returns the unused part of today's cap as of now. A counter
// whose window started on an earlier UTC day counts as zero.
func (a AcceptedAsset) RemainingCap(now time.Time) decimal.Decimal {
	used := a.CurrentDailyBurnedUsd
	if a.DailyWindowStart.Before(StartOfDay(now)) {
		used = decimal.Zero
	}
	remaining := a.DailyCapUsd.Sub(used)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats the UTC day of t as stored in WalletDailyUsage.Day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
