// models/event.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a burn campaign window. At most one event is active at a time,
// enforced by the partial unique index on is_active.
type Event struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Slug        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	StartsAt    time.Time `gorm:"not null" json:"starts_at"`
	EndsAt      time.Time `gorm:"not null" json:"ends_at"`

	IsActive    bool       `gorm:"not null;default:false;uniqueIndex:idx_events_single_active,where:is_active = true" json:"is_active"`
	IsFinalized bool       `gorm:"not null;default:false" json:"is_finalized"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	// Caps (USD)
	MinUsdPerTx     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"min_usd_per_tx"`
	MaxUsdPerTx     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"max_usd_per_tx"`
	MaxUsdPerWallet decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"max_usd_per_wallet"`

	QuoteTTLSeconds int `gorm:"not null;default:120" json:"quote_ttl_seconds"`

	// Running total, mutated only by settlement.
	TotalUsdBurned decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_usd_burned"`

	Assets []AcceptedAsset `gorm:"foreignKey:EventID" json:"assets,omitempty"`

	Timestamps
}

// InWindow reports whether t falls inside [StartsAt, EndsAt).
func (e Event) InWindow(t time.Time) bool {
	return !t.Before(e.StartsAt) && t.Before(e.EndsAt)
}

// QuoteTTL returns the configured quote lifetime.
func (e Event) QuoteTTL() time.Duration {
	return time.Duration(e.QuoteTTLSeconds) * time.Second
}
