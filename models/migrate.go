package models

import "gorm.io/gorm"

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&AcceptedAsset{},
		&Quote{},
		&Burn{},
		&Allocation{},
		&WalletDailyUsage{},
		&Referral{},
		&SettlementAttempt{},
	)
}
