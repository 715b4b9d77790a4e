package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"burn-settlement-system/models"
)

// CapLedger holds the counter primitives used inside the settlement
// transaction. Each one locks the counter row, does the arithmetic in
// decimal and writes the result back, so sums stay exact whatever the
// column type and concurrent callers serialize on the row.
type CapLedger struct {
	DB *gorm.DB
}

func NewCapLedger(db *gorm.DB) *CapLedger {
	return &CapLedger{DB: db}
}

// lockRow loads the row matching where into dest under FOR UPDATE.
func lockRow(tx *gorm.DB, dest any, where string, args ...any) (bool, error) {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(where, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// seedRow inserts row unless a row with the same conflict columns exists.
func seedRow(tx *gorm.DB, row any, conflict ...string) error {
	cols := make([]clause.Column, 0, len(conflict))
	for _, c := range conflict {
		cols = append(cols, clause.Column{Name: c})
	}
	return tx.Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(row).Error
}

// IncrementAssetDaily adds delta to the asset's daily counter, bounded by the
// row's own daily_cap_usd. A counter whose window started before today's UTC
// midnight restarts from delta.
func (l *CapLedger) IncrementAssetDaily(tx *gorm.DB, assetRowID string, delta decimal.Decimal, now time.Time) (bool, error) {
	var asset models.AcceptedAsset
	found, err := lockRow(tx, &asset, "id = ?", assetRowID)
	if err != nil {
		return false, fmt.Errorf("lock asset: %w", err)
	}
	if !found {
		return false, nil
	}

	day := models.StartOfDay(now)
	used, start := asset.CurrentDailyBurnedUsd, asset.DailyWindowStart
	if start.Before(day) {
		used, start = decimal.Zero, day
	}
	next := used.Add(delta)
	if next.GreaterThan(asset.DailyCapUsd) {
		return false, nil
	}

	if err := tx.Model(&models.AcceptedAsset{}).Where("id = ?", asset.ID).Updates(map[string]any{
		"current_daily_burned_usd": next,
		"daily_window_start":       start,
	}).Error; err != nil {
		return false, fmt.Errorf("increment asset daily: %w", err)
	}
	return true, nil
}

// IncrementWalletDaily adds delta to the wallet's usage for the UTC day of
// now, bounded by limit. The row is created first if missing.
func (l *CapLedger) IncrementWalletDaily(tx *gorm.DB, eventID, wallet string, delta, limit decimal.Decimal, now time.Time) (bool, error) {
	day := models.DayKey(now)
	if err := seedRow(tx, &models.WalletDailyUsage{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Wallet:    wallet,
		Day:       day,
		BurnedUsd: decimal.Zero,
	}, "event_id", "wallet", "day"); err != nil {
		return false, fmt.Errorf("seed wallet daily usage: %w", err)
	}

	var usage models.WalletDailyUsage
	if _, err := lockRow(tx, &usage, "event_id = ? AND wallet = ? AND day = ?", eventID, wallet, day); err != nil {
		return false, fmt.Errorf("lock wallet daily usage: %w", err)
	}
	next := usage.BurnedUsd.Add(delta)
	if next.GreaterThan(limit) {
		return false, nil
	}
	if err := tx.Model(&models.WalletDailyUsage{}).Where("id = ?", usage.ID).
		Update("burned_usd", next).Error; err != nil {
		return false, fmt.Errorf("increment wallet daily: %w", err)
	}
	return true, nil
}

// IncrementEventTotal adds delta to the event total, only while the event is
// still active and not finalized.
func (l *CapLedger) IncrementEventTotal(tx *gorm.DB, eventID string, delta decimal.Decimal) (bool, error) {
	var event models.Event
	found, err := lockRow(tx, &event, "id = ? AND is_active = ? AND is_finalized = ?", eventID, true, false)
	if err != nil {
		return false, fmt.Errorf("lock event: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := tx.Model(&models.Event{}).Where("id = ?", event.ID).
		Update("total_usd_burned", event.TotalUsdBurned.Add(delta)).Error; err != nil {
		return false, fmt.Errorf("increment event total: %w", err)
	}
	return true, nil
}

// AddAllocation credits one burn to the wallet's running allocation and
// returns the updated row.
func (l *CapLedger) AddAllocation(tx *gorm.DB, eventID, wallet string, usd, allocation decimal.Decimal, now time.Time) (*models.Allocation, error) {
	if err := seedRow(tx, &models.Allocation{
		ID:              uuid.NewString(),
		EventID:         eventID,
		Wallet:          wallet,
		TotalUsdBurned:  decimal.Zero,
		TotalAllocation: decimal.Zero,
	}, "event_id", "wallet"); err != nil {
		return nil, fmt.Errorf("seed allocation: %w", err)
	}

	var row models.Allocation
	if _, err := lockRow(tx, &row, "event_id = ? AND wallet = ?", eventID, wallet); err != nil {
		return nil, fmt.Errorf("lock allocation: %w", err)
	}
	row.TotalUsdBurned = row.TotalUsdBurned.Add(usd)
	row.TotalAllocation = row.TotalAllocation.Add(allocation)
	row.BurnCount++
	if err := tx.Model(&models.Allocation{}).Where("id = ?", row.ID).Updates(map[string]any{
		"total_usd_burned": row.TotalUsdBurned,
		"total_allocation": row.TotalAllocation,
		"burn_count":       row.BurnCount,
		"updated_at":       now,
	}).Error; err != nil {
		return nil, fmt.Errorf("update allocation: %w", err)
	}
	return &row, nil
}

// AddReferral credits one referred burn to referrer.
func (l *CapLedger) AddReferral(tx *gorm.DB, eventID, referrer string, usd decimal.Decimal, now time.Time) error {
	if err := seedRow(tx, &models.Referral{
		ID:               uuid.NewString(),
		EventID:          eventID,
		ReferrerWallet:   referrer,
		TotalUsdReferred: decimal.Zero,
	}, "event_id", "referrer_wallet"); err != nil {
		return fmt.Errorf("seed referral: %w", err)
	}

	var row models.Referral
	if _, err := lockRow(tx, &row, "event_id = ? AND referrer_wallet = ?", eventID, referrer); err != nil {
		return fmt.Errorf("lock referral: %w", err)
	}
	if err := tx.Model(&models.Referral{}).Where("id = ?", row.ID).Updates(map[string]any{
		"successful_burns":   row.SuccessfulBurns + 1,
		"total_usd_referred": row.TotalUsdReferred.Add(usd),
		"last_referred_at":   now,
		"updated_at":         now,
	}).Error; err != nil {
		return fmt.Errorf("update referral: %w", err)
	}
	return nil
}

// ResetStaleDailyCounters zeroes asset counters whose window began before the
// UTC day of now. Counters already rolled by a settlement are left alone.
func (l *CapLedger) ResetStaleDailyCounters(ctx context.Context, now time.Time) (int64, error) {
	day := models.StartOfDay(now)
	res := l.DB.WithContext(ctx).
		Model(&models.AcceptedAsset{}).
		Where("daily_window_start < ?", day).
		Updates(map[string]any{
			"current_daily_burned_usd": decimal.Zero,
			"daily_window_start":       day,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reset daily counters: %w", res.Error)
	}
	return res.RowsAffected, nil
}
