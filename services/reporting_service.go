// services/reporting_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"burn-settlement-system/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ReportingService answers read-only questions about settled burns.
type ReportingService struct {
	DB  *gorm.DB
	Now Clock
}

func NewReportingService(db *gorm.DB) *ReportingService {
	return &ReportingService{DB: db, Now: systemClock}
}

type BurnFilter struct {
	Wallet        string
	EventSelector string
	Page          int
	PageSize      int
}

type BurnPage struct {
	Burns    []models.Burn `json:"burns"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type AssetStats struct {
	AssetID         string          `json:"asset_id"`
	Symbol          string          `json:"symbol"`
	IsActive        bool            `json:"is_active"`
	DailyCapUsd     decimal.Decimal `json:"daily_cap_usd"`
	BurnedTodayUsd  decimal.Decimal `json:"burned_today_usd"`
	RemainingCapUsd decimal.Decimal `json:"remaining_cap_usd"`
}

type EventStats struct {
	EventID          string          `json:"event_id"`
	Slug             string          `json:"slug"`
	IsActive         bool            `json:"is_active"`
	IsFinalized      bool            `json:"is_finalized"`
	TotalUsdBurned   decimal.Decimal `json:"total_usd_burned"`
	BurnCount        int64           `json:"burn_count"`
	ParticipantCount int64           `json:"participant_count"`
	Assets           []AssetStats    `json:"assets"`
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// ListBurns pages through a wallet's burns, newest first, optionally within
// one event.
func (s *ReportingService) ListBurns(ctx context.Context, f BurnFilter) (*BurnPage, error) {
	wallet := strings.TrimSpace(f.Wallet)
	if wallet == "" {
		return nil, newError(KindInvalidArgument, "wallet is required")
	}
	db := s.DB.WithContext(ctx)
	page, size := normalizePage(f.Page, f.PageSize)

	q := db.Model(&models.Burn{}).Where("wallet = ?", wallet)
	if f.EventSelector != "" {
		event, err := resolveEvent(db, f.EventSelector)
		if err != nil {
			return nil, err
		}
		q = q.Where("event_id = ?", event.ID)
	}

	out := &BurnPage{Page: page, PageSize: size, Burns: []models.Burn{}}
	if err := q.Count(&out.Total).Error; err != nil {
		return nil, internalError(err, "count burns")
	}
	if err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&out.Burns).Error; err != nil {
		return nil, internalError(err, "list burns")
	}
	return out, nil
}

// GetAllocation returns the wallet's running allocation in the event.
func (s *ReportingService) GetAllocation(ctx context.Context, selector, wallet string) (*models.Allocation, error) {
	db := s.DB.WithContext(ctx)
	event, err := resolveEvent(db, selector)
	if err != nil {
		return nil, err
	}
	var alloc models.Allocation
	err = db.First(&alloc, "event_id = ? AND wallet = ?", event.ID, strings.TrimSpace(wallet)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "wallet has no allocation in event %s", event.Slug)
	}
	if err != nil {
		return nil, internalError(err, "load allocation")
	}
	return &alloc, nil
}

// Leaderboard lists the largest allocations in the event.
func (s *ReportingService) Leaderboard(ctx context.Context, selector string, limit int) ([]models.Allocation, error) {
	db := s.DB.WithContext(ctx)
	event, err := resolveEvent(db, selector)
	if err != nil {
		return nil, err
	}
	rows := []models.Allocation{}
	if err := db.Where("event_id = ?", event.ID).
		Order("total_usd_burned DESC").Order("created_at ASC").
		Limit(clampLimit(limit)).
		Find(&rows).Error; err != nil {
		return nil, internalError(err, "leaderboard")
	}
	return rows, nil
}

// ReferralLeaderboard lists the referrers who brought in the most USD.
func (s *ReportingService) ReferralLeaderboard(ctx context.Context, selector string, limit int) ([]models.Referral, error) {
	db := s.DB.WithContext(ctx)
	event, err := resolveEvent(db, selector)
	if err != nil {
		return nil, err
	}
	rows := []models.Referral{}
	if err := db.Where("event_id = ?", event.ID).
		Order("total_usd_referred DESC").Order("successful_burns DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error; err != nil {
		return nil, internalError(err, "referral leaderboard")
	}
	return rows, nil
}

// EventStats summarises an event and today's per-asset cap usage.
func (s *ReportingService) EventStats(ctx context.Context, selector string) (*EventStats, error) {
	db := s.DB.WithContext(ctx)
	event, err := resolveEvent(db, selector)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	stats := &EventStats{
		EventID:        event.ID,
		Slug:           event.Slug,
		IsActive:       event.IsActive,
		IsFinalized:    event.IsFinalized,
		TotalUsdBurned: event.TotalUsdBurned,
		Assets:         make([]AssetStats, 0, len(event.Assets)),
	}
	if err := db.Model(&models.Burn{}).Where("event_id = ?", event.ID).Count(&stats.BurnCount).Error; err != nil {
		return nil, internalError(err, "count burns")
	}
	if err := db.Model(&models.Allocation{}).Where("event_id = ?", event.ID).Count(&stats.ParticipantCount).Error; err != nil {
		return nil, internalError(err, "count participants")
	}
	for _, a := range event.Assets {
		used := decimal.Zero
		if !a.DailyWindowStart.Before(models.StartOfDay(now)) {
			used = a.CurrentDailyBurnedUsd
		}
		remaining := a.RemainingCap(now)
		stats.Assets = append(stats.Assets, AssetStats{
			AssetID:         a.AssetID,
			Symbol:          a.Symbol,
			IsActive:        a.IsActive,
			DailyCapUsd:     a.DailyCapUsd,
			BurnedTodayUsd:  used,
			RemainingCapUsd: remaining,
		})
	}
	return stats, nil
}

// BurnsBetween returns every burn created in [from, to), oldest first.
func (s *ReportingService) BurnsBetween(ctx context.Context, from, to time.Time) ([]models.Burn, error) {
	rows := []models.Burn{}
	if err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, internalError(err, "burns between")
	}
	return rows, nil
}
