// services/event_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"burn-settlement-system/database"
	"burn-settlement-system/models"
)

const defaultQuoteTTLSeconds = 120

type EventService struct {
	DB  *gorm.DB
	Now Clock
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db, Now: systemClock}
}

type AssetInput struct {
	AssetID     string          `json:"asset_id"`
	Symbol      string          `json:"symbol"`
	Decimals    int             `json:"decimals"`
	DailyCapUsd decimal.Decimal `json:"daily_cap_usd"`
}

type CreateEventInput struct {
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Description     string          `json:"description"`
	StartsAt        time.Time       `json:"starts_at"`
	EndsAt          time.Time       `json:"ends_at"`
	MinUsdPerTx     decimal.Decimal `json:"min_usd_per_tx"`
	MaxUsdPerTx     decimal.Decimal `json:"max_usd_per_tx"`
	MaxUsdPerWallet decimal.Decimal `json:"max_usd_per_wallet"`
	QuoteTTLSeconds int             `json:"quote_ttl_seconds"`
	Assets          []AssetInput    `json:"assets"`
}

type AssetUpdate struct {
	DailyCapUsd *decimal.Decimal `json:"daily_cap_usd"`
	IsActive    *bool            `json:"is_active"`
	Symbol      *string          `json:"symbol"`
}

func (in *CreateEventInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return newError(KindInvalidArgument, "event name is required")
	}
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() || !in.EndsAt.After(in.StartsAt) {
		return newError(KindInvalidArgument, "event window must end after it starts")
	}
	if in.MinUsdPerTx.IsNegative() {
		return newError(KindInvalidArgument, "min_usd_per_tx cannot be negative")
	}
	if !in.MaxUsdPerTx.IsPositive() || in.MaxUsdPerTx.LessThan(in.MinUsdPerTx) {
		return newError(KindInvalidArgument, "max_usd_per_tx must be positive and >= min_usd_per_tx")
	}
	if !in.MaxUsdPerWallet.IsPositive() {
		return newError(KindInvalidArgument, "max_usd_per_wallet must be positive")
	}
	if in.QuoteTTLSeconds < 0 {
		return newError(KindInvalidArgument, "quote_ttl_seconds cannot be negative")
	}
	if in.QuoteTTLSeconds == 0 {
		in.QuoteTTLSeconds = defaultQuoteTTLSeconds
	}
	if in.Slug == "" {
		in.Slug = slug.Make(in.Name)
	} else {
		in.Slug = slug.Make(in.Slug)
	}
	if in.Slug == "" {
		return newError(KindInvalidArgument, "event slug is empty")
	}
	for i := range in.Assets {
		if err := in.Assets[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (in *AssetInput) validate() error {
	in.AssetID = strings.TrimSpace(in.AssetID)
	if in.AssetID == "" {
		return newError(KindInvalidArgument, "asset_id is required")
	}
	if in.Decimals < 0 || in.Decimals > 18 {
		return newError(KindInvalidArgument, "asset %s: decimals out of range", in.AssetID)
	}
	if in.DailyCapUsd.IsNegative() {
		return newError(KindInvalidArgument, "asset %s: daily_cap_usd cannot be negative", in.AssetID)
	}
	return nil
}

func (in AssetInput) toModel(eventID string, now time.Time) models.AcceptedAsset {
	return models.AcceptedAsset{
		ID:                    uuid.NewString(),
		EventID:               eventID,
		AssetID:               in.AssetID,
		Symbol:                strings.ToUpper(strings.TrimSpace(in.Symbol)),
		Decimals:              in.Decimals,
		IsActive:              true,
		DailyCapUsd:           in.DailyCapUsd,
		CurrentDailyBurnedUsd: decimal.Zero,
		DailyWindowStart:      models.StartOfDay(now),
	}
}

// CreateEvent stores a new, inactive event together with its assets.
func (s *EventService) CreateEvent(ctx context.Context, in CreateEventInput) (*models.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.Now()
	event := models.Event{
		ID:              uuid.NewString(),
		Slug:            in.Slug,
		Name:            in.Name,
		Description:     in.Description,
		StartsAt:        in.StartsAt.UTC(),
		EndsAt:          in.EndsAt.UTC(),
		MinUsdPerTx:     in.MinUsdPerTx,
		MaxUsdPerTx:     in.MaxUsdPerTx,
		MaxUsdPerWallet: in.MaxUsdPerWallet,
		QuoteTTLSeconds: in.QuoteTTLSeconds,
		TotalUsdBurned:  decimal.Zero,
	}
	for _, a := range in.Assets {
		event.Assets = append(event.Assets, a.toModel(event.ID, now))
	}

	if err := s.DB.WithContext(ctx).Create(&event).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, wrapError(KindInvalidArgument, err, "event %q or one of its assets already exists", event.Slug)
		}
		return nil, internalError(err, "create event")
	}
	slog.Info("[Events] created event", "event_id", event.ID, "slug", event.Slug, "assets", len(event.Assets))
	return &event, nil
}

// loadMutable returns the event inside tx, rejecting finalized ones.
func (s *EventService) loadMutable(tx *gorm.DB, eventID string) (*models.Event, error) {
	var event models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&event, "id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, internalError(err, "load event")
	}
	if event.IsFinalized {
		return nil, newError(KindPreconditionFailed, "event %s is finalized", eventID)
	}
	return &event, nil
}

// AddAsset accepts a new asset for a non-finalized event.
func (s *EventService) AddAsset(ctx context.Context, eventID string, in AssetInput) (*models.AcceptedAsset, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var asset models.AcceptedAsset
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadMutable(tx, eventID); err != nil {
			return err
		}
		asset = in.toModel(eventID, s.Now())
		if err := tx.Create(&asset).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return wrapError(KindInvalidArgument, err, "asset %s already accepted by event", in.AssetID)
			}
			return internalError(err, "create asset")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// UpdateAsset changes an asset's cap, symbol or active flag.
func (s *EventService) UpdateAsset(ctx context.Context, assetRowID string, in AssetUpdate) (*models.AcceptedAsset, error) {
	if in.DailyCapUsd != nil && in.DailyCapUsd.IsNegative() {
		return nil, newError(KindInvalidArgument, "daily_cap_usd cannot be negative")
	}
	var asset models.AcceptedAsset
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&asset, "id = ?", assetRowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "asset %s not found", assetRowID)
			}
			return internalError(err, "load asset")
		}
		if _, err := s.loadMutable(tx, asset.EventID); err != nil {
			return err
		}
		updates := map[string]any{}
		if in.DailyCapUsd != nil {
			updates["daily_cap_usd"] = *in.DailyCapUsd
		}
		if in.IsActive != nil {
			updates["is_active"] = *in.IsActive
		}
		if in.Symbol != nil {
			updates["symbol"] = strings.ToUpper(strings.TrimSpace(*in.Symbol))
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&asset).Updates(updates).Error; err != nil {
			return internalError(err, "update asset")
		}
		return tx.First(&asset, "id = ?", assetRowID).Error
	})
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// ActivateEvent makes eventID the single active event, deactivating any other.
func (s *EventService) ActivateEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event *models.Event
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = s.loadMutable(tx, eventID); err != nil {
			return err
		}
		if event.IsActive {
			return nil
		}
		if err := tx.Model(&models.Event{}).
			Where("is_active = ? AND id <> ?", true, eventID).
			Update("is_active", false).Error; err != nil {
			return internalError(err, "deactivate events")
		}
		if err := tx.Model(event).Update("is_active", true).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return wrapError(KindPreconditionFailed, err, "another event became active concurrently")
			}
			return internalError(err, "activate event")
		}
		event.IsActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("[Events] activated event", "event_id", eventID)
	return event, nil
}

// FinalizeEvent closes the event for good. Settlements still in flight fail
// their guarded total increment and roll back.
func (s *EventService) FinalizeEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event *models.Event
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = s.loadMutable(tx, eventID); err != nil {
			return err
		}
		now := s.Now()
		if err := tx.Model(event).Updates(map[string]any{
			"is_active":    false,
			"is_finalized": true,
			"finalized_at": now,
		}).Error; err != nil {
			return internalError(err, "finalize event")
		}
		event.IsActive = false
		event.IsFinalized = true
		event.FinalizedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("[Events] finalized event", "event_id", eventID, "total_usd_burned", event.TotalUsdBurned.String())
	return event, nil
}

// GetEvent loads an event with its assets.
func (s *EventService) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := s.DB.WithContext(ctx).Preload("Assets").First(&event, "id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, internalError(err, "load event")
	}
	return &event, nil
}

// ResolveEvent maps a selector to an event: "" or "active" is the currently
// active event, anything else is an id or a slug.
func (s *EventService) ResolveEvent(ctx context.Context, selector string) (*models.Event, error) {
	return resolveEvent(s.DB.WithContext(ctx), selector)
}

func resolveEvent(db *gorm.DB, selector string) (*models.Event, error) {
	selector = strings.TrimSpace(selector)
	var event models.Event
	var err error
	switch selector {
	case "", "active":
		err = db.Preload("Assets").Where("is_active = ?", true).First(&event).Error
	default:
		err = db.Preload("Assets").Where("id = ? OR slug = ?", selector, selector).First(&event).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if selector == "" || selector == "active" {
			return nil, newError(KindNotFound, "no active event")
		}
		return nil, newError(KindNotFound, "event %q not found", selector)
	}
	if err != nil {
		return nil, internalError(err, "resolve event")
	}
	return &event, nil
}

// eventFile mirrors the YAML bootstrap format.
type eventFile struct {
	Events []eventEntry `yaml:"events"`
}

type eventEntry struct {
	Name            string       `yaml:"name"`
	Slug            string       `yaml:"slug"`
	Description     string       `yaml:"description"`
	StartsAt        time.Time    `yaml:"starts_at"`
	EndsAt          time.Time    `yaml:"ends_at"`
	MinUsdPerTx     string       `yaml:"min_usd_per_tx"`
	MaxUsdPerTx     string       `yaml:"max_usd_per_tx"`
	MaxUsdPerWallet string       `yaml:"max_usd_per_wallet"`
	QuoteTTLSeconds int          `yaml:"quote_ttl_seconds"`
	Active          bool         `yaml:"active"`
	Assets          []assetEntry `yaml:"assets"`
}

type assetEntry struct {
	AssetID     string `yaml:"asset_id"`
	Symbol      string `yaml:"symbol"`
	Decimals    int    `yaml:"decimals"`
	DailyCapUsd string `yaml:"daily_cap_usd"`
}

func parseUsd(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func (e eventEntry) toInput() (CreateEventInput, error) {
	in := CreateEventInput{
		Name:            e.Name,
		Slug:            e.Slug,
		Description:     e.Description,
		StartsAt:        e.StartsAt,
		EndsAt:          e.EndsAt,
		QuoteTTLSeconds: e.QuoteTTLSeconds,
	}
	var err error
	if in.MinUsdPerTx, err = parseUsd("min_usd_per_tx", e.MinUsdPerTx); err != nil {
		return in, err
	}
	if in.MaxUsdPerTx, err = parseUsd("max_usd_per_tx", e.MaxUsdPerTx); err != nil {
		return in, err
	}
	if in.MaxUsdPerWallet, err = parseUsd("max_usd_per_wallet", e.MaxUsdPerWallet); err != nil {
		return in, err
	}
	for _, a := range e.Assets {
		capUsd, err := parseUsd("daily_cap_usd", a.DailyCapUsd)
		if err != nil {
			return in, fmt.Errorf("asset %s: %w", a.AssetID, err)
		}
		in.Assets = append(in.Assets, AssetInput{
			AssetID:     a.AssetID,
			Symbol:      a.Symbol,
			Decimals:    a.Decimals,
			DailyCapUsd: capUsd,
		})
	}
	return in, nil
}

// LoadEventsFile creates the events listed in a YAML file. Events whose slug
// already exists are skipped, so the file can be applied on every boot.
func (s *EventService) LoadEventsFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read events file: %w", err)
	}
	var file eventFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("decode events file: %w", err)
	}

	created := 0
	for i, entry := range file.Events {
		in, err := entry.toInput()
		if err != nil {
			return created, fmt.Errorf("event %d (%s): %w", i, entry.Name, err)
		}
		key := in.Slug
		if key == "" {
			key = in.Name
		}
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Event{}).Where("slug = ?", slug.Make(key)).Count(&count).Error; err != nil {
			return created, fmt.Errorf("lookup event %s: %w", key, err)
		}
		if count > 0 {
			continue
		}
		event, err := s.CreateEvent(ctx, in)
		if err != nil {
			return created, fmt.Errorf("event %d (%s): %w", i, entry.Name, err)
		}
		created++
		if entry.Active {
			if _, err := s.ActivateEvent(ctx, event.ID); err != nil {
				return created, fmt.Errorf("activate %s: %w", event.Slug, err)
			}
		}
	}
	return created, nil
}
