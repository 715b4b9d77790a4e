package workers

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"burn-settlement-system/models"
	"burn-settlement-system/services"
)

// PriceWarmer keeps the oracle cache hot for every asset of the active event
// so quote issuance rarely waits on an upstream.
type PriceWarmer struct {
	DB     *gorm.DB
	Oracle services.PriceOracle
}

func NewPriceWarmer(db *gorm.DB, oracle services.PriceOracle) *PriceWarmer {
	return &PriceWarmer{DB: db, Oracle: oracle}
}

// WarmOnce fetches a price for each active asset and returns how many succeeded.
func (w *PriceWarmer) WarmOnce(ctx context.Context) (int, error) {
	var assets []models.AcceptedAsset
	err := w.DB.WithContext(ctx).
		Joins("JOIN events ON events.id = accepted_assets.event_id").
		Where("events.is_active = ? AND accepted_assets.is_active = ?", true, true).
		Find(&assets).Error
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, a := range assets {
		if _, err := w.Oracle.GetPrice(ctx, a.AssetID); err != nil {
			log.Printf("❌ [PriceWarmer] %s (%s): %v", a.Symbol, a.AssetID, err)
			continue
		}
		warmed++
	}
	return warmed, nil
}

// PollPrices runs WarmOnce every interval until ctx is done.
func PollPrices(ctx context.Context, w *PriceWarmer, interval time.Duration) {
	log.Println("Starting price warmer...")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price warmer stopped.")
			return
		case <-ticker.C:
			if _, err := w.WarmOnce(ctx); err != nil {
				log.Printf("❌ [PriceWarmer] Failed to load active assets: %v", err)
			}
		}
	}
}
