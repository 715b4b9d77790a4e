package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"time"

	"burn-settlement-system/models"
)

// BurnSource lists burns created in [from, to).
type BurnSource interface {
	BurnsBetween(ctx context.Context, from, to time.Time) ([]models.Burn, error)
}

// BurnExporter writes one CSV per UTC day of settled burns.
type BurnExporter struct {
	Source   BurnSource
	Uploader Uploader
	Prefix   string
}

var csvHeader = []string{
	"burn_id", "event_id", "wallet", "asset_id", "asset_amount", "usd_value_at_burn",
	"locked_price", "allocation_estimate", "transaction_signature", "referrer_wallet",
	"quote_id", "created_at",
}

// ExportDay uploads the burns of the UTC day containing day and returns the
// object key and row count.
func (e *BurnExporter) ExportDay(ctx context.Context, day time.Time) (string, int, error) {
	from := models.StartOfDay(day)
	burns, err := e.Source.BurnsBetween(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return "", 0, err
	}
	body, err := EncodeBurnsCSV(burns)
	if err != nil {
		return "", 0, err
	}
	key := path.Join(e.Prefix, models.DayKey(from)+".csv")
	if err := e.Uploader.Upload(ctx, key, body, "text/csv"); err != nil {
		return "", 0, err
	}
	return key, len(burns), nil
}

// EncodeBurnsCSV renders burns with a header row. Decimals keep full precision.
func EncodeBurnsCSV(burns []models.Burn) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, b := range burns {
		referrer := ""
		if b.ReferrerWallet != nil {
			referrer = *b.ReferrerWallet
		}
		if err := w.Write([]string{
			b.ID, b.EventID, b.Wallet, b.AssetID,
			b.AssetAmount.String(), b.UsdValueAtBurn.String(), b.LockedPrice.String(), b.AllocationEstimate.String(),
			b.TransactionSignature, referrer, b.QuoteID, b.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode burns csv: %w", err)
	}
	return buf.Bytes(), nil
}
