// services/quote_service.go
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"burn-settlement-system/metrics"
	"burn-settlement-system/models"
	"burn-settlement-system/oracle"
)

const defaultOracleTimeout = 5 * time.Second

type QuoteService struct {
	DB            *gorm.DB
	Oracle        PriceOracle
	Policy        AllocationPolicy
	OracleTimeout time.Duration
	Now           Clock
}

func NewQuoteService(db *gorm.DB, oracle PriceOracle, policy AllocationPolicy) *QuoteService {
	return &QuoteService{
		DB:            db,
		Oracle:        oracle,
		Policy:        policy,
		OracleTimeout: defaultOracleTimeout,
		Now:           systemClock,
	}
}

type QuoteRequest struct {
	EventSelector string `json:"event"`
	Wallet        string `json:"wallet"`
	AssetID       string `json:"asset_id"`
	AssetAmount   string `json:"asset_amount"`
}

type QuoteResult struct {
	QuoteID              string          `json:"quote_id"`
	EventID              string          `json:"event_id"`
	UsdValue             decimal.Decimal `json:"usd_value"`
	LockedPrice          decimal.Decimal `json:"locked_price"`
	PriceSource          string          `json:"price_source"`
	EstimatedAllocation  decimal.Decimal `json:"estimated_allocation"`
	ExpiresAt            time.Time       `json:"expires_at"`
	RemainingCapUsd      decimal.Decimal `json:"remaining_cap_usd"`
	WalletBurnedTodayUsd decimal.Decimal `json:"wallet_burned_today_usd"`
	MaxAllowedUsd        decimal.Decimal `json:"max_allowed_usd"`
}

type QuoteValidation struct {
	IsValid bool          `json:"is_valid"`
	Reason  Kind          `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
	Quote   *models.Quote `json:"quote,omitempty"`
}

// IssueQuote prices a prospective burn and persists a time-boxed quote. The
// cap checks here are advisory; Settle enforces them.
func (s *QuoteService) IssueQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	res, err := s.issue(ctx, req)
	if err != nil {
		metrics.Engine().ObserveQuoteRejected(string(KindOf(err)))
		slog.Info("[Quote] rejected", "wallet", req.Wallet, "asset", req.AssetID, "kind", KindOf(err), "error", err)
		return nil, err
	}
	return res, nil
}

func (s *QuoteService) issue(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	wallet := strings.TrimSpace(req.Wallet)
	if wallet == "" {
		return nil, newError(KindInvalidArgument, "wallet is required")
	}
	now := s.Now()
	db := s.DB.WithContext(ctx)

	event, err := resolveEvent(db, req.EventSelector)
	if err != nil {
		return nil, err
	}
	if err := checkEventOpen(event, now); err != nil {
		return nil, err
	}

	asset, err := findActiveAsset(event, req.AssetID)
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(req.AssetAmount, asset.Decimals)
	if err != nil {
		return nil, err
	}

	price, err := s.lookupPrice(ctx, asset.AssetID)
	if err != nil {
		return nil, err
	}

	usd := amount.Mul(price.USD)
	if usd.LessThan(event.MinUsdPerTx) {
		return nil, newError(KindInvalidArgument, "usd value %s is below the minimum of %s", usd, event.MinUsdPerTx)
	}
	if usd.GreaterThan(event.MaxUsdPerTx) {
		return nil, newError(KindCapExceeded, "usd value %s exceeds the per-transaction maximum of %s", usd, event.MaxUsdPerTx)
	}

	burnedToday, err := walletBurnedSince(db, event.ID, wallet, models.StartOfDay(now))
	if err != nil {
		return nil, err
	}
	if burnedToday.Add(usd).GreaterThan(event.MaxUsdPerWallet) {
		return nil, newError(KindCapExceeded, "wallet daily maximum of %s would be exceeded (burned today %s)", event.MaxUsdPerWallet, burnedToday)
	}

	remaining := asset.RemainingCap(now)
	if usd.GreaterThan(remaining) {
		return nil, newError(KindCapExceeded, "asset %s daily cap remaining is %s", asset.AssetID, remaining)
	}

	quote := models.Quote{
		ID:                  uuid.NewString(),
		EventID:             event.ID,
		Wallet:              wallet,
		AssetID:             asset.AssetID,
		AssetAmount:         amount,
		UsdValue:            usd,
		LockedPrice:         price.USD,
		PriceSource:         price.Source,
		EstimatedAllocation: s.Policy.Allocate(usd),
		ExpiresAt:           now.Add(event.QuoteTTL()),
		CreatedAt:           now,
	}
	if err := db.Create(&quote).Error; err != nil {
		return nil, internalError(err, "store quote")
	}

	maxAllowed := decimal.Min(event.MaxUsdPerTx, event.MaxUsdPerWallet.Sub(burnedToday), remaining)
	metrics.Engine().ObserveQuoteIssued(asset.Symbol)
	slog.Info("[Quote] issued", "quote_id", quote.ID, "wallet", wallet, "asset", asset.AssetID, "usd", usd.String())

	return &QuoteResult{
		QuoteID:              quote.ID,
		EventID:              event.ID,
		UsdValue:             usd,
		LockedPrice:          price.USD,
		PriceSource:          price.Source,
		EstimatedAllocation:  quote.EstimatedAllocation,
		ExpiresAt:            quote.ExpiresAt,
		RemainingCapUsd:      remaining,
		WalletBurnedTodayUsd: burnedToday,
		MaxAllowedUsd:        maxAllowed,
	}, nil
}

func (s *QuoteService) lookupPrice(ctx context.Context, assetID string) (oracle.Price, error) {
	timeout := s.OracleTimeout
	if timeout <= 0 {
		timeout = defaultOracleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	price, err := s.Oracle.GetPrice(ctx, assetID)
	if err != nil {
		return oracle.Price{}, wrapError(KindUnavailable, err, "price unavailable for %s", assetID)
	}
	if !price.USD.IsPositive() {
		return oracle.Price{}, newError(KindUnavailable, "price unavailable for %s", assetID)
	}
	return price, nil
}

// ValidateQuote re-runs the redeemability checks without mutating anything.
// Missing quotes and foreign wallets are errors; every other reason is
// reported in the result.
func (s *QuoteService) ValidateQuote(ctx context.Context, quoteID, wallet string) (*QuoteValidation, error) {
	db := s.DB.WithContext(ctx)
	quote, err := loadQuote(db, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Wallet != strings.TrimSpace(wallet) {
		return nil, newError(KindPermissionDenied, "quote belongs to another wallet")
	}

	now := s.Now()
	out := &QuoteValidation{Quote: quote}
	reject := func(e *Error) (*QuoteValidation, error) {
		out.Reason = e.Kind
		out.Message = e.Message
		return out, nil
	}

	if quote.IsUsed {
		return reject(newError(KindAlreadyUsed, "quote already used"))
	}
	if quote.Expired(now) {
		return reject(newError(KindExpired, "quote expired at %s", quote.ExpiresAt.Format(time.RFC3339)))
	}
	event, err := resolveEvent(db, quote.EventID)
	if err != nil {
		return nil, err
	}
	if err := checkEventOpen(event, now); err != nil {
		var e *Error
		errors.As(err, &e)
		return reject(e)
	}
	asset, err := findActiveAsset(event, quote.AssetID)
	if err != nil {
		var e *Error
		errors.As(err, &e)
		return reject(e)
	}
	if quote.UsdValue.GreaterThan(asset.RemainingCap(now)) {
		return reject(newError(KindCapExceeded, "asset daily cap no longer covers this quote"))
	}
	usedToday, err := walletUsageOn(db, event.ID, quote.Wallet, now)
	if err != nil {
		return nil, err
	}
	if usedToday.Add(quote.UsdValue).GreaterThan(event.MaxUsdPerWallet) {
		return reject(newError(KindCapExceeded, "wallet daily maximum of %s no longer covers this quote", event.MaxUsdPerWallet))
	}

	out.IsValid = true
	return out, nil
}

func loadQuote(db *gorm.DB, quoteID string) (*models.Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if _, err := uuid.Parse(quoteID); err != nil {
		return nil, newError(KindNotFound, "quote %q not found", quoteID)
	}
	var quote models.Quote
	err := db.First(&quote, "id = ?", quoteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "quote %s not found", quoteID)
	}
	if err != nil {
		return nil, internalError(err, "load quote")
	}
	return &quote, nil
}

func checkEventOpen(event *models.Event, now time.Time) error {
	switch {
	case event.IsFinalized:
		return newError(KindPreconditionFailed, "event %s is finalized", event.Slug)
	case !event.IsActive:
		return newError(KindPreconditionFailed, "event %s is not active", event.Slug)
	case !event.InWindow(now):
		return newError(KindPreconditionFailed, "event %s is outside its burn window", event.Slug)
	}
	return nil
}

func findActiveAsset(event *models.Event, assetID string) (*models.AcceptedAsset, error) {
	assetID = strings.TrimSpace(assetID)
	for i := range event.Assets {
		a := &event.Assets[i]
		if a.AssetID == assetID {
			if !a.IsActive {
				return nil, newError(KindInvalidArgument, "asset %s is not accepted right now", assetID)
			}
			return a, nil
		}
	}
	return nil, newError(KindInvalidArgument, "asset %q is not accepted by event %s", assetID, event.Slug)
}

const (
	maxAmountLength   = 64
	maxAmountExponent = 64
)

// maxAmount keeps usd values inside numeric(38,18) for any sane price.
var maxAmount = decimal.New(1, 20)

// parseAmount accepts a positive amount with at most decimals fractional
// digits. Length and exponent are bounded before any arithmetic so a short
// input cannot expand into a huge number.
func parseAmount(raw string, decimals int) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAmountLength {
		return decimal.Zero, newError(KindInvalidArgument, "asset amount is longer than %d characters", maxAmountLength)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, wrapError(KindInvalidArgument, err, "asset amount %q is not a number", raw)
	}
	if exp := amount.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Zero, newError(KindInvalidArgument, "asset amount %q is out of range", raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, newError(KindInvalidArgument, "asset amount must be positive")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, newError(KindInvalidArgument, "asset amount %q is out of range", raw)
	}
	if !amount.Equal(amount.Truncate(int32(decimals))) {
		return decimal.Zero, newError(KindInvalidArgument, "asset amount %q has more than %d decimal places", raw, decimals)
	}
	return amount, nil
}

// walletUsageOn reads the wallet's settled usage for the UTC day of now, the
// same counter Settle bounds.
func walletUsageOn(db *gorm.DB, eventID, wallet string, now time.Time) (decimal.Decimal, error) {
	var usage models.WalletDailyUsage
	err := db.Where("event_id = ? AND wallet = ? AND day = ?", eventID, wallet, models.DayKey(now)).Take(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, internalError(err, "load wallet daily usage")
	}
	return usage.BurnedUsd, nil
}

// walletBurnedSince sums the wallet's settled burns in the event since start.
func walletBurnedSince(db *gorm.DB, eventID, wallet string, start time.Time) (decimal.Decimal, error) {
	var burns []models.Burn
	if err := db.Select("usd_value_at_burn").
		Where("event_id = ? AND wallet = ? AND created_at >= ?", eventID, wallet, start).
		Find(&burns).Error; err != nil {
		return decimal.Zero, internalError(err, "sum wallet burns")
	}
	total := decimal.Zero
	for _, b := range burns {
		total = total.Add(b.UsdValueAtBurn)
	}
	return total, nil
}
