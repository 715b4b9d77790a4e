// services/settlement_service.go
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

	"burn-settlement-system/database"
	"burn-settlement-system/metrics"
	"burn-settlement-system/models"
	"burn-settlement-system/verifier"
)

const defaultVerifierTimeout = 10 * time.Second

type SettlementService struct {
	DB              *gorm.DB
	Ledger          *CapLedger
	Verifier        TransactionVerifier
	VerifierTimeout time.Duration
	Now             Clock
}

func NewSettlementService(db *gorm.DB, v TransactionVerifier) *SettlementService {
	return &SettlementService{
		DB:              db,
		Ledger:          NewCapLedger(db),
		Verifier:        v,
		VerifierTimeout: defaultVerifierTimeout,
		Now:             systemClock,
	}
}

type SettleRequest struct {
	QuoteID              string `json:"quote_id"`
	Wallet               string `json:"wallet"`
	TransactionSignature string `json:"transaction_signature"`
	ReferrerWallet       string `json:"referrer_wallet,omitempty"`
}

type SettlementResult struct {
	BurnID               string          `json:"burn_id"`
	UsdValueBurned       decimal.Decimal `json:"usd_value_burned"`
	Allocation           decimal.Decimal `json:"allocation"`
	TransactionSignature string          `json:"transaction_signature"`
	WalletNewTotal       decimal.Decimal `json:"wallet_new_total_usd"`
	WalletAllocation     decimal.Decimal `json:"wallet_total_allocation"`
}

// Settle turns a quote plus a verified on-chain burn into ledger state. Either
// every aggregate moves together with the Burn row, or nothing changes and
// the quote stays redeemable.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*SettlementResult, error) {
	started := time.Now()
	req.QuoteID = strings.TrimSpace(req.QuoteID)
	req.Wallet = strings.TrimSpace(req.Wallet)
	req.TransactionSignature = strings.TrimSpace(req.TransactionSignature)
	req.ReferrerWallet = strings.TrimSpace(req.ReferrerWallet)

	attempt := s.openAttempt(ctx, req)
	res, err := s.settle(ctx, req, attempt)
	if err != nil {
		kind := KindOf(err)
		s.closeAttempt(ctx, attempt, models.SettlementRejected, nil, err)
		metrics.Engine().ObserveSettlement(string(kind), started)
		slog.Warn("[Settle] rejected", "quote_id", req.QuoteID, "wallet", req.Wallet, "kind", kind, "error", err)
		return nil, err
	}
	s.closeAttempt(ctx, attempt, models.SettlementSettled, &res.BurnID, nil)
	metrics.Engine().ObserveSettlement("settled", started)
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, req SettleRequest, attempt *models.SettlementAttempt) (*SettlementResult, error) {
	db := s.DB.WithContext(ctx)
	now := s.Now()

	// 1. quote
	quote, err := loadQuote(db, req.QuoteID)
	if err != nil {
		return nil, err
	}
	if quote.Wallet != req.Wallet {
		return nil, newError(KindPermissionDenied, "quote belongs to another wallet")
	}
	if quote.IsUsed {
		return nil, newError(KindAlreadyUsed, "quote %s already used", quote.ID)
	}
	if quote.Expired(now) {
		return nil, newError(KindExpired, "quote %s expired at %s", quote.ID, quote.ExpiresAt.Format(time.RFC3339))
	}
	if err := verifier.ValidateSignature(req.TransactionSignature); err != nil {
		return nil, wrapError(KindInvalidArgument, err, "invalid transaction signature")
	}

	// 2. signature replay
	var seen int64
	if err := db.Model(&models.Burn{}).Where("transaction_signature = ?", req.TransactionSignature).Count(&seen).Error; err != nil {
		return nil, internalError(err, "lookup signature")
	}
	if seen > 0 {
		return nil, newError(KindAlreadyProcessed, "transaction %s already settled", req.TransactionSignature)
	}

	// 3. chain proof, outside any transaction
	s.markAttempt(ctx, attempt, models.SettlementVerifying)
	if err := s.verify(ctx, quote, req.TransactionSignature); err != nil {
		return nil, err
	}

	// 4. event still open
	now = s.Now()
	event, err := resolveEvent(db, quote.EventID)
	if err != nil {
		return nil, err
	}
	if err := checkEventOpen(event, now); err != nil {
		return nil, err
	}
	var asset *models.AcceptedAsset
	for i := range event.Assets {
		if event.Assets[i].AssetID == quote.AssetID {
			asset = &event.Assets[i]
		}
	}
	if asset == nil || !asset.IsActive {
		return nil, newError(KindPreconditionFailed, "asset %s is no longer accepted", quote.AssetID)
	}

	// 5. commit; the quote fixed both the usd value and the allocation
	usd := quote.UsdValue
	allocation := quote.EstimatedAllocation
	burn := models.Burn{
		ID:                   uuid.NewString(),
		EventID:              event.ID,
		Wallet:               quote.Wallet,
		AssetID:              quote.AssetID,
		AssetAmount:          quote.AssetAmount,
		UsdValueAtBurn:       usd,
		LockedPrice:          quote.LockedPrice,
		AllocationEstimate:   allocation,
		TransactionSignature: req.TransactionSignature,
		QuoteID:              quote.ID,
		CreatedAt:            now,
	}
	referrer := req.ReferrerWallet
	if referrer != "" && referrer != quote.Wallet {
		burn.ReferrerWallet = &referrer
	}

	var total models.Allocation
	err = db.Transaction(func(tx *gorm.DB) error {
		latch := tx.Model(&models.Quote{}).
			Where("id = ? AND is_used = ?", quote.ID, false).
			Updates(map[string]any{"is_used": true, "used_at": now})
		if latch.Error != nil {
			return internalError(latch.Error, "mark quote used")
		}
		if latch.RowsAffected == 0 {
			return newError(KindAlreadyUsed, "quote %s already used", quote.ID)
		}

		if err := tx.Create(&burn).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return wrapError(KindAlreadyProcessed, err, "transaction %s already settled", burn.TransactionSignature)
			}
			return internalError(err, "insert burn")
		}

		ok, err := s.Ledger.IncrementAssetDaily(tx, asset.ID, usd, now)
		if err != nil {
			return internalError(err, "asset daily cap")
		}
		if !ok {
			return newError(KindCapExceeded, "asset %s daily cap exceeded", asset.AssetID)
		}

		ok, err = s.Ledger.IncrementWalletDaily(tx, event.ID, quote.Wallet, usd, event.MaxUsdPerWallet, now)
		if err != nil {
			return internalError(err, "wallet daily cap")
		}
		if !ok {
			return newError(KindCapExceeded, "wallet daily maximum of %s exceeded", event.MaxUsdPerWallet)
		}

		ok, err = s.Ledger.IncrementEventTotal(tx, event.ID, usd)
		if err != nil {
			return internalError(err, "event total")
		}
		if !ok {
			return newError(KindPreconditionFailed, "event %s closed during settlement", event.Slug)
		}

		row, err := s.Ledger.AddAllocation(tx, event.ID, quote.Wallet, usd, allocation, now)
		if err != nil {
			return internalError(err, "allocation")
		}
		total = *row

		if burn.ReferrerWallet != nil {
			if err := s.Ledger.AddReferral(tx, event.ID, referrer, usd, now); err != nil {
				return internalError(err, "referral")
			}
		}
		return nil
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, internalError(err, "settlement transaction")
	}

	metrics.Engine().AddUsdSettled(asset.Symbol, usd.InexactFloat64())
	slog.Info("[Settle] settled",
		"burn_id", burn.ID,
		"quote_id", quote.ID,
		"wallet", quote.Wallet,
		"usd", usd.String(),
		"signature", burn.TransactionSignature,
	)

	return &SettlementResult{
		BurnID:               burn.ID,
		UsdValueBurned:       usd,
		Allocation:           allocation,
		TransactionSignature: burn.TransactionSignature,
		WalletNewTotal:       total.TotalUsdBurned,
		WalletAllocation:     total.TotalAllocation,
	}, nil
}

// verify asks the chain about signature under a bounded timeout and checks
// the transaction burned at least the quoted amount from the quote's wallet.
func (s *SettlementService) verify(ctx context.Context, quote *models.Quote, signature string) error {
	timeout := s.VerifierTimeout
	if timeout <= 0 {
		timeout = defaultVerifierTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	res, err := s.Verifier.Verify(vctx, signature, quote.AssetID)
	metrics.Engine().ObserveVerifier(started)
	if err != nil {
		return wrapError(KindUnavailable, err, "transaction verifier unavailable")
	}

	switch {
	case res == nil || !res.Found:
		return newError(KindNotFound, "transaction %s not found on chain", signature)
	case res.Failed():
		return newError(KindChainFailure, "transaction %s failed on chain: %s", signature, res.ChainError)
	case !res.Confirmed:
		return newError(KindUnavailable, "transaction %s is not finalized yet", signature)
	case !res.ContainsBurnOf(quote.AssetID):
		return newError(KindInvalidProof, "transaction %s does not burn %s", signature, quote.AssetID)
	}

	burned := res.BurnedBy(quote.AssetID, quote.Wallet)
	if burned.IsZero() {
		return newError(KindInvalidProof, "burn in %s was not signed by %s", signature, quote.Wallet)
	}
	if burned.LessThan(quote.AssetAmount) {
		return newError(KindInvalidProof, "transaction burned %s but the quote covers %s", burned, quote.AssetAmount)
	}
	return nil
}

// The attempt trail is best effort; failures are logged and ignored.

func (s *SettlementService) openAttempt(ctx context.Context, req SettleRequest) *models.SettlementAttempt {
	quoteID := req.QuoteID
	if len(quoteID) > 36 {
		quoteID = quoteID[:36]
	}
	sig := req.TransactionSignature
	if len(sig) > 128 {
		sig = sig[:128]
	}
	attempt := &models.SettlementAttempt{
		ID:                   uuid.NewString(),
		QuoteID:              quoteID,
		Wallet:               req.Wallet,
		TransactionSignature: sig,
		State:                models.SettlementPending,
	}
	if err := s.DB.WithContext(ctx).Create(attempt).Error; err != nil {
		slog.Warn("[Settle] could not record attempt", "quote_id", req.QuoteID, "error", err)
		return nil
	}
	return attempt
}

func (s *SettlementService) markAttempt(ctx context.Context, attempt *models.SettlementAttempt, state models.SettlementState) {
	if attempt == nil {
		return
	}
	if err := s.DB.WithContext(ctx).Model(attempt).Update("state", state).Error; err != nil {
		slog.Warn("[Settle] could not update attempt", "attempt_id", attempt.ID, "error", err)
	}
}

func (s *SettlementService) closeAttempt(ctx context.Context, attempt *models.SettlementAttempt, state models.SettlementState, burnID *string, cause error) {
	if attempt == nil {
		return
	}
	now := s.Now()
	updates := map[string]any{
		"state":       state,
		"burn_id":     burnID,
		"finished_at": now,
	}
	if cause != nil {
		updates["failure_kind"] = string(KindOf(cause))
		updates["reason"] = cause.Error()
	}
	// The caller's context may already be done; the audit row should still land.
	if err := s.DB.WithContext(context.WithoutCancel(ctx)).Model(attempt).Updates(updates).Error; err != nil {
		slog.Warn("[Settle] could not close attempt", "attempt_id", attempt.ID, "error", err)
	}
}
