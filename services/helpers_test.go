package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"burn-settlement-system/database"
	"burn-settlement-system/models"
	"burn-settlement-system/oracle"
	"burn-settlement-system/verifier"
)

const (
	mintX = "MintX111111111111111111111111111111111111111"
	mintY = "MintY111111111111111111111111111111111111111"
	mintZ = "MintZ111111111111111111111111111111111111111" // accepted, never priced

	walletA = "WalletA1111111111111111111111111111111111111"
	walletB = "WalletB1111111111111111111111111111111111111"
	walletR = "WalletR1111111111111111111111111111111111111"
)

type fixture struct {
	t   *testing.T
	db  *gorm.DB
	now time.Time

	prices *oracle.StaticSource
	chain  *verifier.Memory

	events      *EventService
	quotes      *QuoteService
	settlements *SettlementService
	reports     *ReportingService

	event *models.Event
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newFixture builds an engine over an in-memory database with one active
// event accepting X ($2, cap $100), Y ($1, cap $1000) and Z (no price).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		db:     newTestDB(t),
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		prices: oracle.NewStaticSource(map[string]decimal.Decimal{mintX: decimal.NewFromInt(2), mintY: decimal.NewFromInt(1)}),
		chain:  verifier.NewMemory(),
	}
	clock := func() time.Time { return f.now }

	o, err := oracle.New([]oracle.Source{f.prices})
	require.NoError(t, err)
	policy := MultiplierPolicy{Multiplier: decimal.NewFromInt(1)}

	f.events = NewEventService(f.db)
	f.events.Now = clock
	f.quotes = NewQuoteService(f.db, o, policy)
	f.quotes.Now = clock
	f.settlements = NewSettlementService(f.db, f.chain)
	f.settlements.Now = clock
	f.reports = NewReportingService(f.db)
	f.reports.Now = clock

	event, err := f.events.CreateEvent(context.Background(), CreateEventInput{
		Name:            "Genesis Burn",
		StartsAt:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		MinUsdPerTx:     decimal.NewFromInt(1),
		MaxUsdPerTx:     decimal.NewFromInt(80),
		MaxUsdPerWallet: decimal.NewFromInt(150),
		Assets: []AssetInput{
			{AssetID: mintX, Symbol: "x", Decimals: 6, DailyCapUsd: decimal.NewFromInt(100)},
			{AssetID: mintY, Symbol: "y", Decimals: 9, DailyCapUsd: decimal.NewFromInt(1000)},
			{AssetID: mintZ, Symbol: "z", Decimals: 6, DailyCapUsd: decimal.NewFromInt(1000)},
		},
	})
	require.NoError(t, err)
	f.event, err = f.events.ActivateEvent(context.Background(), event.ID)
	require.NoError(t, err)
	return f
}

func randomSignature(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 64)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	buf[0] = 0xff
	return base58.Encode(buf)
}

func (f *fixture) quote(wallet, mint, amount string) *QuoteResult {
	f.t.Helper()
	q, err := f.quotes.IssueQuote(context.Background(), QuoteRequest{Wallet: wallet, AssetID: mint, AssetAmount: amount})
	require.NoError(f.t, err)
	return q
}

// burnOnChain records a finalized burn of amount of mint signed by wallet.
func (f *fixture) burnOnChain(wallet, mint, amount string) string {
	f.t.Helper()
	sig := randomSignature(f.t)
	f.chain.Put(verifier.Result{
		Signature: sig,
		Confirmed: true,
		Burns: []verifier.BurnInstruction{
			{Mint: mint, Authority: wallet, Amount: decimal.RequireFromString(amount)},
		},
	})
	return sig
}

// settle issues a quote, burns on chain and settles it.
func (f *fixture) settle(wallet, mint, amount string) *SettlementResult {
	f.t.Helper()
	q := f.quote(wallet, mint, amount)
	sig := f.burnOnChain(wallet, mint, amount)
	res, err := f.settlements.Settle(context.Background(), SettleRequest{QuoteID: q.QuoteID, Wallet: wallet, TransactionSignature: sig})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) asset(mint string) models.AcceptedAsset {
	f.t.Helper()
	var a models.AcceptedAsset
	require.NoError(f.t, f.db.First(&a, "event_id = ? AND asset_id = ?", f.event.ID, mint).Error)
	return a
}

func (f *fixture) loadQuote(id string) models.Quote {
	f.t.Helper()
	var q models.Quote
	require.NoError(f.t, f.db.First(&q, "id = ?", id).Error)
	return q
}

func (f *fixture) countBurns() int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&models.Burn{}).Count(&n).Error)
	return n
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
