package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burn-settlement-system/models"
	"burn-settlement-system/verifier"
)

func TestSettleRecordsBurnAndAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.quote(walletA, mintX, "10")
	sig := f.burnOnChain(walletA, mintX, "10")

	res, err := f.settlements.Settle(ctx, SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig})
	require.NoError(t, err)
	require.NotEmpty(t, res.BurnID)
	require.Equal(t, sig, res.TransactionSignature)
	requireDecimal(t, "20", res.UsdValueBurned)
	requireDecimal(t, "20", res.Allocation)
	requireDecimal(t, "20", res.WalletNewTotal)

	var burn models.Burn
	require.NoError(t, f.db.First(&burn, "id = ?", res.BurnID).Error)
	requireDecimal(t, "20", burn.UsdValueAtBurn)
	requireDecimal(t, "2", burn.LockedPrice)
	require.Equal(t, q.QuoteID, burn.QuoteID)
	require.Nil(t, burn.ReferrerWallet)

	stored := f.loadQuote(q.QuoteID)
	require.True(t, stored.IsUsed)
	require.NotNil(t, stored.UsedAt)

	requireDecimal(t, "20", f.asset(mintX).CurrentDailyBurnedUsd)

	var event models.Event
	require.NoError(t, f.db.First(&event, "id = ?", f.event.ID).Error)
	requireDecimal(t, "20", event.TotalUsdBurned)

	var alloc models.Allocation
	require.NoError(t, f.db.First(&alloc, "event_id = ? AND wallet = ?", f.event.ID, walletA).Error)
	requireDecimal(t, "20", alloc.TotalUsdBurned)
	require.EqualValues(t, 1, alloc.BurnCount)

	var usage models.WalletDailyUsage
	require.NoError(t, f.db.First(&usage, "wallet = ? AND day = ?", walletA, "2026-03-10").Error)
	requireDecimal(t, "20", usage.BurnedUsd)

	var attempt models.SettlementAttempt
	require.NoError(t, f.db.First(&attempt, "quote_id = ?", q.QuoteID).Error)
	require.Equal(t, models.SettlementSettled, attempt.State)
	require.NotNil(t, attempt.BurnID)
	require.Equal(t, res.BurnID, *attempt.BurnID)

	// Same call again: the quote is spent.
	_, err = f.settlements.Settle(ctx, SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig})
	requireKind(t, err, KindAlreadyUsed)
	require.EqualValues(t, 1, f.countBurns())
}

func TestSettleAccumulatesAllocation(t *testing.T) {
	f := newFixture(t)

	f.settle(walletA, mintX, "10")
	res := f.settle(walletA, mintY, "35")

	requireDecimal(t, "55", res.WalletNewTotal)
	requireDecimal(t, "55", res.WalletAllocation)

	var alloc models.Allocation
	require.NoError(t, f.db.First(&alloc, "event_id = ? AND wallet = ?", f.event.ID, walletA).Error)
	require.EqualValues(t, 2, alloc.BurnCount)

	var event models.Event
	require.NoError(t, f.db.First(&event, "id = ?", f.event.ID).Error)
	requireDecimal(t, "55", event.TotalUsdBurned)
}

func TestSettleSignatureCannotBeReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.quote(walletA, mintX, "10")
	sig := f.burnOnChain(walletA, mintX, "10")
	_, err := f.settlements.Settle(ctx, SettleRequest{QuoteID: first.QuoteID, Wallet: walletA, TransactionSignature: sig})
	require.NoError(t, err)

	second := f.quote(walletA, mintX, "10")
	_, err = f.settlements.Settle(ctx, SettleRequest{QuoteID: second.QuoteID, Wallet: walletA, TransactionSignature: sig})
	requireKind(t, err, KindAlreadyProcessed)

	require.False(t, f.loadQuote(second.QuoteID).IsUsed)
	require.EqualValues(t, 1, f.countBurns())
}

func TestSettleFailuresLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture) SettleRequest
		kind  Kind
	}{
		{
			name: "wallet mismatch",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletB, TransactionSignature: f.burnOnChain(walletB, mintX, "10")}
			},
			kind: KindPermissionDenied,
		},
		{
			name: "malformed signature",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: "short"}
			},
			kind: KindInvalidArgument,
		},
		{
			name: "unknown transaction",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: randomSignature(f.t)}
			},
			kind: KindNotFound,
		},
		{
			name: "reverted transaction",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				sig := randomSignature(f.t)
				f.chain.Put(verifier.Result{Signature: sig, Confirmed: true, ChainError: `{"InstructionError":[0,"Custom"]}`})
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig}
			},
			kind: KindChainFailure,
		},
		{
			name: "not finalized",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				sig := randomSignature(f.t)
				f.chain.Put(verifier.Result{Signature: sig, Confirmed: false, Burns: []verifier.BurnInstruction{
					{Mint: mintX, Authority: walletA, Amount: decimal.NewFromInt(10)},
				}})
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig}
			},
			kind: KindUnavailable,
		},
		{
			name: "burn of another asset",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintY, "10")}
			},
			kind: KindInvalidProof,
		},
		{
			name: "burned by someone else",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletB, mintX, "10")}
			},
			kind: KindInvalidProof,
		},
		{
			name: "burned less than quoted",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintX, "9.99")}
			},
			kind: KindInvalidProof,
		},
		{
			name: "verifier down",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				sig := f.burnOnChain(walletA, mintX, "10")
				f.chain.FailWith(errors.New("rpc: connection reset"))
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig}
			},
			kind: KindUnavailable,
		},
		{
			name: "expired quote",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				f.now = q.ExpiresAt.Add(time.Second)
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintX, "10")}
			},
			kind: KindExpired,
		},
		{
			name: "event finalized after quoting",
			setup: func(f *fixture) SettleRequest {
				q := f.quote(walletA, mintX, "10")
				_, err := f.events.FinalizeEvent(context.Background(), f.event.ID)
				require.NoError(f.t, err)
				return SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintX, "10")}
			},
			kind: KindPreconditionFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := tc.setup(f)

			_, err := f.settlements.Settle(context.Background(), req)
			requireKind(t, err, tc.kind)

			require.False(t, f.loadQuote(req.QuoteID).IsUsed)
			require.Zero(t, f.countBurns())
			requireDecimal(t, "0", f.asset(mintX).CurrentDailyBurnedUsd)

			var attempt models.SettlementAttempt
			require.NoError(t, f.db.First(&attempt, "quote_id = ?", req.QuoteID).Error)
			require.Equal(t, models.SettlementRejected, attempt.State)
			require.Equal(t, string(tc.kind), attempt.FailureKind)
		})
	}
}

func TestSettleUnknownQuote(t *testing.T) {
	f := newFixture(t)
	_, err := f.settlements.Settle(context.Background(), SettleRequest{
		QuoteID:              "8d4c2f3e-0000-4000-8000-000000000000",
		Wallet:               walletA,
		TransactionSignature: randomSignature(t),
	})
	requireKind(t, err, KindNotFound)
}

// Two quotes that jointly exceed the asset cap race to settle; exactly one wins.
func TestSettleConcurrentAssetCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	qa := f.quote(walletA, mintX, "30") // $60
	qb := f.quote(walletB, mintX, "30") // $60, cap is $100
	reqs := []SettleRequest{
		{QuoteID: qa.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintX, "30")},
		{QuoteID: qb.QuoteID, Wallet: walletB, TransactionSignature: f.burnOnChain(walletB, mintX, "30")},
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.settlements.Settle(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	var ok, capped int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case KindOf(err) == KindCapExceeded:
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, capped)

	requireDecimal(t, "60", f.asset(mintX).CurrentDailyBurnedUsd)
	require.EqualValues(t, 1, f.countBurns())

	var used int64
	require.NoError(t, f.db.Model(&models.Quote{}).Where("is_used = ?", true).Count(&used).Error)
	require.EqualValues(t, 1, used)
}

func TestSettleWalletDailyCapAtSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Both quotes pass the advisory check; together they exceed $150.
	q1 := f.quote(walletA, mintY, "80")
	q2 := f.quote(walletA, mintY, "80")

	_, err := f.settlements.Settle(ctx, SettleRequest{QuoteID: q1.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintY, "80")})
	require.NoError(t, err)

	_, err = f.settlements.Settle(ctx, SettleRequest{QuoteID: q2.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintY, "80")})
	requireKind(t, err, KindCapExceeded)
	require.False(t, f.loadQuote(q2.QuoteID).IsUsed)
	requireDecimal(t, "80", f.asset(mintY).CurrentDailyBurnedUsd)
}

func TestSettleRollsAssetCapAtMidnight(t *testing.T) {
	f := newFixture(t)

	f.settle(walletA, mintX, "30")
	requireDecimal(t, "60", f.asset(mintX).CurrentDailyBurnedUsd)

	f.now = time.Date(2026, 3, 11, 0, 30, 0, 0, time.UTC)
	f.settle(walletB, mintX, "30")

	a := f.asset(mintX)
	requireDecimal(t, "60", a.CurrentDailyBurnedUsd)
	require.True(t, a.DailyWindowStart.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
}

func TestSettleReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, wallet := range []string{walletA, walletB} {
		q := f.quote(wallet, mintX, "5")
		_, err := f.settlements.Settle(ctx, SettleRequest{
			QuoteID:              q.QuoteID,
			Wallet:               wallet,
			TransactionSignature: f.burnOnChain(wallet, mintX, "5"),
			ReferrerWallet:       walletR,
		})
		require.NoError(t, err)
	}

	// Self-referral is ignored.
	q := f.quote(walletR, mintX, "5")
	_, err := f.settlements.Settle(ctx, SettleRequest{
		QuoteID:              q.QuoteID,
		Wallet:               walletR,
		TransactionSignature: f.burnOnChain(walletR, mintX, "5"),
		ReferrerWallet:       walletR,
	})
	require.NoError(t, err)

	var ref models.Referral
	require.NoError(t, f.db.First(&ref, "event_id = ? AND referrer_wallet = ?", f.event.ID, walletR).Error)
	require.EqualValues(t, 2, ref.SuccessfulBurns)
	requireDecimal(t, "20", ref.TotalUsdReferred)
	require.NotNil(t, ref.LastReferredAt)

	var n int64
	require.NoError(t, f.db.Model(&models.Referral{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

type stallingVerifier struct{}

func (stallingVerifier) Verify(ctx context.Context, _, _ string) (*verifier.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSettleVerifierTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.settlements.Verifier = stallingVerifier{}
	f.settlements.VerifierTimeout = 20 * time.Millisecond

	q := f.quote(walletA, mintX, "10")
	sig := randomSignature(t)
	_, err := f.settlements.Settle(context.Background(), SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig})
	requireKind(t, err, KindUnavailable)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.True(t, e.Retryable())

	// Retrying once the chain answers succeeds with the same quote and signature.
	f.settlements.Verifier = f.chain
	f.chain.Put(verifier.Result{Signature: sig, Confirmed: true, Burns: []verifier.BurnInstruction{
		{Mint: mintX, Authority: walletA, Amount: decimal.NewFromInt(10)},
	}})
	_, err = f.settlements.Settle(context.Background(), SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig})
	require.NoError(t, err)
}

func TestSettleKeepsQuotedAllocation(t *testing.T) {
	f := newFixture(t)

	q := f.quote(walletA, mintX, "10")
	requireDecimal(t, "20", q.EstimatedAllocation)

	// A policy change after issuance does not touch quotes already given out.
	f.quotes.Policy = MultiplierPolicy{Multiplier: decimal.NewFromInt(3)}

	sig := f.burnOnChain(walletA, mintX, "10")
	res, err := f.settlements.Settle(context.Background(), SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: sig})
	require.NoError(t, err)
	requireDecimal(t, "20", res.Allocation)
	requireDecimal(t, "20", res.WalletAllocation)

	var burn models.Burn
	require.NoError(t, f.db.First(&burn, "id = ?", res.BurnID).Error)
	requireDecimal(t, "20", burn.AllocationEstimate)

	// New quotes use the new policy.
	requireDecimal(t, "30", f.quote(walletA, mintX, "5").EstimatedAllocation)
}

func TestSettleFractionalValuesSumExactly(t *testing.T) {
	f := newFixture(t)

	f.settle(walletA, mintY, "1.1")
	res := f.settle(walletA, mintY, "2.2")

	require.Equal(t, "3.3", res.WalletNewTotal.String())
	require.Equal(t, "3.3", res.WalletAllocation.String())

	var alloc models.Allocation
	require.NoError(t, f.db.First(&alloc, "event_id = ? AND wallet = ?", f.event.ID, walletA).Error)
	require.Equal(t, "3.3", alloc.TotalUsdBurned.String())
	require.Equal(t, "3.3", f.asset(mintY).CurrentDailyBurnedUsd.String())

	var event models.Event
	require.NoError(t, f.db.First(&event, "id = ?", f.event.ID).Error)
	require.Equal(t, "3.3", event.TotalUsdBurned.String())
}

// Many callers settle the same quote with the same signature at once; the
// quote is spent exactly once.
func TestSettleSameQuoteConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.quote(walletA, mintX, "10")
	req := SettleRequest{QuoteID: q.QuoteID, Wallet: walletA, TransactionSignature: f.burnOnChain(walletA, mintX, "10"), ReferrerWallet: walletR}

	const callers = 8
	results := make([]*SettlementResult, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.settlements.Settle(ctx, req)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok int
	for i, err := range errs {
		if err == nil {
			ok++
			requireDecimal(t, "20", results[i].UsdValueBurned)
			continue
		}
		kind := KindOf(err)
		require.True(t, kind == KindAlreadyUsed || kind == KindAlreadyProcessed, "unexpected error: %v", err)
	}
	require.Equal(t, 1, ok)
	require.EqualValues(t, 1, f.countBurns())

	var alloc models.Allocation
	require.NoError(t, f.db.First(&alloc, "event_id = ? AND wallet = ?", f.event.ID, walletA).Error)
	requireDecimal(t, "20", alloc.TotalUsdBurned)
	require.EqualValues(t, 1, alloc.BurnCount)

	var ref models.Referral
	require.NoError(t, f.db.First(&ref, "event_id = ? AND referrer_wallet = ?", f.event.ID, walletR).Error)
	require.EqualValues(t, 1, ref.SuccessfulBurns)

	requireDecimal(t, "20", f.asset(mintX).CurrentDailyBurnedUsd)

	var event models.Event
	require.NoError(t, f.db.First(&event, "id = ?", f.event.ID).Error)
	requireDecimal(t, "20", event.TotalUsdBurned)
}
