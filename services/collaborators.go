// services/collaborators.go
package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"burn-settlement-system/oracle"
	"burn-settlement-system/verifier"
)

// PriceOracle returns the current USD price of one unit of an asset.
// oracle.ErrNotFound means the asset has no price; other errors are transient.
type PriceOracle interface {
	GetPrice(ctx context.Context, assetID string) (oracle.Price, error)
}

// TransactionVerifier looks up a burn transaction on chain.
type TransactionVerifier interface {
	Verify(ctx context.Context, signature, expectedAssetID string) (*verifier.Result, error)
}

// AllocationPolicy converts a USD value into an allocation of the new asset.
type AllocationPolicy interface {
	Allocate(usd decimal.Decimal) decimal.Decimal
}

// MultiplierPolicy allocates Multiplier units per USD burned.
type MultiplierPolicy struct {
	Multiplier decimal.Decimal
}

func (p MultiplierPolicy) Allocate(usd decimal.Decimal) decimal.Decimal {
	return usd.Mul(p.Multiplier)
}

// Clock is injected so tests can move time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
