// Package verifier confirms that a claimed burn transaction exists on chain,
// is final, did not fail, and burned the expected asset.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// MinSignatureLength is the shortest base58 rendering of a 64-byte signature
// accepted by the engine.
const MinSignatureLength = 44

var ErrMalformedSignature = errors.New("verifier: malformed transaction signature")

// BurnInstruction is one token burn found in a transaction.
type BurnInstruction struct {
	Mint      string
	Authority string
	Amount    decimal.Decimal // UI units (raw / 10^decimals)
}

// Result is what the chain says about a signature. A nil error with
// Found=false means the chain has no record of it.
type Result struct {
	Signature  string
	Found      bool
	Confirmed  bool
	ChainError string
	Burns      []BurnInstruction
}

// Failed reports whether the transaction landed but reverted.
func (r *Result) Failed() bool {
	return r.ChainError != ""
}

// BurnedBy sums the amount of mint burned under authority.
func (r *Result) BurnedBy(mint, authority string) decimal.Decimal {
	total := decimal.Zero
	for _, b := range r.Burns {
		if b.Mint == mint && b.Authority == authority {
			total = total.Add(b.Amount)
		}
	}
	return total
}

// ContainsBurnOf reports whether any instruction burned mint.
func (r *Result) ContainsBurnOf(mint string) bool {
	for _, b := range r.Burns {
		if b.Mint == mint {
			return true
		}
	}
	return false
}

// Verifier looks up a transaction by signature. Returned errors are transient
// (RPC down, timeout); definitive answers are carried in Result.
type Verifier interface {
	Verify(ctx context.Context, signature, expectedAssetID string) (*Result, error)
}

// ValidateSignature checks that sig is base58 and decodes to a 64-byte
// ed25519 signature.
func ValidateSignature(sig string) error {
	sig = strings.TrimSpace(sig)
	if len(sig) < MinSignatureLength || len(sig) > 128 {
		return fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	raw, err := base58.Decode(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != 64 {
		return fmt.Errorf("%w: decoded to %d bytes", ErrMalformedSignature, len(raw))
	}
	return nil
}

// Memory is an in-process verifier backed by a map. Used for local
// development and tests.
type Memory struct {
	mu      sync.RWMutex
	results map[string]Result
	err     error
}

func NewMemory() *Memory {
	return &Memory{results: map[string]Result{}}
}

// Put registers the result returned for signature.
func (m *Memory) Put(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.Found = true
	m.results[res.Signature] = res
}

// FailWith makes every call return err until cleared with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Verify(ctx context.Context, signature, _ string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.results[signature]
	if !ok {
		return &Result{Signature: signature}, nil
	}
	out := res
	out.Burns = append([]BurnInstruction(nil), res.Burns...)
	return &out, nil
}
