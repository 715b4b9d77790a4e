package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticSource serves fixed prices. Used for stablecoins pegged at $1, for
// local development and in tests.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource returns a source seeded with prices keyed by asset id.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for k, v := range prices {
		s.prices[strings.TrimSpace(k)] = v
	}
	return s
}

// ParseStaticPrices parses "mint=price,mint2=price2".
func ParseStaticPrices(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid static price %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid static price for %s: %w", k, err)
		}
		out[strings.TrimSpace(k)] = price
	}
	return out, nil
}

func (s *StaticSource) Name() string { return "static" }

// Set updates or adds a price.
func (s *StaticSource) Set(assetID string, usd decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[assetID] = usd
}

func (s *StaticSource) Fetch(_ context.Context, assetID string) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usd, ok := s.prices[assetID]
	if !ok {
		return Price{}, ErrNotFound
	}
	return Price{USD: usd, Source: s.Name(), FetchedAt: time.Now().UTC()}, nil
}
