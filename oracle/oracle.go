// Package oracle resolves USD prices for burnable assets from one or more
// upstream sources, with a bounded timeout and a short-lived cache.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"burn-settlement-system/metrics"
)

// ErrNotFound is returned when no source knows the asset.
var ErrNotFound = errors.New("oracle: price not found")

// Price is a USD quote for one unit of an asset.
type Price struct {
	USD       decimal.Decimal `json:"usd"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Source fetches a price from a single upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context, assetID string) (Price, error)
}

// Cache stores recently fetched prices.
type Cache interface {
	Get(ctx context.Context, assetID string) (Price, bool)
	Set(ctx context.Context, assetID string, price Price)
}

// Oracle queries sources in priority order and returns the first positive price.
type Oracle struct {
	sources []Source
	cache   Cache
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithCache installs a price cache.
func WithCache(c Cache) Option {
	return func(o *Oracle) { o.cache = c }
}

// WithTimeout bounds each GetPrice call.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// New constructs an Oracle over the given sources.
func New(sources []Source, opts ...Option) (*Oracle, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one price source required")
	}
	o := &Oracle{
		sources: append([]Source{}, sources...),
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// GetPrice returns the USD price of assetID. ErrNotFound means every source
// answered and none knew the asset; any other error is transient.
func (o *Oracle) GetPrice(ctx context.Context, assetID string) (Price, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return Price{}, ErrNotFound
	}
	if o.cache != nil {
		if p, ok := o.cache.Get(ctx, assetID); ok {
			return p, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var lastErr error
	for _, src := range o.sources {
		p, err := src.Fetch(ctx, assetID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
				o.logger.Warn("[Oracle] source failed", "source", src.Name(), "asset", assetID, "error", err)
				metrics.Engine().ObserveOracleFailure(src.Name())
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !p.USD.IsPositive() {
			o.logger.Warn("[Oracle] source returned non-positive price", "source", src.Name(), "asset", assetID, "price", p.USD.String())
			continue
		}
		if p.Source == "" {
			p.Source = src.Name()
		}
		if p.FetchedAt.IsZero() {
			p.FetchedAt = time.Now().UTC()
		}
		if o.cache != nil {
			o.cache.Set(ctx, assetID, p)
		}
		return p, nil
	}
	if lastErr != nil {
		return Price{}, fmt.Errorf("oracle: no source answered for %s: %w", assetID, lastErr)
	}
	if ctx.Err() != nil {
		return Price{}, fmt.Errorf("oracle: %w", ctx.Err())
	}
	return Price{}, ErrNotFound
}
