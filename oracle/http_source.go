package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultJupiterEndpoint   = "https://api.jup.ag/price/v2"
	DefaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3"
)

// httpSource is shared plumbing for JSON price APIs: a client with a timeout
// and an outbound rate limiter so a burst of quotes cannot exhaust the
// upstream quota.
type httpSource struct {
	name     string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	headers  map[string]string
}

func newHTTPSource(name, endpoint string, client *http.Client, perSecond float64) httpSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return httpSource{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		headers:  map[string]string{},
	}
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", s.name, resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", s.name, err)
	}
	return nil
}

// JupiterSource reads the Jupiter price API (prices keyed by mint).
type JupiterSource struct {
	httpSource
}

// NewJupiterSource builds a Jupiter price source.
func NewJupiterSource(endpoint string, client *http.Client, perSecond float64) *JupiterSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultJupiterEndpoint
	}
	return &JupiterSource{httpSource: newHTTPSource("jupiter", endpoint, client, perSecond)}
}

type jupiterResponse struct {
	Data map[string]*struct {
		ID    string      `json:"id"`
		Price json.Number `json:"price"`
	} `json:"data"`
}

func (s *JupiterSource) Fetch(ctx context.Context, assetID string) (Price, error) {
	u := fmt.Sprintf("%s?ids=%s", s.endpoint, url.QueryEscape(assetID))
	var body jupiterResponse
	if err := s.getJSON(ctx, u, &body); err != nil {
		return Price{}, err
	}
	entry, ok := body.Data[assetID]
	if !ok || entry == nil || entry.Price == "" {
		return Price{}, ErrNotFound
	}
	usd, err := decimal.NewFromString(entry.Price.String())
	if err != nil {
		return Price{}, fmt.Errorf("jupiter price %q: %w", entry.Price, err)
	}
	return Price{USD: usd, Source: s.name, FetchedAt: time.Now().UTC()}, nil
}

// CoinGeckoSource reads token prices by contract address on Solana.
type CoinGeckoSource struct {
	httpSource
	platform string
}

// NewCoinGeckoSource builds a CoinGecko price source. apiKey is optional.
func NewCoinGeckoSource(endpoint, apiKey string, client *http.Client, perSecond float64) *CoinGeckoSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultCoinGeckoEndpoint
	}
	src := &CoinGeckoSource{
		httpSource: newHTTPSource("coingecko", endpoint, client, perSecond),
		platform:   "solana",
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		src.headers["x-cg-pro-api-key"] = key
	}
	return src
}

func (s *CoinGeckoSource) Fetch(ctx context.Context, assetID string) (Price, error) {
	q := url.Values{}
	q.Set("contract_addresses", assetID)
	q.Set("vs_currencies", "usd")
	u := fmt.Sprintf("%s/simple/token_price/%s?%s", s.endpoint, s.platform, q.Encode())

	var body map[string]map[string]json.Number
	if err := s.getJSON(ctx, u, &body); err != nil {
		return Price{}, err
	}
	// CoinGecko lowercases EVM addresses but keeps base58 mints verbatim.
	entry, ok := body[assetID]
	if !ok {
		entry, ok = body[strings.ToLower(assetID)]
	}
	if !ok || entry["usd"] == "" {
		return Price{}, ErrNotFound
	}
	usd, err := decimal.NewFromString(entry["usd"].String())
	if err != nil {
		return Price{}, fmt.Errorf("coingecko price %q: %w", entry["usd"], err)
	}
	return Price{USD: usd, Source: s.name, FetchedAt: time.Now().UTC()}, nil
}
