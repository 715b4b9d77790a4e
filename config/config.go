// Package config loads service settings from the environment (and an
// optional .env file).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// Enabled reports whether burn exports should be uploaded.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

type Config struct {
	Port           string
	DatabaseURL    string
	ServiceToken   string
	AdminToken     string
	AllowedOrigins []string
	LogEnv         string

	OracleSources    []string
	OracleTimeout    time.Duration
	OracleCacheTTL   time.Duration
	OracleRatePerSec float64
	StaticPrices     string
	JupiterURL       string
	CoinGeckoURL     string
	CoinGeckoAPIKey  string
	RedisAddr        string
	PriceWarmEvery   time.Duration

	SolanaRPCURL    string
	VerifierTimeout time.Duration

	AllocationMultiplier decimal.Decimal
	EventsFile           string

	R2 R2Config
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(get(key, def))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, get(key, def)))
			return 0
		}
		return d
	}

	cfg := &Config{
		Port:            get("PORT", "5200"),
		DatabaseURL:     get("DATABASE_URL", ""),
		ServiceToken:    get("SERVICE_TOKEN", ""),
		AdminToken:      get("ADMIN_TOKEN", ""),
		AllowedOrigins:  splitList(get("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogEnv:          get("LOG_ENV", "production"),
		OracleSources:   splitList(strings.ToLower(get("ORACLE_SOURCES", "jupiter,coingecko"))),
		OracleTimeout:   duration("ORACLE_TIMEOUT", "5s"),
		OracleCacheTTL:  duration("ORACLE_CACHE_TTL", "15s"),
		StaticPrices:    get("STATIC_PRICES", ""),
		JupiterURL:      get("JUPITER_PRICE_URL", ""),
		CoinGeckoURL:    get("COINGECKO_URL", ""),
		CoinGeckoAPIKey: get("COINGECKO_API_KEY", ""),
		RedisAddr:       get("REDIS_ADDR", ""),
		PriceWarmEvery:  duration("PRICE_WARM_INTERVAL", "10s"),
		SolanaRPCURL:    get("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		VerifierTimeout: duration("VERIFIER_TIMEOUT", "10s"),
		EventsFile:      get("EVENTS_FILE", ""),
		R2: R2Config{
			AccountID:       get("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     get("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: get("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          get("R2_BUCKET_NAME", ""),
			Prefix:          get("R2_EXPORT_PREFIX", "burn-exports"),
		},
	}

	rate, err := strconv.ParseFloat(get("ORACLE_RATE_PER_SEC", "5"), 64)
	if err != nil || rate < 0 {
		errs = append(errs, fmt.Errorf("ORACLE_RATE_PER_SEC: invalid rate %q", get("ORACLE_RATE_PER_SEC", "5")))
	}
	cfg.OracleRatePerSec = rate

	mult, err := decimal.NewFromString(get("ALLOCATION_MULTIPLIER", "1"))
	if err != nil || !mult.IsPositive() {
		errs = append(errs, fmt.Errorf("ALLOCATION_MULTIPLIER: must be a positive decimal"))
	}
	cfg.AllocationMultiplier = mult

	switch {
	case cfg.DatabaseURL == "":
		errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite:"):
		// SQLite keeps numeric columns as floating point; only tests open it.
		errs = append(errs, errors.New("DATABASE_URL: sqlite cannot hold exact money amounts, use postgres"))
	}
	if cfg.ServiceToken == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN is not set, service cannot authenticate the gateway"))
	}
	if cfg.AdminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is not set"))
	}
	for _, src := range cfg.OracleSources {
		switch src {
		case "jupiter", "coingecko", "static":
		default:
			errs = append(errs, fmt.Errorf("ORACLE_SOURCES: unknown source %q", src))
		}
	}
	if len(cfg.OracleSources) == 0 {
		errs = append(errs, errors.New("ORACLE_SOURCES: at least one source required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsesSource reports whether name is among the configured oracle sources.
func (c *Config) UsesSource(name string) bool {
	for _, s := range c.OracleSources {
		if s == name {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
