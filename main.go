package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"

	"burn-settlement-system/config"
	"burn-settlement-system/database"
	"burn-settlement-system/exports"
	"burn-settlement-system/handlers"
	"burn-settlement-system/logging"
	"burn-settlement-system/middleware"
	"burn-settlement-system/oracle"
	"burn-settlement-system/services"
	"burn-settlement-system/verifier"
	"burn-settlement-system/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	logger := logging.Setup("burn-settlement", cfg.LogEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	priceOracle, err := buildOracle(ctx, cfg)
	if err != nil {
		log.Fatal("failed to build price oracle: ", err)
	}
	chain := verifier.NewSolana(cfg.SolanaRPCURL)
	policy := services.MultiplierPolicy{Multiplier: cfg.AllocationMultiplier}

	eventService := services.NewEventService(db)
	quoteService := services.NewQuoteService(db, priceOracle, policy)
	quoteService.OracleTimeout = cfg.OracleTimeout
	settlementService := services.NewSettlementService(db, chain)
	settlementService.VerifierTimeout = cfg.VerifierTimeout
	reportingService := services.NewReportingService(db)

	if cfg.EventsFile != "" {
		created, err := eventService.LoadEventsFile(ctx, cfg.EventsFile)
		if err != nil {
			log.Fatal("failed to load events file: ", err)
		}
		log.Printf("✅ Loaded %d new event(s) from %s", created, cfg.EventsFile)
	}

	var exporter *exports.BurnExporter
	if cfg.R2.Enabled() {
		uploader, err := exports.NewR2Uploader(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		exporter = &exports.BurnExporter{Source: reportingService, Uploader: uploader, Prefix: cfg.R2.Prefix}
	} else {
		log.Println("⚠️  R2 not configured, daily burn export disabled")
	}

	scheduler, err := workers.NewScheduler(settlementService.Ledger, exporter)
	if err != nil {
		log.Fatal(err)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal(err)
	}
	go workers.PollPrices(ctx, workers.NewPriceWarmer(db, priceOracle), cfg.PriceWarmEvery)

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + middleware.AdminTokenHeader,
		MaxAge:       86400,
	}))

	// 🔐 Only gateway requests, except probes
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, "/healthz", "/metrics"))

	handlers.SetupSystemRoutes(app, db)
	handlers.SetupQuoteRoutes(app, quoteService, settlementService)
	handlers.SetupEventRoutes(app, eventService, reportingService, cfg.AdminToken)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	logger.Info("server running", "port", cfg.Port, "oracle_sources", cfg.OracleSources, "origins", cfg.AllowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func buildOracle(ctx context.Context, cfg *config.Config) (*oracle.Oracle, error) {
	httpClient := &http.Client{Timeout: cfg.OracleTimeout}

	var sources []oracle.Source
	for _, name := range cfg.OracleSources {
		switch name {
		case "static":
			prices, err := oracle.ParseStaticPrices(cfg.StaticPrices)
			if err != nil {
				return nil, err
			}
			sources = append(sources, oracle.NewStaticSource(prices))
		case "jupiter":
			sources = append(sources, oracle.NewJupiterSource(cfg.JupiterURL, httpClient, cfg.OracleRatePerSec))
		case "coingecko":
			sources = append(sources, oracle.NewCoinGeckoSource(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey, httpClient, cfg.OracleRatePerSec))
		}
	}

	var cache oracle.Cache = oracle.NewLRUCache(1024, cfg.OracleCacheTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️  Redis at %s unreachable, using local price cache only: %v", cfg.RedisAddr, err)
		} else {
			cache = oracle.TieredCache{Local: cache, Shared: oracle.NewRedisCache(rdb, cfg.OracleCacheTTL)}
		}
	}

	return oracle.New(sources, oracle.WithCache(cache), oracle.WithTimeout(cfg.OracleTimeout))
}
