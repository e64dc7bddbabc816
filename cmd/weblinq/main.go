// Package main provides the entry point for the WebLinQ gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/artifacts"
	"github.com/weblinq/weblinq-go/internal/binding"
	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/config"
	"github.com/weblinq/weblinq-go/internal/credits"
	"github.com/weblinq/weblinq-go/internal/extract"
	"github.com/weblinq/weblinq-go/internal/gateway"
	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/markdown"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/middleware"
	"github.com/weblinq/weblinq-go/internal/pool"
	"github.com/weblinq/weblinq-go/internal/runner"
	"github.com/weblinq/weblinq-go/internal/search"
	"github.com/weblinq/weblinq-go/internal/useractor"
	"github.com/weblinq/weblinq-go/pkg/version"
)

func main() {
	// A local .env is a dev convenience; absence is the normal case.
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel, cfg.LogPretty)

	cfg.Validate()

	printBanner()

	clk := clock.System()
	rnd := clock.NewRand(time.Now().UnixNano())

	// Credit ledger. Without Redis there is no metering, so a dead ledger is
	// a startup failure rather than a degraded mode.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis is unreachable - credit ledger cannot start")
	}
	cancelPing()
	ledger := credits.New(rdb, cfg.StartCredits)

	// Artifact storage is optional: without it captures still work, they just
	// lose their permanent URLs.
	var store useractor.Storage
	if cfg.StorageConfigured() {
		storeCtx, cancelStore := context.WithTimeout(context.Background(), 15*time.Second)
		s, err := artifacts.New(storeCtx, artifacts.Config{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
			CDNHost:   cfg.ActiveCDNHost(),
		})
		cancelStore()
		if err != nil {
			log.Fatal().Err(err).Msg("Artifact storage is configured but unusable")
		}
		store = s
	}
	registry := useractor.NewRegistry(cfg.DataDir, store, cfg.UserHashSalt, clk)

	// Browser operations
	bind := binding.New(cfg.BindingURL, cfg.BindingToken, cfg.SessionKeepAlive)
	hardener := harden.New(rnd)
	navigator := harden.NewNavigator(clk)
	navigator.SetDefaultTimeout(cfg.NavTimeout)
	sessions := pool.New(bind, hardener, rnd, clk)

	var ai *extract.Client
	if cfg.AIEndpoint != "" {
		ai = extract.NewClient(cfg.AIEndpoint, cfg.AIAPIKey, cfg.AIModel)
	}
	ops := runner.New(sessions, navigator, markdown.NewConverter(), ai, clk)

	// Search aggregation
	fetcher := search.NewFetcher(rnd, clk)
	fetcher.SetTimeout(cfg.EngineTimeout)
	selectorMgr := search.NewSelectorManager(cfg.SelectorsPath, cfg.SelectorsReload)
	aggregator := search.New(fetcher, selectorMgr, clk)
	aggregator.SetQuota(cfg.SearchRateLimit, cfg.SearchRateWindow)

	srv := gateway.New(cfg, ops, aggregator, ledger, gateway.RegistryFiles{Registry: registry}, clk)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.OperationTimeout + 10*time.Second,
		WriteTimeout: cfg.OperationTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())

		go metrics.StartRuntimeCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      middleware.Chain(middleware.Recovery, middleware.SecurityHeaders)(metricsMux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Bool("storage", store != nil).
			Bool("extraction", ai != nil).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("WebLinQ is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	if err := selectorMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Selector manager close error")
	}

	// Drain per-user actors so in-flight writes reach their databases.
	registry.Close()

	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Redis close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog from the configured level and format.
func setupLogging(level string, pretty bool) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
__        __   _     _     _       ___
\ \      / /__| |__ | |   (_)_ __ / _ \
 \ \ /\ / / _ \ '_ \| |   | | '_ \ | | |
  \ V  V /  __/ |_) | |___| | | | | |_| |
   \_/\_/ \___|_.__/|_____|_|_| |_|\__\_\
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting WebLinQ")
}
