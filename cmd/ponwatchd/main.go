package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch"
	"github.com/ponwatch/ponwatch/config"
	"github.com/ponwatch/ponwatch/engine"
	"github.com/ponwatch/ponwatch/metrics"
	"github.com/ponwatch/ponwatch/store"
	"github.com/ponwatch/ponwatch/types"
)

func main() {
	configPath := flag.String("config", envOr("PONWATCH_CONFIG", ""), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("config load failed")
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		devices   engine.DeviceRegistry
		terminals engine.TerminalStore
		runs      engine.RunStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := store.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connect failed")
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		devices, terminals, runs = pg, pg, pg
		logger.Info().Msg("using postgres store")
	} else {
		mem := store.NewMemory()
		devices, terminals, runs = mem, mem, mem
		logger.Warn().Msg("no database_url configured, using in-memory store")
	}

	met := metrics.New()
	zeroTS, err := cfg.ZeroTimestampPattern()
	if err != nil {
		logger.Fatal().Err(err).Msg("bad zero_timestamp pattern")
	}

	factory := func(device types.Device) (types.Driver, error) {
		return ponwatch.NewDriver(device, ponwatch.DriverOptions{
			CommandTimeout:    cfg.CLI.CommandTimeout.Std(),
			PoolSize:          cfg.CLI.PoolSize,
			DetailConcurrency: cfg.CLI.DetailConcurrency,
			BatchSize:         cfg.Discovery.BatchSize,
			ZeroTimestamp:     zeroTS,
			Logger:            logger,
		})
	}

	eng := engine.New(devices, terminals, runs, factory, engine.Options{
		CycleInterval:     cfg.Discovery.CycleInterval.Std(),
		ErrorBackoff:      cfg.Discovery.ErrorBackoff.Std(),
		EnrichConcurrency: cfg.Enrichment.Concurrency,
		EnrichAttempts:    cfg.Enrichment.Attempts,
		Metrics:           met,
		Logger:            logger,
	})

	if err := eng.InitializeAllActiveDevices(ctx); err != nil {
		logger.Error().Err(err).Msg("device initialization failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("ponwatchd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	eng.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
