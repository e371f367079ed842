package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/ha-trader/internal/backtest"
	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/config"
	"github.com/amirphl/ha-trader/internal/db"
	"github.com/amirphl/ha-trader/internal/exchange"
	"github.com/amirphl/ha-trader/internal/livetrading"
	"github.com/amirphl/ha-trader/internal/utils"
)

// historySource serves both backtest downloads and live prefetch.
type historySource interface {
	exchange.HistorySource
	FetchLatest(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error)
}

func newHistorySource(cfg config.Config, logger *log.Logger) historySource {
	if cfg.HistorySource == config.SourceWallex {
		return exchange.NewWallexHistory(cfg.WallexAPIKey, logger)
	}
	return exchange.NewBinanceHistory(exchange.BinanceConfig{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		BaseURL:   cfg.BinanceRESTURL,
		Limit:     cfg.HistoryLimit,
	}, logger)
}

func openStorage(ctx context.Context, cfg config.Config) (db.Storage, error) {
	if cfg.Storage != config.StoragePostgres {
		return db.NewMemory(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return db.OpenPostgres(connectCtx, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := utils.NewLogger(cfg.LogFile, "")
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger.Printf("Starting HA Trader in mode: %s (%s %s, strategy %s)", cfg.Mode, cfg.Symbol, cfg.Timeframe, cfg.Strategy)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Printf("%s failed: %v", cfg.Mode, err)
		logFile.Close()
		os.Exit(1)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	source := newHistorySource(cfg, logger)

	switch cfg.Mode {
	case config.ModeBacktest:
		storage, err := openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		_, err = backtest.Run(ctx, cfg, storage, source, logger)
		return err

	case config.ModeLive:
		err := livetrading.RunLiveTrading(ctx, cfg, source, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}
