package livetrading

import (
	"context"
	"log"

	"github.com/amirphl/ha-trader/internal/config"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/notifier"
)

// BuildSinks opens every optional event consumer the config enables. The
// returned cleanup closes them.
func BuildSinks(ctx context.Context, cfg config.Config, logger *log.Logger) ([]journal.Sink, func(), error) {
	var sinks []journal.Sink
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Printf("BuildSinks | Close failed: %v", err)
			}
		}
	}

	if cfg.JournalSQLite != "" {
		sqlite, err := journal.NewSQLiteSink(cfg.JournalSQLite, sessionName(cfg))
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, sqlite.Close)
		if n, err := sqlite.Count(ctx); err == nil && n > 0 {
			logger.Printf("BuildSinks | %s already holds %d events for session %s, appending", cfg.JournalSQLite, n, sessionName(cfg))
		}
		sinks = append(sinks, sqlite)
	}

	if cfg.RedisAddr != "" {
		pub, err := notifier.NewRedisPublisher(notifier.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pub.Close)
		sinks = append(sinks, pub)
	}

	if cfg.TelegramToken != "" {
		tg := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		sinks = append(sinks, notifier.NewTradeAlerts(tg, sessionName(cfg), cfg.NotificationRetries, cfg.NotificationDelay, logger))
		if err := notifier.SendWithRetry(ctx, tg, "Session "+sessionName(cfg)+" started", cfg.NotificationRetries, cfg.NotificationDelay, logger); err != nil {
			logger.Printf("BuildSinks | Startup notification failed: %v", err)
		}
	}

	return sinks, cleanup, nil
}

func sessionName(cfg config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Symbol + "-" + cfg.Timeframe + "-" + cfg.Strategy
}
