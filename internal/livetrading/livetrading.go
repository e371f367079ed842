// Package livetrading
package livetrading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/config"
	"github.com/amirphl/ha-trader/internal/exchange"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/metrics"
	"github.com/amirphl/ha-trader/internal/replay"
)

const stateInterval = 5 * time.Second

// LatestSource returns the most recent closed candles of a market.
type LatestSource interface {
	FetchLatest(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error)
}

type stateReporter interface {
	State() exchange.ConnectionState
	Health() error
}

// RunLiveTrading seeds a session from history, subscribes to the kline
// stream and trades it until ctx is cancelled or the stream gives up.
func RunLiveTrading(ctx context.Context, cfg config.Config, history LatestSource, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}

	sinks, cleanup, err := BuildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New(cfg.Symbol, cfg.Timeframe)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Printf("runLiveTrading | Metrics server stopped: %v", err)
			}
		}()
	}

	stream, err := exchange.NewKlineStream(exchange.StreamConfig{
		URL:       cfg.BinanceWSURL,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Policy:    exchange.DefaultRetryPolicy,
	}, logger)
	if err != nil {
		return fmt.Errorf("runLiveTrading | %w", err)
	}

	s, err := prepareSession(ctx, cfg, history, logger, append(sinks, m)...)
	if err != nil {
		return err
	}

	stream.Start(ctx)
	defer stream.Close()

	return trade(ctx, s, stream, m, logger)
}

// prepareSession builds the session and seeds it with cfg.Lookback closed
// candles, or the strategy's warm-up period when that is longer. Seeding
// emits no events.
func prepareSession(ctx context.Context, cfg config.Config, history LatestSource, logger *log.Logger, sinks ...journal.Sink) (*replay.Session, error) {
	s, err := replay.NewSession(cfg.Session(), nil, logger, sinks...)
	if err != nil {
		return nil, err
	}
	count := max(cfg.Lookback, s.Strategy().WarmupPeriod())
	if count == 0 || history == nil {
		return s, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	candles, err := history.FetchLatest(fetchCtx, cfg.Symbol, cfg.Timeframe, count)
	if err != nil {
		return nil, fmt.Errorf("prepareSession | prefetch failed: %w", err)
	}
	if err := s.Seed(candles); err != nil {
		return nil, fmt.Errorf("prepareSession | seeding failed: %w", err)
	}
	logger.Printf("prepareSession | Seeded %s %s with %d candles", cfg.Symbol, cfg.Timeframe, s.Series().Len())
	return s, nil
}

// trade runs the live loop and keeps the stream metrics current. A
// cancelled ctx is a clean shutdown.
func trade(ctx context.Context, s *replay.Session, stream replay.Stream, m *metrics.Metrics, logger *log.Logger) error {
	if r, ok := stream.(stateReporter); ok && m != nil {
		go reportState(ctx, r, m, logger)
	}
	if m != nil {
		stream = &countingStream{Stream: stream, errors: m.StreamErrors.Inc}
	}

	skipped := s.Skipped()
	syncSkipped := func() {
		if m != nil && s.Skipped() > skipped {
			m.SkippedCandles.Add(float64(s.Skipped() - skipped))
		}
		skipped = s.Skipped()
	}
	err := replay.RunLive(ctx, s, stream, func(e journal.Event) {
		logger.Printf("runTradingLoop | #%d %s close=%.8f forming=%t signal=%s total_b=%.8f",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Candle.Close, e.Forming, e.Signal, e.Market.TotalInB())
		if e.Rejection != "" {
			logger.Printf("runTradingLoop | Order rejected: %s", e.Rejection)
		}
		syncSkipped()
	})
	syncSkipped()

	logger.Printf("runTradingLoop | Stopped after %d events, %d skipped candles", s.Journal().Len(), s.Skipped())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reportState(ctx context.Context, r stateReporter, m *metrics.Metrics, logger *log.Logger) {
	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()
	var lastErr string
	for {
		m.StreamState.Set(float64(r.State()))
		if err := r.Health(); err != nil {
			m.StreamHealthy.Set(0)
			if err.Error() != lastErr {
				logger.Printf("runTradingLoop | Stream unhealthy: %v", err)
			}
			lastErr = err.Error()
		} else {
			m.StreamHealthy.Set(1)
			lastErr = ""
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// countingStream counts retryable stream errors before RunLive skips them.
type countingStream struct {
	replay.Stream
	errors func()
}

func (c *countingStream) Next(ctx context.Context) (candle.Update, error) {
	u, err := c.Stream.Next(ctx)
	var r interface{ Retryable() bool }
	if err != nil && ctx.Err() == nil && errors.As(err, &r) && r.Retryable() {
		c.errors()
	}
	return u, err
}
