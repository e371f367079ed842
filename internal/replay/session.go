// Package replay drives candles through a strategy and a simulated market.
// Backtests and live trading share the same per-tick routine.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/market"
	"github.com/amirphl/ha-trader/internal/strategy"
)

var ErrInvalidConfig = errors.New("invalid session config")

type Config struct {
	Symbol    string
	Timeframe string
	// Window is the number of trailing candles handed to the strategy.
	Window   int
	Strategy string
	Market   market.Config
	// AbortOnBadCandle stops the run on the first invalid candle instead
	// of skipping it.
	AbortOnBadCandle bool
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %d", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Session owns the candle series, the market and the journal of one run.
// It is not safe for concurrent use.
type Session struct {
	cfg      Config
	series   *candle.Series
	market   market.Market
	journal  *journal.Journal
	strategy strategy.Strategy
	logger   *log.Logger
	sinks    []journal.Sink
	skipped  int
}

func NewSession(cfg Config, registry *strategy.Registry, logger *log.Logger, sinks ...journal.Sink) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := market.New(cfg.Market)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}

	strat, ok := registry.Resolve(cfg.Strategy)
	if !ok {
		logger.Printf("Session | Unknown strategy %q, every tick will sleep (known: %v)", cfg.Strategy, registry.Names())
	}
	if warmup := strat.WarmupPeriod(); cfg.Window < warmup {
		logger.Printf("Session | Window %d is shorter than the %d candles %s needs to warm up", cfg.Window, warmup, strat.Name())
	}

	return &Session{
		cfg:      cfg,
		series:   candle.NewSeries(cfg.Symbol, cfg.Timeframe),
		market:   m,
		journal:  journal.New(cfg.Symbol, cfg.Timeframe, m),
		strategy: strat,
		logger:   logger,
		sinks:    sinks,
	}, nil
}

func (s *Session) Market() market.Market       { return s.market }
func (s *Session) Journal() *journal.Journal   { return s.journal }
func (s *Session) Series() *candle.Series      { return s.series }
func (s *Session) Strategy() strategy.Strategy { return s.strategy }

// Skipped returns the number of invalid candles dropped so far.
func (s *Session) Skipped() int { return s.skipped }

// Seed adds lookback history without evaluating the strategy.
func (s *Session) Seed(history []candle.Candle) error {
	for _, c := range history {
		if err := s.series.Push(c); err != nil {
			if err := s.badCandle(err); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessTick appends a closed candle and evaluates one tick.
func (s *Session) ProcessTick(ctx context.Context, c candle.Candle) (journal.Event, error) {
	if err := s.series.Push(c); err != nil {
		return journal.Event{}, err
	}
	return s.tick(ctx, c)
}

// Ingest applies a live update to the series and evaluates one tick.
func (s *Session) Ingest(ctx context.Context, u candle.Update) (journal.Event, error) {
	if _, err := s.series.Ingest(u); err != nil {
		return journal.Event{}, err
	}
	return s.tick(ctx, u.Candle)
}

// tick works on a copy of the market; the market and the journal are only
// updated once the event is complete.
func (s *Session) tick(ctx context.Context, c candle.Candle) (journal.Event, error) {
	m := s.market
	if err := m.UpdateRatio(c.Close); err != nil {
		return journal.Event{}, err
	}

	window, partial := s.series.Tail(s.cfg.Window)
	signal := s.strategy.Evaluate(window)

	var err error
	switch signal {
	case strategy.Long:
		err = m.BuyMax()
	case strategy.Short:
		err = m.SellMax()
	}

	e := journal.Event{
		Timestamp:     c.Timestamp,
		Strategy:      s.strategy.Name(),
		Signal:        signal,
		Candle:        c,
		PartialWindow: partial,
		Forming:       s.series.Forming(),
	}
	if err != nil {
		var rejected *market.OrderRejectedError
		if !errors.As(err, &rejected) {
			return journal.Event{}, err
		}
		e.Rejection = rejected.Error()
		s.logger.Printf("Session | %s %s order rejected at %s: %v", s.cfg.Symbol, signal, c.Timestamp, err)
	}
	e.Market = m

	s.market = m
	e = s.journal.Append(e)

	for _, sink := range s.sinks {
		if err := sink.Record(ctx, e); err != nil {
			s.logger.Printf("Session | Sink %T failed for event %d: %v", sink, e.Seq, err)
		}
	}
	return e, nil
}

// badCandle applies the bad-candle policy: nil means skip.
func (s *Session) badCandle(err error) error {
	var dataErr *candle.DataError
	if !errors.As(err, &dataErr) || s.cfg.AbortOnBadCandle {
		return err
	}
	s.skipped++
	s.logger.Printf("Session | Skipping candle: %v", err)
	return nil
}
