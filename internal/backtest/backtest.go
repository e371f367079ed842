// Package backtest
package backtest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/config"
	"github.com/amirphl/ha-trader/internal/db"
	"github.com/amirphl/ha-trader/internal/exchange"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/replay"
	"github.com/amirphl/ha-trader/internal/tfutils"
)

var (
	// chunkSpan is the range requested from the history source per call.
	chunkSpan = 14 * 24 * time.Hour
	// chunkPause throttles consecutive chunk downloads.
	chunkPause = time.Second
)

// Result is the outcome of one backtest run.
type Result struct {
	Journal *journal.Journal
	Stats   journal.Stats
	Skipped int
}

// Run loads the configured range, replays it through a fresh session and
// reports the stats. The journal is also written to cfg.JournalSQLite and
// cfg.JournalCSV when they are set.
func Run(
	ctx context.Context,
	cfg config.Config,
	storage db.Storage,
	source exchange.HistorySource,
	logger *log.Logger,
	sinks ...journal.Sink,
) (Result, error) {
	if logger == nil {
		logger = log.Default()
	}

	candles, err := loadBacktestCandles(ctx, storage, source, cfg.Symbol, cfg.Timeframe, cfg.BacktestFrom, cfg.BacktestTo, logger)
	if err != nil {
		return Result{}, err
	}
	logger.Printf("runBacktest | Loaded %d candles for backtest [%s-%s]",
		len(candles), cfg.BacktestFrom.Format(time.RFC3339), cfg.BacktestTo.Format(time.RFC3339))

	if cfg.JournalSQLite != "" {
		sqlite, err := journal.NewSQLiteSink(cfg.JournalSQLite, sessionName(cfg))
		if err != nil {
			return Result{}, err
		}
		defer sqlite.Close()
		if n, err := sqlite.Count(ctx); err == nil && n > 0 {
			logger.Printf("runBacktest | %s already holds %d events for session %s, appending", cfg.JournalSQLite, n, sessionName(cfg))
		}
		sinks = append(sinks, sqlite)
	}

	s, err := replay.NewSession(cfg.Session(), nil, logger, sinks...)
	if err != nil {
		return Result{}, err
	}
	res := Result{Journal: s.Journal()}
	if err := s.Replay(ctx, candles); err != nil {
		res.Skipped = s.Skipped()
		return res, fmt.Errorf("runBacktest | replay failed: %w", err)
	}
	res.Skipped = s.Skipped()

	res.Stats, err = journal.ComputeStats(s.Journal())
	if err != nil {
		return res, fmt.Errorf("runBacktest | %w", err)
	}
	printBacktestResults(logger, cfg, s.Strategy().Name(), res)

	if cfg.JournalCSV != "" {
		if err := journal.SaveCSV(cfg.JournalCSV, s.Journal()); err != nil {
			return res, err
		}
		logger.Printf("runBacktest | Journal saved to %s", cfg.JournalCSV)
	}
	return res, nil
}

func sessionName(cfg config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return fmt.Sprintf("%s-%s-%s", cfg.Symbol, cfg.Timeframe, cfg.Strategy)
}

// loadBacktestCandles loads candles for backtesting. The cache serves the
// range when it holds every bar of it; otherwise the missing part is
// downloaded from the history source and merged into the cache.
func loadBacktestCandles(
	ctx context.Context,
	storage db.Storage,
	source exchange.HistorySource,
	symbol, timeframe string,
	from, to time.Time,
	logger *log.Logger,
) ([]candle.Candle, error) {
	sourceName := ""
	if source != nil {
		sourceName = source.Name()
	}

	expected := expectedBars(timeframe, from, to)
	count, err := storage.GetCandleCount(ctx, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("loadBacktestCandles | error counting cached candles: %w", err)
	}
	if count > 0 && (count >= expected || source == nil) {
		if count < expected {
			logger.Printf("loadBacktestCandles | Cache holds %d of %d bars for %s and no history source is configured", count, expected, symbol)
		}
		cached, err := loadCached(ctx, storage, symbol, timeframe, sourceName, from, to)
		if err != nil || len(cached) > 0 {
			return cached, err
		}
		// counted rows belong to another source
		count = 0
	}
	if source == nil {
		return nil, fmt.Errorf("no candles stored for %s %s and no history source configured", symbol, timeframe)
	}

	start := resumeFrom(ctx, storage, symbol, timeframe, from, to, count)
	if count == 0 {
		logger.Printf("loadBacktestCandles | No historical candles found in DB for %s, downloading from %s...", symbol, sourceName)
	} else {
		logger.Printf("loadBacktestCandles | Cache holds %d of %d bars for %s, downloading from %s since %s...",
			count, expected, symbol, sourceName, start.Format(time.RFC3339))
	}

	downloaded, err := downloadCandles(ctx, source, symbol, timeframe, start, to, logger)
	if err != nil {
		return nil, err
	}
	processed := processCandles(downloaded, timeframe, start, to, logger)

	if len(processed) > 0 {
		saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = storage.SaveCandles(saveCtx, candle.ToRecords(processed))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("error saving candles to database: %w", err)
		}
		logger.Printf("loadBacktestCandles | Saved %d processed candles to database", len(processed))
	}

	loaded, err := loadCached(ctx, storage, symbol, timeframe, sourceName, from, to)
	if err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no candles available for %s from %s to %s",
			symbol, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return loaded, nil
}

func loadCached(ctx context.Context, storage db.Storage, symbol, timeframe, source string, from, to time.Time) ([]candle.Candle, error) {
	stored, err := storage.GetCandles(ctx, symbol, timeframe, source, from, to)
	if err != nil {
		return nil, fmt.Errorf("loadBacktestCandles | error loading candles from database: %w", err)
	}
	candles, err := candle.FromRecords(stored)
	if err != nil {
		return nil, fmt.Errorf("loadBacktestCandles | %w", err)
	}
	return candles, nil
}

// expectedBars counts the bar open times inside [from, to).
func expectedBars(timeframe string, from, to time.Time) int {
	d := tfutils.GetTimeframeDuration(timeframe)
	if d <= 0 || !from.Before(to) {
		return 0
	}
	first := tfutils.Align(from, timeframe)
	if first.Before(from) {
		first = first.Add(d)
	}
	if !first.Before(to) {
		return 0
	}
	return int((to.Sub(first)-1)/d) + 1
}

// resumeFrom returns where a download has to start. When the cached bars
// form an unbroken prefix of the range, only the bars after the latest one
// are fetched; any hole means the whole range is fetched again.
func resumeFrom(ctx context.Context, storage db.Storage, symbol, timeframe string, from, to time.Time, count int) time.Time {
	if count == 0 {
		return from
	}
	latest, err := storage.GetLatestCandle(ctx, symbol, timeframe)
	if err != nil || latest == nil || latest.Timestamp.Before(from) {
		return from
	}
	next := latest.Timestamp.Add(tfutils.GetTimeframeDuration(timeframe))
	if !next.After(from) || !next.Before(to) || expectedBars(timeframe, from, next) != count {
		return from
	}
	return next
}

// downloadCandles fetches [from, to) in chunks of chunkSpan.
func downloadCandles(
	ctx context.Context,
	source exchange.HistorySource,
	symbol, timeframe string,
	from, to time.Time,
	logger *log.Logger,
) ([]candle.Candle, error) {
	ticker := time.NewTicker(chunkPause)
	defer ticker.Stop()

	var all []candle.Candle
	for curr := from; curr.Before(to); {
		next := curr.Add(chunkSpan)
		if next.After(to) {
			next = to
		}

		downloadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		chunk, err := source.FetchCandles(downloadCtx, symbol, timeframe, curr, next)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("error fetching candles from %s to %s: %w",
				curr.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}
		logger.Printf("loadBacktestCandles | Downloaded %d candles for %s from %s to %s",
			len(chunk), symbol, curr.Format("2006-01-02"), next.Format("2006-01-02"))
		all = append(all, chunk...)

		curr = next
		if !curr.Before(to) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return all, nil
}

// processCandles sorts, deduplicates and trims candles to [start, to).
// Gaps are logged, not filled.
func processCandles(candles []candle.Candle, timeframe string, start, to time.Time, logger *log.Logger) []candle.Candle {
	duration := tfutils.GetTimeframeDuration(timeframe)

	seen := make(map[time.Time]bool, len(candles))
	out := make([]candle.Candle, 0, len(candles))
	for _, c := range candles {
		c.Timestamp = tfutils.Align(c.Timestamp, timeframe)
		if c.Timestamp.Before(start) || !c.Timestamp.Before(to) || seen[c.Timestamp] {
			continue
		}
		seen[c.Timestamp] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if duration > 0 {
		gaps := 0
		for i := 1; i < len(out); i++ {
			if out[i].Timestamp.Sub(out[i-1].Timestamp) > duration {
				gaps++
			}
		}
		if gaps > 0 {
			logger.Printf("processCandles | %d gaps in %s history", gaps, timeframe)
		}
	}
	return out
}

func printBacktestResults(logger *log.Logger, cfg config.Config, strategyName string, res Result) {
	logger.Printf("\n==== Backtest Results: %s (%s %s) ====", strategyName, cfg.Symbol, cfg.Timeframe)
	logger.Printf("Range:           %s - %s", cfg.BacktestFrom.Format("2006-01-02"), cfg.BacktestTo.Format("2006-01-02"))
	logger.Printf("Window:          %d", cfg.Window)
	logger.Printf("Skipped candles: %d", res.Skipped)
	logger.Printf("%s", res.Stats)
	logger.Printf("==============================\n")
}
