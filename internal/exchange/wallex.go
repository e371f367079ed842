package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/tfutils"
)

type wallexCandlesFunc func(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error)

// WallexHistory downloads candles through the Wallex REST API.
type WallexHistory struct {
	candles wallexCandlesFunc
	policy  RetryPolicy
	logger  *log.Logger
	now     func() time.Time
}

func NewWallexHistory(apiKey string, logger *log.Logger) *WallexHistory {
	client := wallex.New(wallex.ClientOptions{APIKey: apiKey})
	fetch := func(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error) {
		return client.Candles(symbol, resolution, from, to)
	}
	return newWallexHistory(fetch, DefaultRetryPolicy, logger)
}

func newWallexHistory(fetch wallexCandlesFunc, policy RetryPolicy, logger *log.Logger) *WallexHistory {
	if logger == nil {
		logger = log.Default()
	}
	return &WallexHistory{candles: fetch, policy: policy, logger: logger, now: time.Now}
}

func (w *WallexHistory) Name() string { return "wallex" }

func (w *WallexHistory) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	resolution, err := tfutils.WallexResolution(timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	normalizedSymbol := NormalizeSymbol(symbol)

	var raw []*wallex.Candle
	err = retry(ctx, w.policy, func(error) bool { return ctx.Err() == nil }, func() error {
		var err error
		raw, err = w.candles(normalizedSymbol, resolution, start, end)
		if err != nil {
			w.logger.Printf("WallexHistory | Fetching %s candles failed: %v", normalizedSymbol, err)
			return fmt.Errorf("fetching candles: %w: %w", ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchCandles failed: %w", err)
	}

	out := make([]candle.Candle, 0, len(raw))
	for _, wc := range raw {
		c, err := translateWallexCandle(wc, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return closedOnly(out, start, end, w.now()), nil
}

func (w *WallexHistory) FetchLatest(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error) {
	return fetchLatest(ctx, w, w.now(), symbol, timeframe, count)
}

func translateWallexCandle(wc *wallex.Candle, symbol, timeframe string) (candle.Candle, error) {
	if wc == nil {
		return candle.Candle{}, errors.New("received nil wallex candle")
	}
	ts := wc.Timestamp.UTC()
	parse := func(name string, n wallex.Number) (float64, error) {
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, &candle.DataError{Timestamp: ts, Reason: fmt.Sprintf("parsing %s %q", name, string(n))}
		}
		return f, nil
	}

	var c candle.Candle
	var err error
	if c.Open, err = parse("open", wc.Open); err != nil {
		return candle.Candle{}, err
	}
	if c.High, err = parse("high", wc.High); err != nil {
		return candle.Candle{}, err
	}
	if c.Low, err = parse("low", wc.Low); err != nil {
		return candle.Candle{}, err
	}
	if c.Close, err = parse("close", wc.Close); err != nil {
		return candle.Candle{}, err
	}
	if c.Volume, err = parse("volume", wc.Volume); err != nil {
		return candle.Candle{}, err
	}
	c.Timestamp = tfutils.Align(ts, timeframe)
	c.Symbol = symbol
	c.Timeframe = timeframe
	c.Source = "wallex"
	return c, nil
}
