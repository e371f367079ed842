package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/tfutils"
)

const binanceMaxLimit = 1000

// klinesFunc fetches one page of klines with open time in [startMs, endMs].
type klinesFunc func(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]*binance.Kline, error)

// BinanceHistory downloads spot klines through the Binance REST API.
type BinanceHistory struct {
	klines klinesFunc
	limit  int
	policy RetryPolicy
	logger *log.Logger
	now    func() time.Time
}

type BinanceConfig struct {
	APIKey    string
	SecretKey string
	// BaseURL overrides the REST endpoint, e.g. for the testnet.
	BaseURL string
	// Limit is the page size, at most 1000.
	Limit  int
	Policy RetryPolicy
}

func NewBinanceHistory(cfg BinanceConfig, logger *log.Logger) *BinanceHistory {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	fetch := func(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]*binance.Kline, error) {
		return client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(startMs).
			EndTime(endMs).
			Limit(limit).
			Do(ctx)
	}
	return newBinanceHistory(fetch, cfg.Limit, cfg.Policy, logger)
}

func newBinanceHistory(fetch klinesFunc, limit int, policy RetryPolicy, logger *log.Logger) *BinanceHistory {
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy
	}
	if logger == nil {
		logger = log.Default()
	}
	return &BinanceHistory{klines: fetch, limit: limit, policy: policy, logger: logger, now: time.Now}
}

func (b *BinanceHistory) Name() string { return "binance" }

// FetchCandles pages through [start, end) and drops candles that have not
// closed yet.
func (b *BinanceHistory) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	interval, err := tfutils.BinanceInterval(timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	apiSymbol := NormalizeSymbol(symbol)
	endMs := end.UnixMilli() - 1

	var out []candle.Candle
	from := start.UnixMilli()
	for from <= endMs {
		var page []*binance.Kline
		err := retry(ctx, b.policy, isRetryableBinanceError, func() error {
			var err error
			page, err = b.klines(ctx, apiSymbol, interval, from, endMs, b.limit)
			return handleBinanceError(err, "FetchCandles")
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			c, err := translateBinanceKline(k, symbol, timeframe)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		b.logger.Printf("BinanceHistory | Downloaded %d klines for %s from %s", len(page), apiSymbol, candle.MillisToTime(from).Format(time.RFC3339))

		next := page[len(page)-1].OpenTime + 1
		if len(page) < b.limit || next <= from {
			break
		}
		from = next
	}

	return closedOnly(out, start, end, b.now()), nil
}

// FetchLatest returns up to count closed candles ending now.
func (b *BinanceHistory) FetchLatest(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error) {
	return fetchLatest(ctx, b, b.now(), symbol, timeframe, count)
}

func fetchLatest(ctx context.Context, src HistorySource, now time.Time, symbol, timeframe string, count int) ([]candle.Candle, error) {
	d := tfutils.GetTimeframeDuration(timeframe)
	if d == 0 {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidRequest, timeframe)
	}
	end := tfutils.Align(now, timeframe)
	start := end.Add(-d * time.Duration(count))
	candles, err := src.FetchCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

func translateBinanceKline(k *binance.Kline, symbol, timeframe string) (candle.Candle, error) {
	if k == nil {
		return candle.Candle{}, errors.New("received nil historical kline")
	}
	ts := candle.MillisToTime(k.OpenTime)
	fields := []struct {
		name string
		raw  string
	}{{"open", k.Open}, {"high", k.High}, {"low", k.Low}, {"close", k.Close}, {"volume", k.Volume}}

	var values [5]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return candle.Candle{}, &candle.DataError{Timestamp: ts, Reason: fmt.Sprintf("parsing %s %q", f.name, f.raw)}
		}
		values[i] = v
	}

	return candle.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Symbol:    symbol,
		Timeframe: timeframe,
		Source:    "binance",
	}, nil
}

// handleBinanceError maps Binance API error codes onto package sentinels.
func handleBinanceError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		var mapped error
		switch apiErr.Code {
		case -1003, -1015:
			mapped = ErrRateLimited
		case -1000, -1001, -1006, -1007, -1008:
			mapped = ErrUnavailable
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1125, -1127, -1128, -1130:
			mapped = ErrInvalidRequest
		default:
			return fmt.Errorf("%s failed: %w", operation, err)
		}
		return fmt.Errorf("%s failed: %w: %w", operation, mapped, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return fmt.Errorf("%s failed: %w: %w", operation, ErrUnavailable, err)
}

func isRetryableBinanceError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
