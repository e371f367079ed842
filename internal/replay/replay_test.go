package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/market"
	"github.com/amirphl/ha-trader/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c, v float64) candle.Candle {
	return candle.Candle{
		Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:      o, High: h, Low: l, Close: c, Volume: v,
		Symbol: "BTCUSDT", Timeframe: "5m",
	}
}

func goldenCandles() []candle.Candle {
	return []candle.Candle{
		bar(0, 10, 12, 9, 11, 100),
		bar(1, 11, 13, 10, 12, 120),
		bar(2, 12, 14, 11, 10, 90),
		bar(3, 10, 11, 8, 9, 80),
		bar(4, 9, 10, 7, 9.5, 70),
	}
}

func testConfig() Config {
	return Config{
		Symbol:    "BTCUSDT",
		Timeframe: "5m",
		Window:    5,
		Strategy:  "exs",
		Market:    market.Config{BalanceB: 1100},
	}
}

func signals(j *journal.Journal) []strategy.Signal {
	var out []strategy.Signal
	for _, e := range j.Events() {
		out = append(out, e.Signal)
	}
	return out
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Record(ctx context.Context, e journal.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type mockStream struct {
	mock.Mock
}

func (m *mockStream) Next(ctx context.Context) (candle.Update, error) {
	args := m.Called(ctx)
	return args.Get(0).(candle.Update), args.Error(1)
}

type frameError struct{}

func (frameError) Error() string   { return "bad frame" }
func (frameError) Retryable() bool { return true }

func TestRunBacktest_Golden(t *testing.T) {
	j, err := RunBacktest(context.Background(), goldenCandles(), testConfig(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 5, j.Len())

	assert.Equal(t, []strategy.Signal{
		strategy.Long, strategy.Long, strategy.Short, strategy.Sleep, strategy.Long,
	}, signals(j))

	last, ok := j.Last()
	require.True(t, ok)
	assert.Equal(t, strategy.Long, last.Signal)
	assert.False(t, last.PartialWindow)
	assert.Equal(t, 3, last.Market.Trades)
	assert.InDelta(t, 0, last.Market.BalanceB, 1e-9)
	assert.InDelta(t, 1000, last.Market.TotalInB(), 1e-9)

	events := j.Events()
	for i := 0; i < 4; i++ {
		assert.True(t, events[i].PartialWindow, "tick %d", i)
	}
	assert.Equal(t, 100.0, events[0].Market.BalanceA)
	assert.Equal(t, 0.0, events[2].Market.BalanceA)
	assert.Equal(t, 1000.0, events[2].Market.BalanceB)
}

func TestRunBacktest_Deterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Market.Fee = 0.001

	first, err := RunBacktest(context.Background(), goldenCandles(), cfg, nil, nil)
	require.NoError(t, err)
	second, err := RunBacktest(context.Background(), goldenCandles(), cfg, nil, nil)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRunBacktest_BadCandles(t *testing.T) {
	candles := goldenCandles()
	candles[2].Close = math.NaN()

	t.Run("Skip", func(t *testing.T) {
		s, err := NewSession(testConfig(), nil, nil)
		require.NoError(t, err)
		require.NoError(t, s.Replay(context.Background(), candles))
		assert.Equal(t, 4, s.Journal().Len())
		assert.Equal(t, 1, s.Skipped())
		assert.Equal(t, 4, s.Series().Len())
	})

	t.Run("Abort", func(t *testing.T) {
		cfg := testConfig()
		cfg.AbortOnBadCandle = true
		j, err := RunBacktest(context.Background(), candles, cfg, nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, candle.ErrInvalidCandle)
		require.NotNil(t, j)
		assert.Equal(t, 2, j.Len())
	})

	t.Run("Out of order", func(t *testing.T) {
		candles := goldenCandles()
		candles[3].Timestamp = t0
		s, err := NewSession(testConfig(), nil, nil)
		require.NoError(t, err)
		require.NoError(t, s.Replay(context.Background(), candles))
		assert.Equal(t, 4, s.Journal().Len())
	})
}

func TestRunBacktest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j, err := RunBacktest(ctx, goldenCandles(), testConfig(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, j.Len())
}

func TestSession_Config(t *testing.T) {
	t.Run("Window must be positive", func(t *testing.T) {
		cfg := testConfig()
		cfg.Window = 0
		_, err := NewSession(cfg, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("Invalid market", func(t *testing.T) {
		cfg := testConfig()
		cfg.Market.Fee = 1
		_, err := NewSession(cfg, nil, nil)
		assert.ErrorIs(t, err, market.ErrInvalidConfig)
	})

	t.Run("Unknown strategy sleeps", func(t *testing.T) {
		cfg := testConfig()
		cfg.Strategy = "does-not-exist"
		j, err := RunBacktest(context.Background(), goldenCandles(), cfg, nil, nil)
		require.NoError(t, err)
		for _, e := range j.Events() {
			assert.Equal(t, strategy.UnknownName, e.Strategy)
			assert.Equal(t, strategy.Sleep, e.Signal)
		}
		last, _ := j.Last()
		assert.Equal(t, 1100.0, last.Market.BalanceB)
	})
}

func TestSession_Rejection(t *testing.T) {
	cfg := testConfig()
	cfg.Market.MinTransaction = 1000

	s, err := NewSession(cfg, nil, nil)
	require.NoError(t, err)

	e, err := s.ProcessTick(context.Background(), goldenCandles()[0])
	require.NoError(t, err)
	assert.Equal(t, strategy.Long, e.Signal)
	assert.Contains(t, e.Rejection, "minimum transaction")
	assert.Equal(t, 1100.0, e.Market.BalanceB)
	assert.Equal(t, 0, e.Market.Trades)
	assert.Equal(t, 11.0, e.Market.Ratio)

	stats, err := journal.ComputeStats(s.Journal())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejections)
	assert.Equal(t, 0, stats.Runs)
}

// constant always returns the same signal.
type constant strategy.Signal

func (constant) Name() string                                 { return "constant" }
func (constant) WarmupPeriod() int                            { return 1 }
func (c constant) Evaluate(_ []candle.Candle) strategy.Signal { return strategy.Signal(c) }

func constantRegistry(sig strategy.Signal) *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register("constant", func() strategy.Strategy { return constant(sig) })
	return r
}

func TestSession_StepSizeDust(t *testing.T) {
	var candles []candle.Candle
	for i := 0; i < 4; i++ {
		candles = append(candles, bar(i, 42.5, 43, 42, 42.5, 1))
	}

	t.Run("Repeated long leaves dust without rejections", func(t *testing.T) {
		cfg := testConfig()
		cfg.Strategy = "constant"
		cfg.Market = market.Config{BalanceB: 1000, StepSize: 0.01}

		j, err := RunBacktest(context.Background(), candles, cfg, constantRegistry(strategy.Long), nil)
		require.NoError(t, err)
		for _, e := range j.Events() {
			assert.Empty(t, e.Rejection, "tick %d", e.Seq)
		}
		last, _ := j.Last()
		assert.Equal(t, 1, last.Market.Trades)
		assert.InDelta(t, 23.52, last.Market.BalanceA, 1e-9)

		stats, err := journal.ComputeStats(j)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Rejections)
		assert.Equal(t, 1, stats.Trades)
	})

	t.Run("Repeated short leaves dust without rejections", func(t *testing.T) {
		cfg := testConfig()
		cfg.Strategy = "constant"
		cfg.Market = market.Config{BalanceA: 1.2345, StepSize: 0.01}

		j, err := RunBacktest(context.Background(), candles, cfg, constantRegistry(strategy.Short), nil)
		require.NoError(t, err)
		stats, err := journal.ComputeStats(j)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Rejections)
		assert.Equal(t, 1, stats.Trades)
	})
}

func TestSession_WarmupWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	_, err := NewSession(testConfig(), nil, logger)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Window 5 is shorter than the 10 candles exs needs")

	buf.Reset()
	cfg := testConfig()
	cfg.Window = 10
	_, err = NewSession(cfg, nil, logger)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "warm up")
}

func TestSession_Seed(t *testing.T) {
	candles := goldenCandles()
	s, err := NewSession(testConfig(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Seed(candles[:4]))
	assert.Equal(t, 0, s.Journal().Len())

	e, err := s.ProcessTick(context.Background(), candles[4])
	require.NoError(t, err)
	assert.False(t, e.PartialWindow)
	assert.Equal(t, strategy.Long, e.Signal)
	assert.Equal(t, 0, e.Seq)
}

func TestSession_Sinks(t *testing.T) {
	ok := new(mockSink)
	ok.On("Record", mock.Anything, mock.AnythingOfType("journal.Event")).Return(nil)
	failing := new(mockSink)
	failing.On("Record", mock.Anything, mock.Anything).Return(errors.New("down"))

	j, err := RunBacktest(context.Background(), goldenCandles(), testConfig(), nil, nil, ok, failing)
	require.NoError(t, err)
	assert.Equal(t, 5, j.Len())

	ok.AssertNumberOfCalls(t, "Record", 5)
	failing.AssertNumberOfCalls(t, "Record", 5)
}

func TestRunLive(t *testing.T) {
	candles := goldenCandles()
	forming := candles[0]
	forming.Close = 10.5

	t.Run("Ingests updates until the stream fails", func(t *testing.T) {
		s, err := NewSession(testConfig(), nil, nil)
		require.NoError(t, err)

		stream := new(mockStream)
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: forming}, nil).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: candles[0], Closed: true}, nil).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{}, frameError{}).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: candles[1]}, nil).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{}, io.EOF).Once()

		var seen []journal.Event
		err = RunLive(context.Background(), s, stream, func(e journal.Event) {
			seen = append(seen, e)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, io.EOF)

		require.Len(t, seen, 3)
		assert.True(t, seen[0].Forming)
		assert.False(t, seen[1].Forming)
		assert.True(t, seen[2].Forming)
		assert.Equal(t, 2, s.Series().Len())
		assert.True(t, s.Series().Forming())
		got, err := s.Series().First()
		require.NoError(t, err)
		assert.Equal(t, 11.0, got.Close)
		stream.AssertExpectations(t)
	})

	t.Run("Skips out of order updates", func(t *testing.T) {
		s, err := NewSession(testConfig(), nil, nil)
		require.NoError(t, err)

		stream := new(mockStream)
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: candles[1], Closed: true}, nil).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: candles[0], Closed: true}, nil).Once()
		stream.On("Next", mock.Anything).Return(candle.Update{}, io.EOF).Once()

		err = RunLive(context.Background(), s, stream, nil)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 1, s.Journal().Len())
		assert.Equal(t, 1, s.Skipped())
	})

	t.Run("Stops on cancellation", func(t *testing.T) {
		s, err := NewSession(testConfig(), nil, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		stream := new(mockStream)
		stream.On("Next", mock.Anything).Return(candle.Update{Candle: candles[0], Closed: true}, nil).Once().
			Run(func(mock.Arguments) { cancel() })
		stream.On("Next", mock.Anything).Return(candle.Update{}, context.Canceled)

		err = RunLive(ctx, s, stream, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, s.Journal().Len())
	})
}
