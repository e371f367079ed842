package candle

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Helper function to create test candles
func createTestCandles(opens, highs, lows, closes []float64) []Candle {
	candles := make([]Candle, len(opens))
	for i := range opens {
		candles[i] = Candle{
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Open:      opens[i],
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			Volume:    1,
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			Source:    "test",
		}
	}
	return candles
}

func TestCandle_Validate(t *testing.T) {
	valid := Candle{Timestamp: baseTime, Open: 10, High: 12, Low: 9, Close: 11, Volume: 3}

	t.Run("Valid candle", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("Close outside range is accepted", func(t *testing.T) {
		c := Candle{Timestamp: baseTime, Open: 12, High: 14, Low: 11, Close: 10, Volume: 90}
		assert.NoError(t, c.Validate())
	})

	cases := []struct {
		name   string
		mutate func(c *Candle)
	}{
		{"Zero timestamp", func(c *Candle) { c.Timestamp = time.Time{} }},
		{"NaN close", func(c *Candle) { c.Close = math.NaN() }},
		{"Infinite high", func(c *Candle) { c.High = math.Inf(1) }},
		{"Non-positive close", func(c *Candle) { c.Close = 0 }},
		{"High below low", func(c *Candle) { c.High = 8 }},
		{"Negative volume", func(c *Candle) { c.Volume = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCandle))
			var dataErr *DataError
			assert.True(t, errors.As(err, &dataErr))
		})
	}
}

func TestCandle_IsComplete(t *testing.T) {
	c := Candle{Timestamp: baseTime, Timeframe: "5m"}
	assert.False(t, c.IsComplete(baseTime.Add(4*time.Minute)))
	assert.True(t, c.IsComplete(baseTime.Add(5*time.Minute)))
}

func TestSeries_Access(t *testing.T) {
	s := NewSeries("BTCUSDT", "1m")
	candles := createTestCandles(
		[]float64{10, 11, 12, 13},
		[]float64{11, 12, 13, 14},
		[]float64{9, 10, 11, 12},
		[]float64{10.5, 11.5, 12.5, 13.5},
	)
	for _, c := range candles {
		require.NoError(t, s.Push(c))
	}

	t.Run("Get with negative index", func(t *testing.T) {
		for k := 1; k <= s.Len(); k++ {
			neg, err := s.Get(-k)
			require.NoError(t, err)
			pos, err := s.Get(s.Len() - k)
			require.NoError(t, err)
			assert.Equal(t, pos, neg)
		}
	})

	t.Run("Get out of range", func(t *testing.T) {
		_, err := s.Get(4)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = s.Get(-5)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("Slice forward and reverse", func(t *testing.T) {
		fwd, err := s.Slice(1, 3)
		require.NoError(t, err)
		assert.Equal(t, []float64{11.5, 12.5}, Closes(fwd))

		rev, err := s.Slice(3, 1)
		require.NoError(t, err)
		assert.Equal(t, []float64{12.5, 11.5}, Closes(rev))

		_, err = s.Slice(0, 5)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("First and last", func(t *testing.T) {
		first, err := s.First()
		require.NoError(t, err)
		assert.Equal(t, 10.0, first.Open)
		last, err := s.Last()
		require.NoError(t, err)
		assert.Equal(t, 13.5, last.Close)
	})

	t.Run("Projections have series length", func(t *testing.T) {
		assert.Len(t, s.Opens(), 4)
		assert.Len(t, s.Highs(), 4)
		assert.Len(t, s.Lows(), 4)
		assert.Len(t, s.Volumes(), 4)
		assert.Len(t, s.Timestamps(), 4)
		assert.Equal(t, []float64{10.5, 11.5, 12.5, 13.5}, s.Closes())
	})

	t.Run("Tail", func(t *testing.T) {
		w, partial := s.Tail(2)
		assert.False(t, partial)
		assert.Equal(t, []float64{12.5, 13.5}, Closes(w))

		w, partial = s.Tail(10)
		assert.True(t, partial)
		assert.Len(t, w, 4)
	})
}

func TestSeries_Empty(t *testing.T) {
	s := NewSeries("BTCUSDT", "1m")
	_, err := s.First()
	assert.ErrorIs(t, err, ErrEmptySeries)
	_, err = s.Last()
	assert.ErrorIs(t, err, ErrEmptySeries)
	err = s.ReplaceLast(Candle{Timestamp: baseTime, Open: 1, High: 1, Low: 1, Close: 1})
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestSeries_PushRejectsOlderCandle(t *testing.T) {
	s := NewSeries("BTCUSDT", "1m")
	candles := createTestCandles([]float64{10, 10}, []float64{11, 11}, []float64{9, 9}, []float64{10, 10})
	require.NoError(t, s.Push(candles[1]))
	err := s.Push(candles[0])
	assert.ErrorIs(t, err, ErrInvalidCandle)
	assert.Equal(t, 1, s.Len())
}

func TestSeries_Ingest(t *testing.T) {
	candles := createTestCandles(
		[]float64{10, 11, 12},
		[]float64{11, 12, 13},
		[]float64{9, 10, 11},
		[]float64{10.5, 11.5, 12.5},
	)

	t.Run("Forming updates replace, next bar appends", func(t *testing.T) {
		s := NewSeries("BTCUSDT", "1m")
		_, err := s.Ingest(Update{Candle: candles[0]})
		require.NoError(t, err)
		assert.True(t, s.Forming())

		update := candles[0]
		update.Close = 10.8
		replaced, err := s.Ingest(Update{Candle: update, Closed: true})
		require.NoError(t, err)
		assert.True(t, replaced)
		assert.False(t, s.Forming())
		assert.Equal(t, 1, s.Len())

		replaced, err = s.Ingest(Update{Candle: candles[1]})
		require.NoError(t, err)
		assert.False(t, replaced)
		assert.Equal(t, 2, s.Len())

		first, err := s.First()
		require.NoError(t, err)
		assert.Equal(t, 10.8, first.Close)
	})

	t.Run("Missed close keeps forming bar", func(t *testing.T) {
		s := NewSeries("BTCUSDT", "1m")
		_, err := s.Ingest(Update{Candle: candles[0]})
		require.NoError(t, err)
		_, err = s.Ingest(Update{Candle: candles[1], Closed: true})
		require.NoError(t, err)
		assert.Equal(t, []float64{10.5, 11.5}, s.Closes())
	})

	t.Run("Repeated closed bar is idempotent", func(t *testing.T) {
		s := NewSeries("BTCUSDT", "1m")
		for i := 0; i < 3; i++ {
			_, err := s.Ingest(Update{Candle: candles[0], Closed: true})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Out of order update is rejected", func(t *testing.T) {
		s := NewSeries("BTCUSDT", "1m")
		_, err := s.Ingest(Update{Candle: candles[2], Closed: true})
		require.NoError(t, err)
		_, err = s.Ingest(Update{Candle: candles[1]})
		assert.ErrorIs(t, err, ErrInvalidCandle)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Invalid candle leaves series untouched", func(t *testing.T) {
		s := NewSeries("BTCUSDT", "1m")
		bad := candles[0]
		bad.Close = math.NaN()
		_, err := s.Ingest(Update{Candle: bad})
		assert.Error(t, err)
		assert.Equal(t, 0, s.Len())
	})
}

func TestHeikinAshi(t *testing.T) {
	t.Run("Empty input", func(t *testing.T) {
		assert.Nil(t, HeikinAshi(nil))
	})

	t.Run("Fold values", func(t *testing.T) {
		raw := createTestCandles(
			[]float64{10, 11, 12, 10, 9},
			[]float64{12, 13, 14, 11, 10},
			[]float64{9, 10, 11, 8, 7},
			[]float64{11, 12, 10, 9, 9.5},
		)
		ha := HeikinAshi(raw)
		require.Len(t, ha, len(raw))

		wantOpen := []float64{10.5, 10.5, 11, 11.375, 10.4375}
		wantClose := []float64{10.5, 11.5, 11.75, 9.5, 8.875}
		for i := range ha {
			assert.InDelta(t, wantOpen[i], ha[i].Open, 1e-12, "open %d", i)
			assert.InDelta(t, wantClose[i], ha[i].Close, 1e-12, "close %d", i)
			assert.Equal(t, raw[i].High, ha[i].High)
			assert.Equal(t, raw[i].Low, ha[i].Low)
			assert.Equal(t, raw[i].Timestamp, ha[i].Timestamp)
			assert.Equal(t, "heikin_ashi", ha[i].Source)
		}
	})

	t.Run("Does not mutate input", func(t *testing.T) {
		raw := createTestCandles([]float64{10}, []float64{12}, []float64{9}, []float64{11})
		_ = HeikinAshi(raw)
		assert.Equal(t, 10.0, raw[0].Open)
		assert.Equal(t, "test", raw[0].Source)
	})
}
