package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/utils"
)

const (
	formingFrame = `{"e":"kline","E":1704067230000,"s":"BTCUSDT","k":{"t":1704067200000,"T":1704067499999,"s":"BTCUSDT","i":"5m","f":1,"L":99,"o":"42000.5","c":"42050","h":42100,"l":"41900","v":"12.5","n":99,"x":false,"q":"525000","V":"6","Q":"252000","B":"0"}}`
	closedFrame  = `{"e":"kline","E":1704067500000,"s":"BTCUSDT","k":{"t":1704067200000,"T":1704067499999,"s":"BTCUSDT","i":"5m","f":1,"L":120,"o":"42000.5","c":"42080","h":"42150","l":"41900","v":"15","n":120,"x":true,"q":"630000","V":"7","Q":"294000","B":"0"}}`
	badFrame     = `{"e":"kline","E":1704067230000,"s":"BTCUSDT","k":{"t":1704067200000,"o":"abc","c":"1","h":"1","l":"1","v":"1","x":false}}`
	ackFrame     = `{"result":null,"id":1}`
)

func TestParseKlineFrame(t *testing.T) {
	t.Run("Forming bar with mixed numbers", func(t *testing.T) {
		u, ok, err := parseKlineFrame([]byte(formingFrame), "5m")
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, u.Closed)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), u.Candle.Timestamp)
		assert.Equal(t, 42000.5, u.Candle.Open)
		assert.Equal(t, 42100.0, u.Candle.High)
		assert.Equal(t, 41900.0, u.Candle.Low)
		assert.Equal(t, 42050.0, u.Candle.Close)
		assert.Equal(t, 12.5, u.Candle.Volume)
		assert.Equal(t, "BTCUSDT", u.Candle.Symbol)
		assert.Equal(t, "5m", u.Candle.Timeframe)
	})

	t.Run("Closed bar", func(t *testing.T) {
		u, ok, err := parseKlineFrame([]byte(closedFrame), "5m")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, u.Closed)
		assert.Equal(t, 15.0, u.Candle.Volume)
	})

	t.Run("Acknowledgement is ignored", func(t *testing.T) {
		_, ok, err := parseKlineFrame([]byte(ackFrame), "5m")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Malformed number", func(t *testing.T) {
		_, _, err := parseKlineFrame([]byte(badFrame), "5m")
		assert.ErrorIs(t, err, candle.ErrInvalidCandle)
	})

	t.Run("Invalid candle", func(t *testing.T) {
		frame := strings.Replace(closedFrame, `"v":"15"`, `"v":"-1"`, 1)
		_, _, err := parseKlineFrame([]byte(frame), "5m")
		assert.ErrorIs(t, err, candle.ErrInvalidCandle)
	})

	t.Run("Not json", func(t *testing.T) {
		_, _, err := parseKlineFrame([]byte("ping"), "5m")
		assert.Error(t, err)
	})
}

func TestSubscribePayload(t *testing.T) {
	assert.Equal(t, "btcusdt@kline_5m", StreamName("btc-usdt", "5m"))

	payload, err := subscribePayload(1, StreamName("BTCUSDT", "1h"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@kline_1h"],"id":1}`, string(payload))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestKlineStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscriptions := make(chan subscribeRequest, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if json.Unmarshal(msg, &req) == nil {
			subscriptions <- req
		}
		for _, f := range []string{ackFrame, formingFrame, badFrame, closedFrame} {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := NewKlineStream(StreamConfig{URL: wsURL(srv), Symbol: "BTCUSDT", Timeframe: "5m", Policy: fastPolicy}, utils.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	u, err := s.Next(ctx)
	require.NoError(t, err)
	assert.False(t, u.Closed)
	assert.Equal(t, 42050.0, u.Candle.Close)

	_, err = s.Next(ctx)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Retryable())

	u, err = s.Next(ctx)
	require.NoError(t, err)
	assert.True(t, u.Closed)
	assert.Equal(t, 42080.0, u.Candle.Close)

	req := <-subscriptions
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"btcusdt@kline_5m"}, req.Params)
	assert.Equal(t, Connected, s.State())
	assert.NoError(t, s.Health())

	s.Close()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, Closed, s.State())
}

func TestKlineStream_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	s, err := NewKlineStream(StreamConfig{URL: url, Symbol: "BTCUSDT", Timeframe: "5m", Policy: fastPolicy}, utils.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)

	_, err = s.Next(ctx)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Retryable())
	assert.Equal(t, "connect", te.Op)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Error(t, s.Health())
}

func TestNewKlineStream_Validation(t *testing.T) {
	_, err := NewKlineStream(StreamConfig{URL: "ws://localhost", Timeframe: "7m"}, nil)
	assert.Error(t, err)
	_, err = NewKlineStream(StreamConfig{Timeframe: "5m"}, nil)
	assert.Error(t, err)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
