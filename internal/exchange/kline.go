package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/amirphl/ha-trader/internal/candle"
)

// Number accepts a JSON number or a numeric string. Malformed values are
// candle data errors, never zero.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("%w: invalid number %q", candle.ErrInvalidCandle, string(data))
	}
	*n = Number(f)
	return nil
}

// wsKline mirrors the "k" object of a Binance kline event. Fields differing
// only in case are all declared so encoding/json never folds one into another.
type wsKline struct {
	StartTime            int64  `json:"t"`
	EndTime              int64  `json:"T"`
	Symbol               string `json:"s"`
	Interval             string `json:"i"`
	FirstTradeID         int64  `json:"f"`
	LastTradeID          int64  `json:"L"`
	Open                 Number `json:"o"`
	Close                Number `json:"c"`
	High                 Number `json:"h"`
	Low                  Number `json:"l"`
	Volume               Number `json:"v"`
	TradeNum             int64  `json:"n"`
	IsFinal              bool   `json:"x"`
	QuoteVolume          Number `json:"q"`
	ActiveBuyVolume      Number `json:"V"`
	ActiveBuyQuoteVolume Number `json:"Q"`
}

type wsKlineEvent struct {
	Event  string   `json:"e"`
	Time   int64    `json:"E"`
	Symbol string   `json:"s"`
	Kline  *wsKline `json:"k"`
}

// parseKlineFrame decodes one stream frame. ok is false for frames that are
// not kline events, such as subscription acknowledgements.
func parseKlineFrame(data []byte, timeframe string) (u candle.Update, ok bool, err error) {
	var ev wsKlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return candle.Update{}, false, fmt.Errorf("decode kline frame: %w", err)
	}
	if ev.Event != "kline" {
		return candle.Update{}, false, nil
	}
	if ev.Kline == nil {
		return candle.Update{}, false, fmt.Errorf("kline frame without payload")
	}

	k := ev.Kline
	c := candle.Candle{
		Timestamp: candle.MillisToTime(k.StartTime),
		Open:      float64(k.Open),
		High:      float64(k.High),
		Low:       float64(k.Low),
		Close:     float64(k.Close),
		Volume:    float64(k.Volume),
		Symbol:    ev.Symbol,
		Timeframe: timeframe,
		Source:    "binance",
	}
	if err := c.Validate(); err != nil {
		return candle.Update{}, false, err
	}
	return candle.Update{Candle: c, Closed: k.IsFinal}, true, nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// StreamName is the Binance kline stream for symbol and interval,
// e.g. btcusdt@kline_5m.
func StreamName(symbol, interval string) string {
	return strings.ToLower(NormalizeSymbol(symbol)) + "@kline_" + interval
}

func subscribePayload(id int, streams ...string) ([]byte, error) {
	return json.Marshal(subscribeRequest{Method: "SUBSCRIBE", Params: streams, ID: id})
}
