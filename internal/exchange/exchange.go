// Package exchange fetches candles from venues and streams live klines.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/ha-trader/internal/candle"
)

var (
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("exchange unavailable")
	ErrStreamClosed   = errors.New("stream closed")
)

// HistorySource returns closed candles in [start, end), oldest first.
type HistorySource interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)
}

// TransportError is a failure at the transport boundary. Transient errors
// lose a single frame or request; the others end the stream.
type TransportError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s transport error: %v", e.Op, kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Retryable() bool { return e.Transient }

// RetryPolicy configures exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    time.Minute,
	Factor:      2,
	Jitter:      0.1,
}

// Delay returns the wait before retry number attempt (0 based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return calculateRetryDelay(attempt, p.BaseDelay, p.MaxDelay, p.Factor, p.Jitter)
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// ±jitterRange of the delay
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retry runs fn until it succeeds, fails with a non retryable error or the
// policy is exhausted.
func retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// closedOnly keeps candles that are complete at now and inside [start, end).
func closedOnly(candles []candle.Candle, start, end, now time.Time) []candle.Candle {
	out := candles[:0]
	for _, c := range candles {
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) || !c.IsComplete(now) {
			continue
		}
		out = append(out, c)
	}
	return out
}
