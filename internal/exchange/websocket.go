package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/tfutils"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

type StreamConfig struct {
	URL       string
	Symbol    string
	Timeframe string
	// Policy bounds consecutive failed connection attempts. MaxAttempts 0
	// retries forever.
	Policy RetryPolicy
	// Buffer is the number of updates queued ahead of the consumer.
	Buffer int
}

type streamResult struct {
	update candle.Update
	err    error
}

// KlineStream subscribes to one Binance kline stream and reconnects with
// backoff when the connection drops. Updates are consumed with Next.
type KlineStream struct {
	cfg      StreamConfig
	interval string
	logger   *log.Logger
	dialer   *websocket.Dialer
	results  chan streamResult

	mu        sync.RWMutex
	state     ConnectionState
	healthErr error
	lastPong  time.Time
	cancel    context.CancelFunc
	started   bool
}

func NewKlineStream(cfg StreamConfig, logger *log.Logger) (*KlineStream, error) {
	interval, err := tfutils.BinanceInterval(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, errors.New("stream url is empty")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Policy.BaseDelay == 0 {
		cfg.Policy.BaseDelay = time.Second
	}
	if cfg.Policy.MaxDelay == 0 {
		cfg.Policy.MaxDelay = 60 * time.Second
	}
	if cfg.Policy.Factor == 0 {
		cfg.Policy.Factor = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &KlineStream{
		cfg:      cfg,
		interval: interval,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		results:  make(chan streamResult, cfg.Buffer),
		state:    Disconnected,
	}, nil
}

// Start connects in the background. It returns immediately; connection
// failures surface through Next.
func (s *KlineStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *KlineStream) run(ctx context.Context) {
	defer close(s.results)
	defer s.setState(Closed, nil)

	attempt := 0
	for {
		connected, err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		attempt++
		if s.cfg.Policy.MaxAttempts > 0 && attempt >= s.cfg.Policy.MaxAttempts {
			s.logger.Printf("KlineStream | Giving up after %d attempts: %v", attempt, err)
			s.emit(ctx, streamResult{err: &TransportError{Op: "connect", Err: err}})
			return
		}

		delay := s.cfg.Policy.Delay(attempt - 1)
		s.setState(Reconnecting, err)
		s.logger.Printf("KlineStream | Disconnected, retrying in %v: %v", delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndStream handles a single websocket connection session. connected
// reports whether the subscription was established.
func (s *KlineStream) connectAndStream(ctx context.Context) (connected bool, err error) {
	s.setState(Connecting, nil)

	c, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer c.Close()

	stream := StreamName(s.cfg.Symbol, s.interval)
	payload, err := subscribePayload(1, stream)
	if err != nil {
		return false, err
	}
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.state = Connected
	s.healthErr = nil
	s.lastPong = time.Now()
	s.mu.Unlock()
	s.logger.Printf("KlineStream | Subscribed to %s", stream)

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblocks ReadMessage
				c.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					s.logger.Printf("KlineStream | Ping failed: %v", err)
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return true, err
		}
		c.SetReadDeadline(time.Now().Add(readTimeout))

		u, ok, err := parseKlineFrame(message, s.cfg.Timeframe)
		switch {
		case err != nil:
			s.emit(ctx, streamResult{err: &TransportError{Op: "decode", Transient: true, Err: err}})
		case ok:
			s.emit(ctx, streamResult{update: u})
		}
	}
}

func (s *KlineStream) emit(ctx context.Context, r streamResult) {
	select {
	case s.results <- r:
	case <-ctx.Done():
	}
}

// Next blocks until the next update, a transport error or ctx is done.
func (s *KlineStream) Next(ctx context.Context) (candle.Update, error) {
	select {
	case <-ctx.Done():
		return candle.Update{}, ctx.Err()
	case r, ok := <-s.results:
		if !ok {
			return candle.Update{}, &TransportError{Op: "read", Err: ErrStreamClosed}
		}
		return r.update, r.err
	}
}

// Close stops the stream. Pending Next calls return ErrStreamClosed.
func (s *KlineStream) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *KlineStream) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Health returns the last connection error, or an error when no pong was
// seen for longer than the read timeout.
func (s *KlineStream) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.healthErr != nil {
		return s.healthErr
	}
	if s.state == Connected && time.Since(s.lastPong) > readTimeout+pingInterval {
		return fmt.Errorf("no pong since %s", s.lastPong.Format(time.RFC3339))
	}
	return nil
}

func (s *KlineStream) setState(state ConnectionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if err != nil {
		s.healthErr = err
	}
}
