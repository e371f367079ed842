package replay

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/journal"
	"github.com/amirphl/ha-trader/internal/strategy"
)

// RunBacktest replays candles oldest first, one tick each.
func RunBacktest(ctx context.Context, candles []candle.Candle, cfg Config, registry *strategy.Registry, logger *log.Logger, sinks ...journal.Sink) (*journal.Journal, error) {
	s, err := NewSession(cfg, registry, logger, sinks...)
	if err != nil {
		return nil, err
	}
	if err := s.Replay(ctx, candles); err != nil {
		return s.Journal(), err
	}
	return s.Journal(), nil
}

// Replay feeds candles to the session one tick at a time.
func (s *Session) Replay(ctx context.Context, candles []candle.Candle) error {
	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.ProcessTick(ctx, c); err != nil {
			if err := s.badCandle(err); err != nil {
				return fmt.Errorf("tick %d: %w", i, err)
			}
		}
	}
	return nil
}

// Stream yields live candle updates. Next blocks until an update arrives,
// the stream fails or ctx is done.
type Stream interface {
	Next(ctx context.Context) (candle.Update, error)
}

// retryable is implemented by stream errors that only lose one frame.
type retryable interface {
	Retryable() bool
}

// RunLive consumes the stream until ctx is cancelled or the stream fails
// for good. onEvent, when set, sees every committed event.
func RunLive(ctx context.Context, s *Session, stream Stream, onEvent func(journal.Event)) error {
	for {
		u, err := stream.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var r retryable
			if errors.As(err, &r) && r.Retryable() {
				s.logger.Printf("RunLive | Skipping frame: %v", err)
				continue
			}
			return fmt.Errorf("live stream: %w", err)
		}

		e, err := s.Ingest(ctx, u)
		if err != nil {
			if err := s.badCandle(err); err != nil {
				return err
			}
			continue
		}
		if onEvent != nil {
			onEvent(e)
		}
	}
}
