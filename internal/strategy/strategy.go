// Package strategy maps a window of candles to a trading signal.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amirphl/ha-trader/internal/candle"
)

type Signal int8

const (
	Sleep Signal = iota
	Long
	Short
)

func (s Signal) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "sleep"
	}
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "sleep":
		*s = Sleep
	case "long":
		*s = Long
	case "short":
		*s = Short
	default:
		return fmt.Errorf("unknown signal %q", string(b))
	}
	return nil
}

// Strategy is the interface for all trading strategies. Evaluate must be a
// pure function of the window, which holds raw candles oldest first.
type Strategy interface {
	Name() string
	// WarmupPeriod returns the number of candles needed for a meaningful signal.
	WarmupPeriod() int
	Evaluate(window []candle.Candle) Signal
}

type Factory func() Strategy

// Registry resolves strategy identifiers case-insensitively.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ExSName, func() Strategy { return ExS{} })
	r.Register(HACrossName, func() Strategy { return NewHACross(4, 2, 3) })
	r.Register(HARSIName, func() Strategy { return NewHARSI(14, 70, 30) })
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[normalize(name)] = f
}

// Resolve returns the strategy registered under name. Unknown names resolve
// to an Unknown strategy and ok is false.
func (r *Registry) Resolve(name string) (s Strategy, ok bool) {
	f, ok := r.factories[normalize(name)]
	if !ok {
		return Unknown{Requested: name}, false
	}
	return f(), true
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const UnknownName = "unknown"

// Unknown stands in for an unrecognised identifier. It never trades.
type Unknown struct {
	Requested string
}

func (Unknown) Name() string                      { return UnknownName }
func (Unknown) WarmupPeriod() int                 { return 0 }
func (Unknown) Evaluate(_ []candle.Candle) Signal { return Sleep }
