// Package market simulates a two-asset wallet trading base asset A against
// quote asset B at a single moving price.
package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderRejected = errors.New("order rejected")
	ErrInvalidRatio  = errors.New("ratio must be finite and positive")
	ErrInvalidConfig = errors.New("invalid market config")
)

// costTolerance absorbs float rounding when spending the whole B balance.
const costTolerance = 1e-9

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderRejectedError is returned when a request exceeds the available
// balance or the market limits. The market is left untouched.
type OrderRejectedError struct {
	Side   Side
	Amount float64
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("%s %.8f rejected: %s", e.Side, e.Amount, e.Reason)
}

func (e *OrderRejectedError) Unwrap() error { return ErrOrderRejected }

// Config seeds a Market.
type Config struct {
	BalanceA       float64
	BalanceB       float64
	Fee            float64
	MinTransaction float64
	StepSize       float64
}

// Market holds the wallet. Ratio is the price of one unit of A in B.
// Fees are charged on the acquired leg and accumulated in B units.
type Market struct {
	BalanceA       float64 `json:"balance_a"`
	BalanceB       float64 `json:"balance_b"`
	Ratio          float64 `json:"ratio"`
	Fee            float64 `json:"fee"`
	MinTransaction float64 `json:"min_transaction"`
	StepSize       float64 `json:"step_size"`
	FeesPaid       float64 `json:"fees_paid"`
	Trades         int     `json:"trades"`
}

func New(cfg Config) (Market, error) {
	switch {
	case !finite(cfg.BalanceA) || cfg.BalanceA < 0:
		return Market{}, fmt.Errorf("%w: balance A %v", ErrInvalidConfig, cfg.BalanceA)
	case !finite(cfg.BalanceB) || cfg.BalanceB < 0:
		return Market{}, fmt.Errorf("%w: balance B %v", ErrInvalidConfig, cfg.BalanceB)
	case !finite(cfg.Fee) || cfg.Fee < 0 || cfg.Fee >= 1:
		return Market{}, fmt.Errorf("%w: fee %v not in [0, 1)", ErrInvalidConfig, cfg.Fee)
	case cfg.MinTransaction < 0 || cfg.StepSize < 0:
		return Market{}, fmt.Errorf("%w: negative limits", ErrInvalidConfig)
	}
	return Market{
		BalanceA:       cfg.BalanceA,
		BalanceB:       cfg.BalanceB,
		Fee:            cfg.Fee,
		MinTransaction: cfg.MinTransaction,
		StepSize:       cfg.StepSize,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UpdateRatio sets the current price of A in B.
func (m *Market) UpdateRatio(ratio float64) error {
	if !finite(ratio) || ratio <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	m.Ratio = ratio
	return nil
}

// RatioBToA is the price of one unit of B in A.
func (m Market) RatioBToA() float64 {
	if m.Ratio == 0 {
		return 0
	}
	return 1 / m.Ratio
}

// AInB values the A balance in B.
func (m Market) AInB() float64 { return m.BalanceA * m.Ratio }

// BInA values the B balance in A.
func (m Market) BInA() float64 { return m.BalanceB * m.RatioBToA() }

// TotalInB values the whole wallet in B.
func (m Market) TotalInB() float64 { return m.AInB() + m.BalanceB }

// Buy acquires amountA units of A paying amountA*Ratio units of B.
func (m *Market) Buy(amountA float64) error {
	amount, err := m.checkAmount(Buy, amountA)
	if err != nil || amount == 0 {
		return err
	}
	cost := amount * m.Ratio
	if cost > m.BalanceB {
		if cost-m.BalanceB > costTolerance*math.Max(1, m.BalanceB) {
			return m.reject(Buy, amountA, fmt.Sprintf("cost %.8f exceeds balance B %.8f", cost, m.BalanceB))
		}
		cost = m.BalanceB
	}

	m.BalanceA += amount * (1 - m.Fee)
	m.BalanceB -= cost
	m.FeesPaid += amount * m.Fee * m.Ratio
	m.Trades++
	return nil
}

// Sell disposes of amountA units of A receiving amountA*Ratio units of B.
func (m *Market) Sell(amountA float64) error {
	amount, err := m.checkAmount(Sell, amountA)
	if err != nil || amount == 0 {
		return err
	}
	if amount > m.BalanceA {
		return m.reject(Sell, amountA, fmt.Sprintf("amount exceeds balance A %.8f", m.BalanceA))
	}

	proceeds := amount * m.Ratio
	m.BalanceA -= amount
	m.BalanceB += proceeds * (1 - m.Fee)
	m.FeesPaid += proceeds * m.Fee
	m.Trades++
	return nil
}

// BuyMax spends all of B the step size allows. Leftover below one step is
// not an order, so it returns nil without trading.
func (m *Market) BuyMax() error {
	amount := m.quantize(m.BInA())
	if amount == 0 {
		return nil
	}
	return m.Buy(amount)
}

// SellMax sells all of A the step size allows. Like BuyMax, dust below one
// step is left untouched.
func (m *Market) SellMax() error {
	amount := m.quantize(m.BalanceA)
	if amount == 0 {
		return nil
	}
	return m.Sell(amount)
}

// checkAmount validates a request and floors it to the step size. A zero
// request is a valid no-op.
func (m *Market) checkAmount(side Side, amountA float64) (float64, error) {
	if !finite(amountA) || amountA < 0 {
		return 0, m.reject(side, amountA, "amount must be finite and non-negative")
	}
	if amountA == 0 {
		return 0, nil
	}
	if m.Ratio <= 0 {
		return 0, m.reject(side, amountA, "no price set")
	}
	amount := m.quantize(amountA)
	if amount == 0 {
		return 0, m.reject(side, amountA, fmt.Sprintf("amount below step size %v", m.StepSize))
	}
	if amount < m.MinTransaction {
		return 0, m.reject(side, amountA, fmt.Sprintf("amount below minimum transaction %v", m.MinTransaction))
	}
	return amount, nil
}

func (m *Market) quantize(amount float64) float64 {
	if m.StepSize <= 0 {
		return amount
	}
	step := decimal.NewFromFloat(m.StepSize)
	q, _ := decimal.NewFromFloat(amount).Div(step).Floor().Mul(step).Float64()
	return q
}

func (m *Market) reject(side Side, amount float64, reason string) error {
	return &OrderRejectedError{Side: side, Amount: amount, Reason: reason}
}
