// Package risk sizes signals against an account's risk budget and enforces
// the hard ceiling on position size.
//
// All monetary values use shopspring/decimal, never float64.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/model"
)

// DefaultCeilingMultiplier caps a position at 20x the futures balance.
const DefaultCeilingMultiplier = 20

// MoneyScale is the number of decimal places kept for sizes and risk amounts.
const MoneyScale int32 = 2

var (
	hundred = decimal.NewFromInt(100)

	// ErrSizeTooLarge is returned when a position would reach the safety ceiling.
	ErrSizeTooLarge = errors.New("risk: execution aborted: size too large")
)

// Assessment is the outcome of sizing one signal.
type Assessment struct {
	// CalculatedSize is the notional (currency units) that loses exactly
	// MaxRisk if the stop-loss is hit.
	CalculatedSize decimal.Decimal `json:"calculated_size"`

	// MaxRisk is the capital at risk: balance × riskPercent / 100.
	MaxRisk decimal.Decimal `json:"max_risk"`

	// LiquidationDistance is the percent adverse move that exhausts margin
	// at the signal's leverage (100 / leverage).
	LiquidationDistance decimal.Decimal `json:"liquidation_distance"`
}

// Calculate sizes sig against profile. It is pure and never fails: a
// degenerate signal (entry or stop non-positive, or entry == stop) sizes to
// zero while MaxRisk is still reported.
func Calculate(sig *model.Signal, profile model.AccountProfile) Assessment {
	balance := profile.FuturesBalance
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	maxRisk := balance.Mul(profile.RiskPercent).Div(hundred)

	entry := sig.Entry()
	stop := sig.StopLoss
	if !entry.IsPositive() || !stop.IsPositive() || entry.Equal(stop) {
		return Assessment{
			CalculatedSize:      decimal.Zero,
			MaxRisk:             maxRisk.Round(MoneyScale),
			LiquidationDistance: decimal.Zero,
		}
	}

	// size = maxRisk / (|entry-stop| / entry), rearranged to divide once.
	size := maxRisk.Mul(entry).Div(entry.Sub(stop).Abs())

	liq := decimal.Zero
	if sig.Leverage.IsPositive() {
		liq = hundred.Div(sig.Leverage)
	}

	return Assessment{
		CalculatedSize:      size.Round(MoneyScale),
		MaxRisk:             maxRisk.Round(MoneyScale),
		LiquidationDistance: liq,
	}
}

// StopDistance returns |entry-stop| / entry, or zero for a degenerate signal.
func StopDistance(sig *model.Signal) decimal.Decimal {
	entry := sig.Entry()
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return entry.Sub(sig.StopLoss).Abs().Div(entry)
}

// Ceiling is the hard safety limit on position size relative to balance.
type Ceiling struct {
	// Multiplier of the futures balance at which a size is rejected.
	Multiplier decimal.Decimal
}

// NewCeiling creates a ceiling; a non-positive multiplier falls back to
// DefaultCeilingMultiplier.
func NewCeiling(multiplier decimal.Decimal) *Ceiling {
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(DefaultCeilingMultiplier)
	}
	return &Ceiling{Multiplier: multiplier}
}

// Limit returns the first size that is rejected for the given balance.
func (c *Ceiling) Limit(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(c.Multiplier)
}

// Check returns ErrSizeTooLarge unless size is strictly below the limit.
func (c *Ceiling) Check(size, balance decimal.Decimal) error {
	limit := c.Limit(balance)
	if size.GreaterThanOrEqual(limit) {
		return fmt.Errorf("%w: %s >= %s", ErrSizeTooLarge, size.StringFixed(MoneyScale), limit.StringFixed(MoneyScale))
	}
	return nil
}
