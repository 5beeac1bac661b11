// Package account provides balance sources for the futures account sync.
package account

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoBalance is returned when a source cannot produce a balance.
var ErrNoBalance = errors.New("account: balance unavailable")

// StaticBalance always reports the same balance.
type StaticBalance struct {
	mu    sync.RWMutex
	value decimal.Decimal
}

func NewStaticBalance(v decimal.Decimal) *StaticBalance {
	return &StaticBalance{value: v}
}

func (s *StaticBalance) Balance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.value.IsNegative() {
		return decimal.Zero, ErrNoBalance
	}
	return s.value, nil
}

// Set replaces the reported balance.
func (s *StaticBalance) Set(v decimal.Decimal) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// SimulatedBalance moves the current balance by up to ±Drift on every read,
// floored at zero. It stands in for the exchange when no account access is
// configured.
type SimulatedBalance struct {
	current func() decimal.Decimal
	drift   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultDrift is the largest move SimulatedBalance applies per read.
const DefaultDrift = 25.0

// NewSimulatedBalance creates a source that drifts around current().
func NewSimulatedBalance(current func() decimal.Decimal, seed int64) *SimulatedBalance {
	return &SimulatedBalance{
		current: current,
		drift:   DefaultDrift,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedBalance) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	move := s.rng.Float64()*2*s.drift - s.drift
	s.mu.Unlock()

	next := s.current().Add(decimal.NewFromFloat(move)).Round(2)
	if next.IsNegative() {
		next = decimal.Zero
	}
	return next, nil
}
