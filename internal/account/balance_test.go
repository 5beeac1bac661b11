package account

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticBalance(t *testing.T) {
	s := NewStaticBalance(decimal.NewFromInt(1500))
	got, err := s.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1500)))

	s.Set(decimal.NewFromInt(-1))
	_, err = s.Balance(context.Background())
	assert.ErrorIs(t, err, ErrNoBalance)
}

func TestSimulatedBalanceStaysWithinDrift(t *testing.T) {
	base := decimal.NewFromInt(1000)
	s := NewSimulatedBalance(func() decimal.Decimal { return base }, 7)
	for i := 0; i < 50; i++ {
		got, err := s.Balance(context.Background())
		require.NoError(t, err)
		assert.True(t, got.Sub(base).Abs().LessThanOrEqual(decimal.NewFromFloat(DefaultDrift)), got.String())
		assert.True(t, got.Equal(got.Round(2)), "rounded to cents")
	}
}

func TestSimulatedBalanceFloorsAtZero(t *testing.T) {
	s := NewSimulatedBalance(func() decimal.Decimal { return decimal.Zero }, 1)
	for i := 0; i < 20; i++ {
		got, err := s.Balance(context.Background())
		require.NoError(t, err)
		assert.False(t, got.IsNegative())
	}
}

func TestSimulatedBalanceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulatedBalance(func() decimal.Decimal { return decimal.Zero }, 1).Balance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
