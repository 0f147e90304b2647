package solana

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	values := []uint64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}

	assert.Equal(t, uint64(600), percentile(values, 50))
	assert.Equal(t, uint64(800), percentile(values, 75))
	assert.Equal(t, uint64(1000), percentile(values, 90))
	assert.Equal(t, uint64(0), percentile(nil, 50))
	assert.Equal(t, uint64(100), percentile([]uint64{100}, 50))
}

func TestPriorityFeeEstimator_FallbackDraw(t *testing.T) {
	e := NewPriorityFeeEstimator(FeeConfig{FallbackMin: 5000, FallbackMax: 10000}, NewStubRPCClient())
	e.rng = rand.New(rand.NewSource(1))

	// No samples yet: every draw lands inside the configured range.
	for i := 0; i < 50; i++ {
		fee := e.Estimate()
		assert.GreaterOrEqual(t, fee, uint64(5000))
		assert.LessOrEqual(t, fee, uint64(10000))
	}
}

func TestPriorityFeeEstimator_UsesP75(t *testing.T) {
	e := NewPriorityFeeEstimator(DefaultFeeConfig(), NewStubRPCClient())

	e.mu.Lock()
	e.feeP75 = 50000
	e.mu.Unlock()

	assert.Equal(t, uint64(50000), e.Estimate())

	// Ceiling enforcement.
	e.mu.Lock()
	e.feeP75 = MaxPriorityFeeMicroLamports + 1
	e.mu.Unlock()

	assert.Equal(t, uint64(MaxPriorityFeeMicroLamports), e.Estimate())
}

func TestPriorityFeeEstimator_Refresh(t *testing.T) {
	rpc := NewStubRPCClient()
	rpc.SetPriorityFees([]uint64{9000, 1000, 3000, 7000, 5000})

	e := NewPriorityFeeEstimator(DefaultFeeConfig(), rpc)
	e.refresh(context.Background())

	stats := e.Stats()
	require.Equal(t, 5, stats.Samples)
	assert.Equal(t, uint64(5000), stats.P50MicroLamports)
	assert.Equal(t, uint64(7000), stats.P75MicroLamports)
	assert.False(t, stats.LastFetch.IsZero())
}
