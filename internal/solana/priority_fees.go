package solana

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Dynamic Priority Fees — p75 from recent slots
// ---------------------------------------------------------------------------

const (
	// MaxPriorityFeeMicroLamports is the hard ceiling per compute unit.
	MaxPriorityFeeMicroLamports = 50_000_000

	// FeeRefreshInterval is how often fee estimates are refreshed.
	FeeRefreshInterval = 15 * time.Second
)

// FeeConfig configures the priority fee estimator.
type FeeConfig struct {
	// Fallback draw range used when no fee data is available yet.
	FallbackMin uint64 `yaml:"fallback_min"`
	FallbackMax uint64 `yaml:"fallback_max"`
}

// DefaultFeeConfig returns the default fallback range.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		FallbackMin: 5_000,
		FallbackMax: 10_000,
	}
}

// PriorityFeeEstimator estimates priority fees from recent slot data.
type PriorityFeeEstimator struct {
	config FeeConfig
	rpc    RPCClient

	mu        sync.RWMutex
	feeP50    uint64
	feeP75    uint64
	feeP90    uint64
	lastFetch time.Time
	samples   int
	rng       *rand.Rand

	stopCh chan struct{}
}

// NewPriorityFeeEstimator creates an estimator that polls recent fees.
func NewPriorityFeeEstimator(config FeeConfig, rpc RPCClient) *PriorityFeeEstimator {
	if config.FallbackMax <= config.FallbackMin {
		config = DefaultFeeConfig()
	}
	return &PriorityFeeEstimator{
		config: config,
		rpc:    rpc,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic fee estimation. Call Stop() to terminate.
func (e *PriorityFeeEstimator) Start(ctx context.Context) {
	e.refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// Stop terminates the estimator.
func (e *PriorityFeeEstimator) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// Estimate returns the recommended priority fee in micro-lamports.
// Falls back to a uniform draw in the configured range until samples arrive.
func (e *PriorityFeeEstimator) Estimate() uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	if p75 == 0 {
		e.mu.Lock()
		span := e.config.FallbackMax - e.config.FallbackMin
		fee := e.config.FallbackMin + uint64(e.rng.Int63n(int64(span)+1))
		e.mu.Unlock()
		return fee
	}

	if p75 > MaxPriorityFeeMicroLamports {
		return MaxPriorityFeeMicroLamports
	}
	return p75
}

// FeeStats returns current fee estimation stats.
type FeeStats struct {
	P50MicroLamports uint64    `json:"p50_micro_lamports"`
	P75MicroLamports uint64    `json:"p75_micro_lamports"`
	P90MicroLamports uint64    `json:"p90_micro_lamports"`
	Samples          int       `json:"samples"`
	LastFetch        time.Time `json:"last_fetch"`
}

func (e *PriorityFeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		P50MicroLamports: e.feeP50,
		P75MicroLamports: e.feeP75,
		P90MicroLamports: e.feeP90,
		Samples:          e.samples,
		LastFetch:        e.lastFetch,
	}
}

// refresh fetches recent fees and recomputes percentiles.
func (e *PriorityFeeEstimator) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	values, err := e.rpc.GetRecentPriorityFees(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("priority_fees: failed to fetch recent fees")
		return
	}
	if len(values) == 0 {
		return
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e.mu.Lock()
	e.feeP50 = percentile(values, 50)
	e.feeP75 = percentile(values, 75)
	e.feeP90 = percentile(values, 90)
	e.samples = len(values)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	log.Debug().
		Uint64("p50", e.feeP50).
		Uint64("p75", e.feeP75).
		Uint64("p90", e.feeP90).
		Int("samples", len(values)).
		Msg("priority_fees: updated estimates")
}

// percentile computes the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
