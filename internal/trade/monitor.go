package trade

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kolwatch/kolwatch/internal/price"
)

// ---------------------------------------------------------------------------
// Price monitor — poll until target, deadline, or cancellation
// ---------------------------------------------------------------------------

// Outcome is the terminal result of a watch.
type Outcome int

const (
	Reached Outcome = iota
	TimedOut
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Reached:
		return "reached"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Monitor watches token prices against targets. It only sleeps between
// polls, so any number of watches can run concurrently.
type Monitor struct {
	source price.Source
}

// NewMonitor creates a monitor over a price source.
func NewMonitor(source price.Source) *Monitor {
	return &Monitor{source: source}
}

// Watch polls mint's price every pollInterval until it reaches target,
// the deadline elapses, or ctx is cancelled. Price fetch errors are logged
// and the poll is skipped; the watch keeps going.
func (m *Monitor) Watch(ctx context.Context, mint string, target decimal.Decimal, pollInterval, deadline time.Duration) Outcome {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(deadline)
	defer timeout.Stop()

	for {
		p, err := m.source.CurrentPrice(ctx, mint)
		if err != nil {
			log.Warn().Err(err).Str("mint", mint).Msg("monitor: price fetch failed, skipping poll")
		} else if p.GreaterThanOrEqual(target) {
			log.Info().Str("mint", mint).Str("price", p.String()).Str("target", target.String()).
				Msg("monitor: target reached")
			return Reached
		}

		select {
		case <-ctx.Done():
			return Cancelled
		case <-timeout.C:
			log.Info().Str("mint", mint).Str("target", target.String()).Msg("monitor: deadline elapsed")
			return TimedOut
		case <-ticker.C:
		}
	}
}
