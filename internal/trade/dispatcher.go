package trade

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kolwatch/kolwatch/internal/store"
)

// ---------------------------------------------------------------------------
// Dispatcher — spawn one controller per qualifying coin
// ---------------------------------------------------------------------------

// DispatcherConfig configures the trade dispatcher.
type DispatcherConfig struct {
	ScanInterval  time.Duration
	MinTradeScore float64
	MaxConcurrent int
}

// DefaultDispatcherConfig returns production defaults. MinTradeScore gates
// what gets traded; it is separate from the ingest alert threshold, which
// gates what gets flagged.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ScanInterval:  30 * time.Second,
		MinTradeScore: 80,
		MaxConcurrent: 5,
	}
}

// Runner is one trade lifecycle. Satisfied by *Controller.
type Runner interface {
	Run(ctx context.Context) State
}

// ControllerFactory builds a Runner for a mint.
type ControllerFactory func(mint string) Runner

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Active    int64  `json:"active"`
	Launched  uint64 `json:"launched"`
	Sold      uint64 `json:"sold"`
	Aborted   uint64 `json:"aborted"`
	Failed    uint64 `json:"failed"`
	Throttled uint64 `json:"throttled"`
}

// Dispatcher scans the store for qualifying coins and launches one
// controller per mint. A mint is traded at most once per process lifetime.
type Dispatcher struct {
	cfg     DispatcherConfig
	store   *store.Store
	factory ControllerFactory

	mu     sync.Mutex
	seen   map[string]struct{}
	active int64

	wg sync.WaitGroup

	launched  atomic.Uint64
	sold      atomic.Uint64
	aborted   atomic.Uint64
	failed    atomic.Uint64
	throttled atomic.Uint64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig, st *store.Store, factory ControllerFactory) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.MinTradeScore <= 0 {
		cfg.MinTradeScore = def.MinTradeScore
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		factory: factory,
		seen:    make(map[string]struct{}),
	}
}

// Start scans until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.cfg.ScanInterval)
		defer ticker.Stop()

		d.Scan(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Scan(ctx)
			}
		}
	}()
	log.Info().Dur("interval", d.cfg.ScanInterval).Float64("min_score", d.cfg.MinTradeScore).
		Msg("dispatcher: started")
}

// Wait blocks until the scan loop and every launched controller finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Scan runs one pass over qualifying coins, launching controllers up to the
// concurrency limit.
func (d *Dispatcher) Scan(ctx context.Context) {
	coins, err := d.store.Qualified(ctx, d.cfg.MinTradeScore)
	if err != nil {
		log.Error().Err(err).Msg("dispatcher: scan failed")
		return
	}

	for _, coin := range coins {
		if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		if _, dup := d.seen[coin.Address]; dup {
			d.mu.Unlock()
			continue
		}
		if d.active >= int64(d.cfg.MaxConcurrent) {
			d.mu.Unlock()
			d.throttled.Add(1)
			return
		}
		d.seen[coin.Address] = struct{}{}
		d.active++
		d.mu.Unlock()

		d.launch(ctx, coin.Address)
	}
}

func (d *Dispatcher) launch(ctx context.Context, mint string) {
	d.launched.Add(1)
	runner := d.factory(mint)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			d.active--
			d.mu.Unlock()
		}()

		switch runner.Run(ctx) {
		case Sold:
			d.sold.Add(1)
		case Aborted:
			d.aborted.Add(1)
		default:
			d.failed.Add(1)
		}
	}()
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()

	return DispatcherStats{
		Active:    active,
		Launched:  d.launched.Load(),
		Sold:      d.sold.Load(),
		Aborted:   d.aborted.Load(),
		Failed:    d.failed.Load(),
		Throttled: d.throttled.Load(),
	}
}
