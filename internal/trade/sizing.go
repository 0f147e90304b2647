package trade

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position sizing — pluggable draw of purchase amount and slippage
// ---------------------------------------------------------------------------

// Sizing is one drawn position: how much SOL to spend and the slippage
// fraction to apply.
type Sizing struct {
	AmountSOL decimal.Decimal
	Slippage  decimal.Decimal
}

// SizingPolicy produces the sizing for a new trade. Implementations must be
// safe for concurrent use.
type SizingPolicy interface {
	Draw() Sizing
}

// SizingConfig bounds the random policy's draws.
type SizingConfig struct {
	AmountMin   string `yaml:"amount_min"`
	AmountMax   string `yaml:"amount_max"`
	SlippageMin string `yaml:"slippage_min"`
	SlippageMax string `yaml:"slippage_max"`
}

// DefaultSizingConfig returns production defaults.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		AmountMin:   "0.01",
		AmountMax:   "0.05",
		SlippageMin: "0.15",
		SlippageMax: "0.25",
	}
}

// RandomSizing draws amount and slippage independently and uniformly from
// configured ranges. The jitter is intentional; do not replace it with
// fixed values.
type RandomSizing struct {
	amountMin, amountMax     decimal.Decimal
	slippageMin, slippageMax decimal.Decimal

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSizing creates the random policy. Invalid or empty bounds fall
// back to defaults.
func NewRandomSizing(cfg SizingConfig) *RandomSizing {
	def := DefaultSizingConfig()
	return &RandomSizing{
		amountMin:   parseOr(cfg.AmountMin, def.AmountMin),
		amountMax:   parseOr(cfg.AmountMax, def.AmountMax),
		slippageMin: parseOr(cfg.SlippageMin, def.SlippageMin),
		slippageMax: parseOr(cfg.SlippageMax, def.SlippageMax),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Draw implements SizingPolicy.
func (p *RandomSizing) Draw() Sizing {
	p.mu.Lock()
	a := p.rng.Float64()
	s := p.rng.Float64()
	p.mu.Unlock()

	return Sizing{
		AmountSOL: uniform(p.amountMin, p.amountMax, a),
		Slippage:  uniform(p.slippageMin, p.slippageMax, s),
	}
}

// FixedSizing always returns the same sizing. Used in tests.
type FixedSizing struct {
	Sizing Sizing
}

// Draw implements SizingPolicy.
func (p FixedSizing) Draw() Sizing { return p.Sizing }

func parseOr(s, fallback string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}

func uniform(min, max decimal.Decimal, u float64) decimal.Decimal {
	span := max.Sub(min)
	return min.Add(span.Mul(decimal.NewFromFloat(u))).Round(6)
}
