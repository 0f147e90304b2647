package trade

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kolwatch/kolwatch/internal/price"
)

// ---------------------------------------------------------------------------
// Trade controller — one trade lifecycle as a state machine
// ---------------------------------------------------------------------------

// State is a trade lifecycle state.
type State string

const (
	Pending       State = "pending"
	Bought        State = "bought"
	Monitoring    State = "monitoring"
	TargetReached State = "target_reached"
	Sold          State = "sold"
	Aborted       State = "aborted"
	Failed        State = "failed"
)

// FeeSource supplies the priority fee for the next submission.
type FeeSource interface {
	Estimate() uint64
}

// ControllerConfig configures a trade lifecycle.
type ControllerConfig struct {
	TargetMultiplier  string
	RetentionFraction string
	PollInterval      time.Duration
	MonitorDeadline   time.Duration
}

// DefaultControllerConfig returns production defaults: take profit at 10x,
// keep a 15% moonbag.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		TargetMultiplier:  "10",
		RetentionFraction: "0.15",
		PollInterval:      10 * time.Second,
		MonitorDeadline:   24 * time.Hour,
	}
}

// Controller drives a single (wallet, mint) trade from sizing through buy,
// monitor, and sell. It never retries a buy or sell; a typed failure ends
// the trade.
type Controller struct {
	id     string
	mint   string
	cfg    ControllerConfig
	exec   Executor
	prices price.Source
	fees   FeeSource
	sizing SizingPolicy

	target    decimal.Decimal
	retention decimal.Decimal

	mu      sync.Mutex
	state   State
	history []State

	logger zerolog.Logger
}

// NewController creates a controller in Pending.
func NewController(cfg ControllerConfig, mint string, exec Executor, prices price.Source, fees FeeSource, sizing SizingPolicy) *Controller {
	def := DefaultControllerConfig()
	if cfg.TargetMultiplier == "" {
		cfg.TargetMultiplier = def.TargetMultiplier
	}
	if cfg.RetentionFraction == "" {
		cfg.RetentionFraction = def.RetentionFraction
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MonitorDeadline <= 0 {
		cfg.MonitorDeadline = def.MonitorDeadline
	}

	id := uuid.NewString()[:12]
	c := &Controller{
		id:        id,
		mint:      mint,
		cfg:       cfg,
		exec:      exec,
		prices:    prices,
		fees:      fees,
		sizing:    sizing,
		target:    parseOr(cfg.TargetMultiplier, def.TargetMultiplier),
		retention: parseOr(cfg.RetentionFraction, def.RetentionFraction),
		logger:    log.With().Str("trade", id).Str("mint", mint).Logger(),
	}
	c.setState(Pending)
	return c
}

// ID returns the controller's trade ID.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state entered, in order.
func (c *Controller) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.history = append(c.history, s)
	c.mu.Unlock()
	c.logger.Info().Str("state", string(s)).Msg("trade: state")
}

// Run executes the full lifecycle and returns the terminal state.
// Cancellation takes effect at the monitoring stage; an in-flight buy or
// sell submission always runs to completion first.
func (c *Controller) Run(ctx context.Context) State {
	sizing := c.sizing.Draw()
	c.logger.Info().
		Str("amount_sol", sizing.AmountSOL.String()).
		Str("slippage", sizing.Slippage.String()).
		Msg("trade: sized")

	entry, err := c.prices.CurrentPrice(ctx, c.mint)
	if err != nil || !entry.IsPositive() {
		c.logger.Error().Err(err).Msg("trade: no entry price")
		c.setState(Failed)
		return Failed
	}
	targetPrice := entry.Mul(c.target)

	// Submissions are detached from ctx so a shutdown mid-flight cannot
	// orphan an on-chain side effect; the executor's own timeouts bound them.
	buy, err := c.exec.Buy(context.WithoutCancel(ctx), c.mint, sizing.AmountSOL, sizing.Slippage, c.fees.Estimate())
	if err != nil {
		c.logger.Error().Err(err).Msg("trade: buy failed")
		c.setState(Failed)
		return Failed
	}
	c.setState(Bought)
	c.logger.Info().
		Str("entry_price", entry.String()).
		Str("target_price", targetPrice.String()).
		Str("tokens", buy.TokensAcquired.String()).
		Msg("trade: position opened")

	c.setState(Monitoring)
	outcome := NewMonitor(c.prices).Watch(ctx, c.mint, targetPrice, c.cfg.PollInterval, c.cfg.MonitorDeadline)
	if outcome != Reached {
		c.logger.Info().Str("outcome", outcome.String()).Msg("trade: monitor ended without target")
		c.setState(Aborted)
		return Aborted
	}
	c.setState(TargetReached)

	sellAmount := buy.TokensAcquired.Mul(decimal.NewFromInt(1).Sub(c.retention))
	if _, err := c.exec.Sell(context.WithoutCancel(ctx), c.mint, buy.TokenAccount, sellAmount, sizing.Slippage, c.fees.Estimate()); err != nil {
		c.logger.Error().Err(err).Msg("trade: sell failed")
		c.setState(Failed)
		return Failed
	}

	c.setState(Sold)
	c.logger.Info().
		Str("sold", sellAmount.String()).
		Str("moonbag", buy.TokensAcquired.Sub(sellAmount).String()).
		Msg("trade: closed with moonbag retained")
	return Sold
}
