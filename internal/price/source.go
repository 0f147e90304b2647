package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Price sources — SOL-denominated token prices
// ---------------------------------------------------------------------------

// Source reports the current price of a token mint in SOL per token.
type Source interface {
	CurrentPrice(ctx context.Context, mint string) (decimal.Decimal, error)
}

// QuoteConfig configures the Jupiter quote source.
type QuoteConfig struct {
	BaseURL     string
	Timeout     time.Duration
	SampleSOL   string
	SlippageBps int
}

// DefaultQuoteConfig returns production defaults.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		BaseURL:     "https://quote-api.jup.ag/v6",
		Timeout:     10 * time.Second,
		SampleSOL:   "0.01",
		SlippageBps: 50,
	}
}

const solMint = "So11111111111111111111111111111111111111112"

// QuoteSource derives a price from a Jupiter swap quote: it asks how many
// tokens a small SOL sample buys and divides. The absolute level tracks the
// pool, and the ratio is consistent across polls, which is what the target
// multiple check needs.
type QuoteSource struct {
	cfg    QuoteConfig
	client *http.Client
	sample decimal.Decimal
}

// NewQuoteSource creates a quote-backed price source.
func NewQuoteSource(cfg QuoteConfig) *QuoteSource {
	def := DefaultQuoteConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SampleSOL == "" {
		cfg.SampleSOL = def.SampleSOL
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = def.SlippageBps
	}
	sample, err := decimal.NewFromString(cfg.SampleSOL)
	if err != nil || !sample.IsPositive() {
		sample = decimal.RequireFromString(def.SampleSOL)
	}
	return &QuoteSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sample: sample,
	}
}

// CurrentPrice implements Source.
func (s *QuoteSource) CurrentPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	lamports := s.sample.Mul(decimal.NewFromInt(1_000_000_000)).Truncate(0)

	q := url.Values{}
	q.Set("inputMint", solMint)
	q.Set("outputMint", mint)
	q.Set("amount", lamports.String())
	q.Set("slippageBps", fmt.Sprintf("%d", s.cfg.SlippageBps))

	endpoint := s.cfg.BaseURL + "/quote?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price: build quote request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price: quote %s: %w", mint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price: quote %s: status %d", mint, resp.StatusCode)
	}

	var payload struct {
		OutAmount string `json:"outAmount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("price: decode quote: %w", err)
	}

	out, err := decimal.NewFromString(payload.OutAmount)
	if err != nil || !out.IsPositive() {
		return decimal.Zero, fmt.Errorf("price: quote %s: bad outAmount %q", mint, payload.OutAmount)
	}

	// SOL per raw token unit. Decimals cancel out for ratio comparisons
	// against a baseline captured the same way.
	p := s.sample.Div(out)
	log.Debug().Str("mint", mint).Str("price", p.String()).Msg("price: quote")
	return p, nil
}
