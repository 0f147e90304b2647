package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Risk scoring — external contract safety score, 0..100
// ---------------------------------------------------------------------------

// DefaultAlertThreshold is the score below which an address is flagged.
const DefaultAlertThreshold = 80.0

// Score is a risk assessment for one address. Value is 0..100; higher is
// safer.
type Score struct {
	Value float64
	Raw   json.RawMessage
}

// Scorer produces a risk score for a token address.
type Scorer interface {
	Score(ctx context.Context, address string) (Score, error)
}

// UnavailableError reports that a score could not be produced right now.
// Callers leave the address unscored and retry on a later pass.
type UnavailableError struct {
	Address string
	Reason  string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("risk: score unavailable for %s: %s", e.Address, e.Reason)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// ScorerConfig configures the HTTP scorer.
type ScorerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultScorerConfig returns production defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		BaseURL: "https://solanasniffer.com/api/token",
		Timeout: 10 * time.Second,
	}
}

// HTTPScorer fetches scores from a token-safety API.
type HTTPScorer struct {
	cfg    ScorerConfig
	client *http.Client
}

// NewHTTPScorer creates an HTTP-backed scorer.
func NewHTTPScorer(cfg ScorerConfig) *HTTPScorer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultScorerConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerConfig().Timeout
	}
	return &HTTPScorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Score implements Scorer. Upstream failures of any kind come back as
// UnavailableError; a score is never fabricated.
func (s *HTTPScorer) Score(ctx context.Context, address string) (Score, error) {
	endpoint := s.cfg.BaseURL + "/" + address

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Score{}, fmt.Errorf("risk: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Score{}, &UnavailableError{Address: address, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Score{}, &UnavailableError{
			Address: address,
			Reason:  fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	var payload struct {
		Score *float64 `json:"score"`
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Score{}, &UnavailableError{Address: address, Reason: "malformed response"}
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Score{}, &UnavailableError{Address: address, Reason: "malformed response"}
	}
	if payload.Score == nil {
		return Score{}, &UnavailableError{Address: address, Reason: "score field missing"}
	}

	log.Debug().Str("address", address).Float64("score", *payload.Score).Msg("risk: scored")
	return Score{Value: *payload.Score, Raw: raw}, nil
}

// StubScorer serves fixed scores in tests. Addresses without an entry are
// reported unavailable.
type StubScorer struct {
	Scores map[string]float64
}

// Score implements Scorer.
func (s *StubScorer) Score(_ context.Context, address string) (Score, error) {
	v, ok := s.Scores[address]
	if !ok {
		return Score{}, &UnavailableError{Address: address, Reason: "no stub entry"}
	}
	return Score{Value: v}, nil
}
