package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Alert flags an address whose score fell below the threshold.
type Alert struct {
	Address   string    `json:"address"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// AlertSink delivers alerts. Delivery failures are the sink's problem;
// scoring never blocks on them.
type AlertSink interface {
	Deliver(ctx context.Context, alert Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct{}

// Deliver implements AlertSink.
func (LogSink) Deliver(_ context.Context, alert Alert) error {
	log.Warn().
		Str("address", alert.Address).
		Float64("score", alert.Score).
		Float64("threshold", alert.Threshold).
		Str("source", alert.Source).
		Msg("risk: low score alert")
	return nil
}

// WebhookSink posts alerts as JSON to an HTTP endpoint.
type WebhookSink struct {
	URL    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver implements AlertSink.
func (s *WebhookSink) Deliver(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("risk: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("risk: build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("risk: deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("risk: alert webhook status %d", resp.StatusCode)
	}
	return nil
}
