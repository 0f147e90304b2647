package price

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Streaming source — websocket price feed with reconnect
// ---------------------------------------------------------------------------

// WSConfig configures the streaming price source.
type WSConfig struct {
	URL            string
	ReconnectDelay time.Duration
	StaleAfter     time.Duration
}

// DefaultWSConfig returns production defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay: 5 * time.Second,
		StaleAfter:     2 * time.Minute,
	}
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// WSSource keeps a live price cache fed by a websocket stream. Subscribed
// mints survive reconnects. CurrentPrice serves from the cache and fails on
// missing or stale entries rather than guessing.
type WSSource struct {
	cfg WSConfig

	mu    sync.Mutex
	conn  *websocket.Conn
	subs  map[string]struct{}
	ticks map[string]tick
}

// NewWSSource creates a streaming source. Call Start to begin receiving.
func NewWSSource(cfg WSConfig) *WSSource {
	def := DefaultWSConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &WSSource{
		cfg:   cfg,
		subs:  make(map[string]struct{}),
		ticks: make(map[string]tick),
	}
}

// Start runs the read loop until ctx is cancelled, reconnecting on failure.
func (s *WSSource) Start(ctx context.Context) {
	go func() {
		for {
			if err := s.runOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("price: stream disconnected")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
		}
	}()
}

// Subscribe adds a mint to the stream.
func (s *WSSource) Subscribe(mint string) {
	s.mu.Lock()
	s.subs[mint] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.sendSubscribe(conn, []string{mint})
	}
}

// CurrentPrice implements Source.
func (s *WSSource) CurrentPrice(_ context.Context, mint string) (decimal.Decimal, error) {
	s.mu.Lock()
	t, ok := s.ticks[mint]
	s.mu.Unlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("price: no stream data for %s", mint)
	}
	if time.Since(t.at) > s.cfg.StaleAfter {
		return decimal.Zero, fmt.Errorf("price: stale stream data for %s", mint)
	}
	return t.price, nil
}

func (s *WSSource) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	mints := make([]string, 0, len(s.subs))
	for m := range s.subs {
		mints = append(mints, m)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if len(mints) > 0 {
		if err := s.sendSubscribe(conn, mints); err != nil {
			return err
		}
	}

	// The watcher must not outlive this connection attempt, or reconnect
	// cycles pile one up per dial.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Str("url", s.cfg.URL).Int("mints", len(mints)).Msg("price: stream connected")

	for {
		var msg struct {
			Mint  string `json:"mint"`
			Price string `json:"price"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		p, err := decimal.NewFromString(msg.Price)
		if err != nil || msg.Mint == "" {
			log.Debug().Str("mint", msg.Mint).Str("price", msg.Price).Msg("price: dropped bad tick")
			continue
		}

		s.mu.Lock()
		s.ticks[msg.Mint] = tick{price: p, at: time.Now()}
		s.mu.Unlock()
	}
}

func (s *WSSource) sendSubscribe(conn *websocket.Conn, mints []string) error {
	payload, _ := json.Marshal(map[string]any{"op": "subscribe", "mints": mints})
	return conn.WriteMessage(websocket.TextMessage, payload)
}
