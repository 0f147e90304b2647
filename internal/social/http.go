package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// HTTP source — X API v2 user timelines
// ---------------------------------------------------------------------------

// HTTPConfig configures the timeline client.
type HTTPConfig struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// DefaultHTTPConfig returns production defaults. The bearer token comes from
// the environment via config expansion, never from a default.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL: "https://api.twitter.com",
		Timeout: 10 * time.Second,
	}
}

// HTTPSource reads recent posts from the X API v2. User ID lookups are
// cached per handle for the process lifetime.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client

	mu      sync.Mutex
	userIDs map[string]string
}

// NewHTTPSource creates a timeline client.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		userIDs: make(map[string]string),
	}
}

// FetchRecent returns up to limit most-recent posts for a handle.
func (s *HTTPSource) FetchRecent(ctx context.Context, handle string, limit int) ([]Post, error) {
	userID, err := s.userID(ctx, handle)
	if err != nil {
		return nil, err
	}

	if limit < 5 {
		limit = 5 // API minimum for max_results
	}
	if limit > 100 {
		limit = 100
	}

	endpoint := fmt.Sprintf("%s/2/users/%s/tweets?max_results=%d&tweet.fields=created_at",
		s.cfg.BaseURL, userID, limit)

	var payload struct {
		Data []struct {
			ID        string    `json:"id"`
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"data"`
	}
	if err := s.get(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("social: fetch timeline for %s: %w", handle, err)
	}

	posts := make([]Post, 0, len(payload.Data))
	for _, d := range payload.Data {
		posts = append(posts, Post{
			ID:        d.ID,
			Handle:    handle,
			Text:      d.Text,
			CreatedAt: d.CreatedAt,
		})
	}

	log.Debug().Str("handle", handle).Int("posts", len(posts)).Msg("social: timeline fetched")
	return posts, nil
}

func (s *HTTPSource) userID(ctx context.Context, handle string) (string, error) {
	s.mu.Lock()
	if id, ok := s.userIDs[handle]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	endpoint := fmt.Sprintf("%s/2/users/by/username/%s", s.cfg.BaseURL, url.PathEscape(handle))

	var payload struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := s.get(ctx, endpoint, &payload); err != nil {
		return "", fmt.Errorf("social: resolve handle %s: %w", handle, err)
	}
	if payload.Data.ID == "" {
		return "", fmt.Errorf("social: handle %s not found", handle)
	}

	s.mu.Lock()
	s.userIDs[handle] = payload.Data.ID
	s.mu.Unlock()
	return payload.Data.ID, nil
}

func (s *HTTPSource) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
