package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/kolwatch/kolwatch/internal/ingest"
	"github.com/kolwatch/kolwatch/internal/price"
	"github.com/kolwatch/kolwatch/internal/risk"
	"github.com/kolwatch/kolwatch/internal/social"
	solanax "github.com/kolwatch/kolwatch/internal/solana"
	"github.com/kolwatch/kolwatch/internal/trade"
)

// ---------------------------------------------------------------------------
// Configuration — YAML with ${ENV} expansion
// ---------------------------------------------------------------------------

// AppConfig holds process-level settings.
type AppConfig struct {
	LogLevel     string `yaml:"log_level"`  // debug|info|warn|error
	LogFormat    string `yaml:"log_format"` // json|text
	DatabasePath string `yaml:"database_path"`
	HTTPListen   string `yaml:"http_listen"`
}

// SocialConfig configures the timeline client. BearerToken is normally
// supplied as ${KOLWATCH_BEARER_TOKEN}.
type SocialConfig struct {
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// RiskConfig groups scoring and alerting settings.
type RiskConfig struct {
	ScorerBaseURL   string `yaml:"scorer_base_url"`
	ScorerTimeout   int    `yaml:"scorer_timeout_sec"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
}

// SolanaConfig groups chain access settings.
type SolanaConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	TimeoutSec   int               `yaml:"timeout_sec"`
	MaxRetries   int               `yaml:"max_retries"`
	RateLimitRPS float64           `yaml:"rate_limit_rps"`
	Fees         solanax.FeeConfig `yaml:"fees"`
}

// PriceConfig groups price source settings. The stream is used when ws_url
// is set; the quote API serves otherwise.
type PriceConfig struct {
	QuoteBaseURL    string `yaml:"quote_base_url"`
	QuoteTimeoutSec int    `yaml:"quote_timeout_sec"`
	SampleSOL       string `yaml:"sample_sol"`
	SlippageBps     int    `yaml:"slippage_bps"`
	WSURL           string `yaml:"ws_url"`
	WSReconnectSec  int    `yaml:"ws_reconnect_sec"`
	WSStaleAfterSec int    `yaml:"ws_stale_after_sec"`
}

// TradeConfig groups trading settings. WalletKey is the base58-encoded
// private key, normally supplied as ${KOLWATCH_WALLET_KEY}.
type TradeConfig struct {
	Enabled            bool               `yaml:"enabled"`
	DryRun             bool               `yaml:"dry_run"`
	WalletKey          string             `yaml:"wallet_key"`
	SwapBaseURL        string             `yaml:"swap_base_url"`
	SwapTimeoutSec     int                `yaml:"swap_timeout_sec"`
	ConfirmPollMs      int                `yaml:"confirm_poll_ms"`
	ConfirmTimeoutSec  int                `yaml:"confirm_timeout_sec"`
	Sizing             trade.SizingConfig `yaml:"sizing"`
	TargetMultiplier   string             `yaml:"target_multiplier"`
	RetentionFraction  string             `yaml:"retention_fraction"`
	PollIntervalSec    int                `yaml:"poll_interval_sec"`
	MonitorDeadlineMin int                `yaml:"monitor_deadline_min"`
	ScanIntervalSec    int                `yaml:"scan_interval_sec"`
	MinTradeScore      float64            `yaml:"min_trade_score"`
	MaxConcurrent      int                `yaml:"max_concurrent"`
}

// Config is the full application configuration.
type Config struct {
	App    AppConfig     `yaml:"app"`
	Social SocialConfig  `yaml:"social"`
	Ingest ingest.Config `yaml:"ingest"`
	Risk   RiskConfig    `yaml:"risk"`
	Solana SolanaConfig  `yaml:"solana"`
	Price  PriceConfig   `yaml:"price"`
	Trade  TradeConfig   `yaml:"trade"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			DatabasePath: "data/kolwatch.db",
			HTTPListen:   ":8080",
		},
		Ingest: ingest.DefaultConfig(),
		Solana: SolanaConfig{
			Endpoint:     solanax.DefaultRPCConfig().Endpoint,
			MaxRetries:   solanax.DefaultRPCConfig().MaxRetries,
			RateLimitRPS: solanax.DefaultRPCConfig().RateLimitRPS,
			Fees:         solanax.DefaultFeeConfig(),
		},
		Trade: TradeConfig{
			Sizing:            trade.DefaultSizingConfig(),
			TargetMultiplier:  "10",
			RetentionFraction: "0.15",
			MinTradeScore:     80,
			MaxConcurrent:     5,
		},
	}
}

// Load reads the YAML file at path, expanding ${ENV} references. A .env
// file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency and key material.
func (c *Config) Validate() error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.App.LogLevel)
	}
	switch c.App.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.App.LogFormat)
	}

	if len(c.Ingest.Handles) == 0 {
		return fmt.Errorf("config: at least one ingest handle is required")
	}
	if c.Ingest.AlertThreshold < 0 || c.Ingest.AlertThreshold > 100 {
		return fmt.Errorf("config: alert_threshold %v out of range 0..100", c.Ingest.AlertThreshold)
	}

	if c.Trade.Enabled {
		// Dry runs never sign, so the key may be omitted there; a key
		// that is present must parse either way.
		if c.Trade.WalletKey == "" {
			if !c.Trade.DryRun {
				return fmt.Errorf("config: wallet_key is required when trading is live")
			}
		} else {
			raw, err := base58.Decode(c.Trade.WalletKey)
			if err != nil {
				return fmt.Errorf("config: wallet_key is not base58: %w", err)
			}
			if len(raw) != 64 {
				return fmt.Errorf("config: wallet_key decodes to %d bytes, want 64", len(raw))
			}
		}
		if c.Trade.MinTradeScore < 0 || c.Trade.MinTradeScore > 100 {
			return fmt.Errorf("config: min_trade_score %v out of range 0..100", c.Trade.MinTradeScore)
		}
	}

	return nil
}

// --- Conversions to package configs ---

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// SocialHTTP returns the timeline client configuration.
func (c *Config) SocialHTTP() social.HTTPConfig {
	return social.HTTPConfig{
		BaseURL:     c.Social.BaseURL,
		BearerToken: c.Social.BearerToken,
		Timeout:     seconds(c.Social.TimeoutSec),
	}
}

// Scorer returns the risk scorer configuration.
func (c *Config) Scorer() risk.ScorerConfig {
	return risk.ScorerConfig{
		BaseURL: c.Risk.ScorerBaseURL,
		Timeout: seconds(c.Risk.ScorerTimeout),
	}
}

// RPC returns the Solana RPC configuration.
func (c *Config) RPC() solanax.RPCConfig {
	return solanax.RPCConfig{
		Endpoint:     c.Solana.Endpoint,
		Timeout:      seconds(c.Solana.TimeoutSec),
		MaxRetries:   c.Solana.MaxRetries,
		RateLimitRPS: c.Solana.RateLimitRPS,
	}
}

// Quote returns the quote price source configuration.
func (c *Config) Quote() price.QuoteConfig {
	return price.QuoteConfig{
		BaseURL:     c.Price.QuoteBaseURL,
		Timeout:     seconds(c.Price.QuoteTimeoutSec),
		SampleSOL:   c.Price.SampleSOL,
		SlippageBps: c.Price.SlippageBps,
	}
}

// Stream returns the websocket price source configuration.
func (c *Config) Stream() price.WSConfig {
	return price.WSConfig{
		URL:            c.Price.WSURL,
		ReconnectDelay: seconds(c.Price.WSReconnectSec),
		StaleAfter:     seconds(c.Price.WSStaleAfterSec),
	}
}

// Executor returns the trade executor configuration.
func (c *Config) Executor() trade.ExecutorConfig {
	return trade.ExecutorConfig{
		SwapBaseURL:         c.Trade.SwapBaseURL,
		Timeout:             seconds(c.Trade.SwapTimeoutSec),
		ConfirmPollInterval: time.Duration(c.Trade.ConfirmPollMs) * time.Millisecond,
		ConfirmTimeout:      seconds(c.Trade.ConfirmTimeoutSec),
		DryRun:              c.Trade.DryRun,
	}
}

// Controller returns the trade controller configuration.
func (c *Config) Controller() trade.ControllerConfig {
	return trade.ControllerConfig{
		TargetMultiplier:  c.Trade.TargetMultiplier,
		RetentionFraction: c.Trade.RetentionFraction,
		PollInterval:      seconds(c.Trade.PollIntervalSec),
		MonitorDeadline:   time.Duration(c.Trade.MonitorDeadlineMin) * time.Minute,
	}
}

// Dispatcher returns the trade dispatcher configuration.
func (c *Config) Dispatcher() trade.DispatcherConfig {
	return trade.DispatcherConfig{
		ScanInterval:  seconds(c.Trade.ScanIntervalSec),
		MinTradeScore: c.Trade.MinTradeScore,
		MaxConcurrent: c.Trade.MaxConcurrent,
	}
}
